// Package archive writes reduction outputs: an npz holding the OPD map and
// its scalar summaries, and a JSON summary for quick inspection.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path"
	"time"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/domeseeing/internal/blobstore"
	"github.com/banshee-data/domeseeing/internal/raytrace"
)

// Result is the outcome of one reduction.
type Result struct {
	CaseKey           string
	WavelengthMicrons float64
	OPD               *raytrace.OPDMap
	// PSSn is nil when the sharpness stage did not run.
	PSSn      *float64
	Stats     raytrace.Stats
	Version   string
	CreatedAt time.Time
}

// NewResult fills Stats from the OPD map.
func NewResult(caseKey string, wavelengthMicrons float64, opd *raytrace.OPDMap, pssn *float64) *Result {
	return &Result{
		CaseKey:           caseKey,
		WavelengthMicrons: wavelengthMicrons,
		OPD:               opd,
		PSSn:              pssn,
		Stats:             opd.Stats(),
	}
}

// OutputKey names the npz written for an input sample key.
func OutputKey(inputKey string) string {
	return ArtifactKey(inputKey, ".npz")
}

// SummaryKey names the JSON summary written next to the npz.
func SummaryKey(inputKey string) string {
	return ArtifactKey(inputKey, ".json")
}

// ArtifactKey names an output derived from an input sample key:
// "dir/optvol.csv.gz" with ext ".png" becomes "dir/reduced_optvol.png".
func ArtifactKey(inputKey, ext string) string {
	return withDir(inputKey, "reduced_"+blobstore.Stem(inputKey)+ext)
}

func withDir(inputKey, name string) string {
	if dir := path.Dir(inputKey); dir != "." {
		return path.Join(dir, name)
	}
	return name
}

// WriteNPZ writes the result arrays. opd is NPx×NPx when the map is a
// square pupil and flat otherwise; PSSn is NaN when not computed.
func WriteNPZ(w io.Writer, res *Result) error {
	if res == nil || res.OPD == nil {
		return fmt.Errorf("archive: no OPD map")
	}
	pssn := math.NaN()
	if res.PSSn != nil {
		pssn = *res.PSSn
	}

	zw := npz.NewWriter(w)
	arrays := []struct {
		name string
		v    interface{}
	}{
		{"opd", opdArray(res.OPD)},
		{"PSSn", []float64{pssn}},
		{"opd_max", []float64{res.Stats.Max}},
		{"opd_min", []float64{res.Stats.Min}},
		{"opd_rms", []float64{res.Stats.RMS}},
		{"wavelength_um", []float64{res.WavelengthMicrons}},
	}
	for _, a := range arrays {
		if err := zw.Write(a.name, a.v); err != nil {
			zw.Close()
			return fmt.Errorf("archive: write %s: %w", a.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: close npz: %w", err)
	}
	return nil
}

func opdArray(m *raytrace.OPDMap) interface{} {
	if m.Raster() == nil {
		return m.Values
	}
	vals := make([]float64, len(m.Values))
	copy(vals, m.Values)
	return mat.NewDense(m.NPx, m.NPx, vals)
}

// EncodeNPZ returns the npz bytes for res.
func EncodeNPZ(res *Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteNPZ(&buf, res); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Summary is the JSON form of a Result. Non-finite statistics are null.
type Summary struct {
	CaseKey           string   `json:"case_key"`
	WavelengthMicrons float64  `json:"wavelength_um"`
	NPx               int      `json:"npx"`
	Rays              int      `json:"rays"`
	ValidRays         int      `json:"valid_rays"`
	PSSn              *float64 `json:"pssn"`
	OPDRMS            *float64 `json:"opd_rms"`
	OPDPV             *float64 `json:"opd_pv"`
	OPDMin            *float64 `json:"opd_min"`
	OPDMax            *float64 `json:"opd_max"`
	Version           string   `json:"version,omitempty"`
	CreatedAt         string   `json:"created_at,omitempty"`
}

// NewSummary converts res for JSON output.
func NewSummary(res *Result) Summary {
	s := Summary{
		CaseKey:           res.CaseKey,
		WavelengthMicrons: res.WavelengthMicrons,
		ValidRays:         res.Stats.Count,
		OPDRMS:            finiteOrNil(res.Stats.RMS),
		OPDPV:             finiteOrNil(res.Stats.PV),
		OPDMin:            finiteOrNil(res.Stats.Min),
		OPDMax:            finiteOrNil(res.Stats.Max),
		Version:           res.Version,
	}
	if res.OPD != nil {
		s.NPx = res.OPD.NPx
		s.Rays = len(res.OPD.Values)
	}
	if res.PSSn != nil {
		s.PSSn = finiteOrNil(*res.PSSn)
	}
	if !res.CreatedAt.IsZero() {
		s.CreatedAt = res.CreatedAt.UTC().Format(time.RFC3339)
	}
	return s
}

// EncodeSummary returns the indented JSON summary of res.
func EncodeSummary(res *Result) ([]byte, error) {
	b, err := json.MarshalIndent(NewSummary(res), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: marshal summary: %w", err)
	}
	return b, nil
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
