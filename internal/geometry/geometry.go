// Package geometry loads the precomputed ray geometry bundle: per-segment
// ray origins and direction cosines, aperture masks and the reference
// autocorrelation products, stored as a NumPy npz archive.
package geometry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/sbinet/npyio/npz"

	"github.com/banshee-data/domeseeing/internal/pssn"
	"github.com/banshee-data/domeseeing/internal/raytrace"
	"github.com/banshee-data/domeseeing/internal/units"
)

var (
	// ErrMissingArray is returned when a required array is absent.
	ErrMissingArray = errors.New("geometry: missing array")
	// ErrShapeMismatch is returned when array shapes disagree.
	ErrShapeMismatch = errors.New("geometry: shape mismatch")
	// ErrNoReference is returned when no reference matches a wavelength.
	ErrNoReference = errors.New("geometry: no reference for wavelength")
)

// Relay surfaces bounding the three traced segments.
const (
	Source = iota // ray origins above the enclosure
	M1            // primary mirror
	M2            // secondary mirror
	ExitPupil     // exit pupil
	surfaces
)

// Bundle is the typed geometry for one telescope pointing. All per-ray
// arrays have NPx² entries in row-major pupil order.
type Bundle struct {
	NPx int
	// Mask admits rays through the entrance pupil.
	Mask []bool
	// Valid is the overall vignetting mask, nil when absent.
	Valid []bool
	// SegmentValid holds optional per-segment vignetting masks.
	SegmentValid [surfaces - 1][]bool
	// XYZ are the ray intersections with each relay surface.
	XYZ [surfaces][][3]float64
	// KLM are the direction cosines leaving each surface.
	KLM [surfaces - 1][][3]float64

	references map[string]*pssn.Reference
}

// Load decodes a geometry bundle from an npz archive.
func Load(r io.ReaderAt, size int64) (*Bundle, error) {
	zr, err := npz.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open geometry npz: %w", err)
	}
	return decode(newArchive(zr))
}

// LoadBytes decodes a geometry bundle held in memory.
func LoadBytes(b []byte) (*Bundle, error) {
	return Load(bytes.NewReader(b), int64(len(b)))
}

func decode(a *archive) (*Bundle, error) {
	mask, err := a.bools("m")
	if err != nil {
		return nil, err
	}
	nPx := int(math.Round(math.Sqrt(float64(len(mask)))))
	if nPx*nPx != len(mask) {
		return nil, fmt.Errorf("mask m has %d entries, not a square raster: %w", len(mask), ErrShapeMismatch)
	}
	if a.has("nPx") {
		declared, err := a.scalar("nPx")
		if err != nil {
			return nil, err
		}
		if int(declared) != nPx {
			return nil, fmt.Errorf("nPx %d but mask is %dx%d: %w", int(declared), nPx, nPx, ErrShapeMismatch)
		}
	}
	b := &Bundle{NPx: nPx, Mask: mask, references: make(map[string]*pssn.Reference)}
	n := len(mask)

	if a.has("v") {
		if b.Valid, err = a.boolsN("v", n); err != nil {
			return nil, err
		}
	}
	for k := range b.SegmentValid {
		name := fmt.Sprintf("v%d", k)
		if a.has(name) {
			if b.SegmentValid[k], err = a.boolsN(name, n); err != nil {
				return nil, err
			}
		}
	}

	if a.has("xyz") {
		// Stacked layout: xyz is (surfaces, n, 3) and klm is (segments, n, 3).
		xyz, err := a.stacked("xyz", n)
		if err != nil {
			return nil, err
		}
		klm, err := a.stacked("klm", n)
		if err != nil {
			return nil, err
		}
		if len(xyz) < surfaces || len(klm) < surfaces-1 {
			return nil, fmt.Errorf("stacked xyz has %d surfaces and klm %d: %w", len(xyz), len(klm), ErrShapeMismatch)
		}
		copy(b.XYZ[:], xyz)
		copy(b.KLM[:], klm)
	} else {
		for s := range b.XYZ {
			if b.XYZ[s], err = a.vectors(fmt.Sprintf("xyz%d", s), n); err != nil {
				return nil, err
			}
		}
		for s := range b.KLM {
			if b.KLM[s], err = a.vectors(fmt.Sprintf("klm%d", s), n); err != nil {
				return nil, err
			}
		}
	}

	for _, prefix := range []string{"", units.VBand + "_", units.HBand + "_"} {
		if !a.has(prefix+"C") || !a.has(prefix+"AW0") {
			continue
		}
		ref, err := a.reference(prefix+"C", prefix+"AW0")
		if err != nil {
			return nil, err
		}
		b.references[strings.TrimSuffix(prefix, "_")] = ref
	}
	return b, nil
}

// Len returns the number of rays.
func (b *Bundle) Len() int {
	return b.NPx * b.NPx
}

// segmentValid combines the overall and per-segment vignetting masks.
func (b *Bundle) segmentValid(k int) []bool {
	if b.Valid == nil && b.SegmentValid[k] == nil {
		return nil
	}
	out := make([]bool, b.Len())
	for i := range out {
		out[i] = (b.Valid == nil || b.Valid[i]) && (b.SegmentValid[k] == nil || b.SegmentValid[k][i])
	}
	return out
}

func heights(v [][3]float64) []float64 {
	z := make([]float64, len(v))
	for i := range v {
		z[i] = v[i][2]
	}
	return z
}

// Segments returns the three relay legs traced through the enclosure:
// from the top of the CFD volume down to M1, from M1 up to M2, and from M2
// down to the exit pupil. zTop is the highest z covered by the field.
func (b *Bundle) Segments(zTop float64) []raytrace.Segment {
	top := make([]float64, b.Len())
	for i := range top {
		top[i] = zTop
	}
	return []raytrace.Segment{
		{
			Origins:    b.XYZ[Source],
			Directions: b.KLM[Source],
			StartZ:     heights(b.XYZ[M1]),
			EndZ:       top,
			Valid:      b.segmentValid(0),
		},
		{
			Origins:    b.XYZ[M1],
			Directions: b.KLM[M1],
			StartZ:     heights(b.XYZ[M1]),
			EndZ:       heights(b.XYZ[M2]),
			Valid:      b.segmentValid(1),
		},
		{
			Origins:    b.XYZ[M2],
			Directions: b.KLM[M2],
			StartZ:     heights(b.XYZ[ExitPupil]),
			EndZ:       heights(b.XYZ[M2]),
			Valid:      b.segmentValid(2),
		},
	}
}

// Reference returns the reference autocorrelation for a wavelength: the
// band specific V_/H_ arrays when the wavelength is a standard band,
// otherwise the plain C/AW0 pair.
func (b *Bundle) Reference(wavelengthMicrons float64) (*pssn.Reference, error) {
	if band, ok := units.BandForWavelength(wavelengthMicrons); ok {
		if ref, ok := b.references[band]; ok {
			return ref, nil
		}
	}
	if ref, ok := b.references[""]; ok {
		return ref, nil
	}
	return nil, fmt.Errorf("%g µm: %w", wavelengthMicrons, ErrNoReference)
}

// ReferenceBands lists the reference sets present, "" for the plain one.
func (b *Bundle) ReferenceBands() []string {
	out := make([]string, 0, len(b.references))
	for k := range b.references {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
