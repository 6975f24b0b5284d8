package testutil

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"testing"

	"github.com/sbinet/npyio/npz"

	"github.com/banshee-data/domeseeing/internal/cfd"
)

// SamplesCSV encodes samples in the optvol column layout: one header row,
// then temperature, pressure, x, y, z.
func SamplesCSV(t testing.TB, set *cfd.SampleSet) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"Temperature (K)", "Pressure (Pa)", "X (m)", "Y (m)", "Z (m)"}}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, s := range set.Samples {
		rows = append(rows, []string{f(s.T), "75000", f(s.X), f(s.Y), f(s.Z)})
	}
	if err := w.WriteAll(rows); err != nil {
		t.Fatalf("write samples csv: %v", err)
	}
	return buf.Bytes()
}

// PupilRays describes a square bundle of vertical rays used to build
// geometry fixtures.
type PupilRays struct {
	NPx     int
	Spacing float64    // pupil sampling in metres, centred on the axis
	Heights [4]float64 // z of the source, M1, M2 and exit pupil surfaces
	Mask    []bool     // nil admits every ray
	C       []float64  // optional reference, written as C/AW0
	AW0     []complex128
}

type namedArray struct {
	name string
	v    interface{}
}

// GeometryNPZ writes p as a geometry bundle: rays travel down from the
// source to M1, up to M2 and down to the exit pupil.
func GeometryNPZ(t testing.TB, p PupilRays) []byte {
	t.Helper()
	n := p.NPx * p.NPx
	mask := p.Mask
	if mask == nil {
		mask = make([]bool, n)
		for i := range mask {
			mask[i] = true
		}
	}

	at := func(z float64) []float64 {
		v := make([]float64, 0, 3*n)
		for r := 0; r < p.NPx; r++ {
			for c := 0; c < p.NPx; c++ {
				x := (float64(c) - float64(p.NPx-1)/2) * p.Spacing
				y := (float64(r) - float64(p.NPx-1)/2) * p.Spacing
				v = append(v, x, y, z)
			}
		}
		return v
	}
	dir := func(m float64) []float64 {
		v := make([]float64, 0, 3*n)
		for i := 0; i < n; i++ {
			v = append(v, 0, 0, m)
		}
		return v
	}

	arrays := []namedArray{
		{"m", mask},
		{"nPx", []int64{int64(p.NPx)}},
		{"xyz0", at(p.Heights[0])},
		{"xyz1", at(p.Heights[1])},
		{"xyz2", at(p.Heights[2])},
		{"xyz3", at(p.Heights[3])},
		{"klm0", dir(-1)},
		{"klm1", dir(1)},
		{"klm2", dir(-1)},
	}
	if p.C != nil {
		arrays = append(arrays, namedArray{"C", p.C}, namedArray{"AW0", p.AW0})
	}

	var buf bytes.Buffer
	w := npz.NewWriter(&buf)
	for _, a := range arrays {
		if err := w.Write(a.name, a.v); err != nil {
			t.Fatalf("write %s: %v", a.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close npz: %v", err)
	}
	return buf.Bytes()
}
