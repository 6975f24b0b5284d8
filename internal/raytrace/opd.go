package raytrace

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// OPDMap holds one optical path difference per ray in metres. NaN marks
// vignetted rays. When NPx > 0 the values are a row-major NPx×NPx pupil.
type OPDMap struct {
	Values []float64
	NPx    int
}

// Raster returns row views into Values. It returns nil when the map is not
// square.
func (m *OPDMap) Raster() [][]float64 {
	if m.NPx <= 0 || len(m.Values) != m.NPx*m.NPx {
		return nil
	}
	rows := make([][]float64, m.NPx)
	for i := range rows {
		rows[i] = m.Values[i*m.NPx : (i+1)*m.NPx : (i+1)*m.NPx]
	}
	return rows
}

// Stats summarises the finite entries of an OPD map.
type Stats struct {
	Count int
	RMS   float64
	PV    float64
	Min   float64
	Max   float64
}

// finite returns the non-NaN entries of v.
func finite(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

// Stats computes the summary over finite entries. With no finite entries
// every field except Count is NaN.
func (m *OPDMap) Stats() Stats {
	v := finite(m.Values)
	if len(v) == 0 {
		nan := math.NaN()
		return Stats{RMS: nan, PV: nan, Min: nan, Max: nan}
	}
	lo, hi := floats.Min(v), floats.Max(v)
	return Stats{
		Count: len(v),
		RMS:   math.Sqrt(floats.Dot(v, v) / float64(len(v))),
		PV:    hi - lo,
		Min:   lo,
		Max:   hi,
	}
}

// RemovePiston subtracts the mean of the finite entries in place and
// returns it. NaN entries are left alone. With no finite entries nothing
// changes and NaN is returned.
func RemovePiston(values []float64) float64 {
	v := finite(values)
	if len(v) == 0 {
		return math.NaN()
	}
	mean := stat.Mean(v, nil)
	for i, x := range values {
		if !math.IsNaN(x) {
			values[i] = x - mean
		}
	}
	return mean
}

// Scatter places one value per true mask entry, in row-major order, on an
// nPx×nPx map. Entries outside the mask are NaN.
func Scatter(values []float64, mask []bool, nPx int) (*OPDMap, error) {
	if len(mask) != nPx*nPx {
		return nil, fmt.Errorf("mask %d for %dx%d map: %w", len(mask), nPx, nPx, ErrShapeMismatch)
	}
	out := make([]float64, len(mask))
	j := 0
	for i, in := range mask {
		if !in {
			out[i] = math.NaN()
			continue
		}
		if j >= len(values) {
			return nil, fmt.Errorf("mask selects more than %d values: %w", len(values), ErrShapeMismatch)
		}
		out[i] = values[j]
		j++
	}
	if j != len(values) {
		return nil, fmt.Errorf("mask selects %d of %d values: %w", j, len(values), ErrShapeMismatch)
	}
	return &OPDMap{Values: out, NPx: nPx}, nil
}
