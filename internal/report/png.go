package report

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/domeseeing/internal/raytrace"
)

var (
	// ErrNotRaster is returned for maps that are not a square pupil.
	ErrNotRaster = errors.New("opd map is not a square raster")
	// ErrNoValidRays is returned when every entry is NaN.
	ErrNoValidRays = errors.New("opd map has no valid rays")
)

// nanometres per metre; OPD maps are stored in metres.
const nm = 1e9

// opdGrid adapts an OPD raster to plotter.GridXYZ in nanometres. Columns
// are pupil x, rows pupil y.
type opdGrid struct {
	m        *raytrace.OPDMap
	min, max float64
}

func newOPDGrid(m *raytrace.OPDMap) (*opdGrid, error) {
	if m == nil || m.NPx < 2 || m.Raster() == nil {
		return nil, ErrNotRaster
	}
	st := m.Stats()
	if st.Count == 0 {
		return nil, ErrNoValidRays
	}
	lo, hi := st.Min*nm, st.Max*nm
	if hi <= lo {
		lo, hi = lo-0.5, hi+0.5
	}
	return &opdGrid{m: m, min: lo, max: hi}, nil
}

func (g *opdGrid) Dims() (c, r int)   { return g.m.NPx, g.m.NPx }
func (g *opdGrid) Z(c, r int) float64 { return g.m.Values[r*g.m.NPx+c] * nm }
func (g *opdGrid) X(c int) float64    { return float64(c) }
func (g *opdGrid) Y(r int) float64    { return float64(r) }
func (g *opdGrid) Min() float64       { return g.min }
func (g *opdGrid) Max() float64       { return g.max }

// PNG draws the OPD map as a heat map. Vignetted rays are left blank.
func PNG(m *raytrace.OPDMap, title string) ([]byte, error) {
	grid, err := newOPDGrid(m)
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Pupil x (px)"
	p.Y.Label.Text = "Pupil y (px)"

	hm := plotter.NewHeatMap(grid, palette.Heat(64, 1))
	hm.Min, hm.Max = grid.Min(), grid.Max()
	p.Add(hm)
	p.X.Min, p.X.Max = -0.5, float64(m.NPx)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(m.NPx)-0.5

	st := m.Stats()
	p.Legend.Add(fmt.Sprintf("rms %.1f nm  pv %.1f nm", st.RMS*nm, st.PV*nm))
	p.Legend.Top = true

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("report: png writer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("report: render png: %w", err)
	}
	return buf.Bytes(), nil
}

// finiteNM returns the finite entries of m in nanometres.
func finiteNM(m *raytrace.OPDMap) []float64 {
	out := make([]float64, 0, len(m.Values))
	for _, v := range m.Values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v*nm)
		}
	}
	return out
}
