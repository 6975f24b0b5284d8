package report

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/domeseeing/internal/raytrace"
)

// DefaultAssetsHost serves the echarts javascript.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// histogramBins is the number of OPD histogram bars.
const histogramBins = 40

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// HTMLOptions controls the interactive page.
type HTMLOptions struct {
	Title      string
	Subtitle   string
	AssetsHost string
	// Stride subsamples the pupil for large maps; values below 1 mean 1.
	Stride int
}

// HTML renders the OPD map as a colored scatter plus a histogram of the
// valid values.
func HTML(m *raytrace.OPDMap, o HTMLOptions) ([]byte, error) {
	grid, err := newOPDGrid(m)
	if err != nil {
		return nil, err
	}
	if o.AssetsHost == "" {
		o.AssetsHost = DefaultAssetsHost
	}
	stride := o.Stride
	if stride < 1 {
		stride = 1
	}

	n := m.NPx
	data := make([]opts.ScatterData, 0, (n/stride+1)*(n/stride+1))
	for r := 0; r < n; r += stride {
		for c := 0; c < n; c += stride {
			v := grid.Z(c, r)
			if math.IsNaN(v) {
				continue
			}
			data = append(data, opts.ScatterData{Value: []interface{}{c, r, v}})
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.Title, Theme: "dark", Width: "900px", Height: "900px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: n - 1, Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: n - 1, Name: "y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(grid.Min()),
			Max:        float32(grid.Max()),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("opd (nm)", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	labels, counts := histogram(finiteNM(m), grid.Min(), grid.Max(), histogramBins)
	bars := make([]opts.BarData, len(counts))
	for i, c := range counts {
		bars[i] = opts.BarData{Value: c}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "OPD distribution", Subtitle: "nm"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).AddSeries("rays", bars)

	page := components.NewPage()
	page.SetAssetsHost(o.AssetsHost)
	page.AddCharts(scatter, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("report: render html: %w", err)
	}
	return buf.Bytes(), nil
}

// histogram bins x into equal-width bins spanning [lo, hi] and labels
// each by its centre.
func histogram(x []float64, lo, hi float64, bins int) ([]string, []float64) {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	// stat.Histogram excludes the upper divider.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	labels := make([]string, bins)
	for i := range labels {
		labels[i] = fmt.Sprintf("%.1f", (dividers[i]+dividers[i+1])/2)
	}
	return labels, counts
}
