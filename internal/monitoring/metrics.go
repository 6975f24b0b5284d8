package monitoring

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the pipeline metrics. A dedicated registry keeps the
// textfile output free of Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	// RaysTraced counts rays integrated, by outcome ("valid" or "vignetted").
	RaysTraced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domeseeing_rays_traced_total",
		Help: "Rays integrated through the gridded field by outcome",
	}, []string{"outcome"})

	// FieldQueries counts trilinear field evaluations.
	FieldQueries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "domeseeing_field_queries_total",
		Help: "Trilinear refractive-index queries",
	})

	// StageDuration tracks pipeline stage latency.
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "domeseeing_stage_duration_seconds",
		Help:    "Pipeline stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"stage"})

	// Reductions counts completed reductions by result.
	Reductions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domeseeing_reductions_total",
		Help: "Reductions processed by result",
	}, []string{"result"})

	// LastPSSn is the most recent sharpness score per band.
	LastPSSn = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "domeseeing_last_pssn",
		Help: "PSSn of the most recent reduction",
	}, []string{"band"})
)

func init() {
	Registry.MustRegister(RaysTraced, FieldQueries, StageDuration, Reductions, LastPSSn)
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
// Batch runs call this once on exit.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
