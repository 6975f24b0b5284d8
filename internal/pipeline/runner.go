package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/domeseeing/internal/archive"
	"github.com/banshee-data/domeseeing/internal/blobstore"
	"github.com/banshee-data/domeseeing/internal/cfd"
	"github.com/banshee-data/domeseeing/internal/config"
	"github.com/banshee-data/domeseeing/internal/field"
	"github.com/banshee-data/domeseeing/internal/geometry"
	"github.com/banshee-data/domeseeing/internal/monitoring"
	"github.com/banshee-data/domeseeing/internal/pssn"
	"github.com/banshee-data/domeseeing/internal/raytrace"
	"github.com/banshee-data/domeseeing/internal/report"
	"github.com/banshee-data/domeseeing/internal/storage/sqlite"
	"github.com/banshee-data/domeseeing/internal/timeutil"
	"github.com/banshee-data/domeseeing/internal/units"
)

// Stage names, used as metric labels and ledger keys.
const (
	StageLoad      = "load"
	StageGrid      = "grid"
	StageGeometry  = "geometry"
	StageIntegrate = "integrate"
	StagePSSn      = "pssn"
	StageArchive   = "archive"
)

// Ledger records reductions. *sqlite.ReductionStore satisfies it.
type Ledger interface {
	Insert(ctx context.Context, r *sqlite.Reduction) error
}

// Runner reduces sample files. It is safe for sequential reuse across many
// files; the geometry bundle is fetched once per bucket/key.
type Runner struct {
	Store blobstore.Store
	// Ledger is optional; when nil reductions are not recorded.
	Ledger Ledger
	// Clock defaults to the wall clock.
	Clock   timeutil.Clock
	Version string

	cfg *config.RunConfig

	mu       sync.Mutex
	geometry map[string]*geometry.Bundle
}

// NewRunner validates cfg and returns a Runner reading and writing
// through store. A nil cfg uses the built-in defaults.
func NewRunner(store blobstore.Store, cfg *config.RunConfig) (*Runner, error) {
	if store == nil {
		return nil, errors.New("pipeline: nil store")
	}
	if cfg == nil {
		cfg = config.EmptyRunConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &Runner{
		Store:    store,
		Clock:    timeutil.RealClock{},
		cfg:      cfg,
		geometry: make(map[string]*geometry.Bundle),
	}, nil
}

// Config returns the run configuration.
func (r *Runner) Config() *config.RunConfig {
	return r.cfg
}

// Outcome describes one reduction.
type Outcome struct {
	Key         string
	CaseKey     string
	ReductionID string // empty without a ledger
	Samples     int
	Result      *archive.Result
	// Written lists the output keys stored, archive first.
	Written []string
	Stages  map[string]time.Duration
	Started time.Time
	Elapsed time.Duration
}

// Reduce runs the full reduction of one sample file from the input bucket.
// On failure the partial Outcome is returned alongside the error.
func (r *Runner) Reduce(ctx context.Context, key string) (*Outcome, error) {
	clock := r.clock()
	start := clock.Now()
	out := &Outcome{
		Key:     key,
		CaseKey: blobstore.Stem(key),
		Stages:  make(map[string]time.Duration),
		Started: start,
	}

	err := r.reduce(ctx, out)
	out.Elapsed = clock.Since(start)
	r.record(ctx, out, err)

	if err != nil {
		monitoring.Reductions.WithLabelValues("failed").Inc()
		opsf("reduction of %s failed after %s: %v", key, out.Elapsed.Round(time.Millisecond), err)
		return out, fmt.Errorf("reduce %s: %w", key, err)
	}
	monitoring.Reductions.WithLabelValues("ok").Inc()
	diagf("reduced %s in %s", key, out.Elapsed.Round(time.Millisecond))
	return out, nil
}

func (r *Runner) clock() timeutil.Clock {
	if r.Clock == nil {
		return timeutil.RealClock{}
	}
	return r.Clock
}

// stage times fn, records the duration and wraps any error with the
// stage name.
func (r *Runner) stage(out *Outcome, name string, fn func() error) error {
	clock := r.clock()
	start := clock.Now()
	err := fn()
	elapsed := clock.Since(start)
	out.Stages[name] = elapsed
	monitoring.ObserveStage(name, elapsed)
	diagf("%s: %s took %s", out.Key, name, elapsed.Round(time.Millisecond))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (r *Runner) reduce(ctx context.Context, out *Outcome) error {
	cfg := r.cfg
	wavelength := cfg.GetWavelengthMicrons()

	var (
		samples *cfd.SampleSet
		digest  string
	)
	if err := r.stage(out, StageLoad, func() error {
		data, err := r.Store.Fetch(ctx, cfg.GetInputBucket(), out.Key)
		if err != nil {
			return err
		}
		digest = sampleDigest(data)
		layout := cfg.GetCSVLayout()
		samples, err = cfd.Load(bytes.NewReader(data), cfd.LoadOptions{
			Layout: cfd.Layout{
				TemperatureColumn: layout.TemperatureColumn,
				PositionColumn:    layout.PositionColumn,
				SkipRows:          layout.SkipRows,
			},
			VertexOffset: cfg.GetVertexOffset(),
		})
		if err != nil {
			return err
		}
		out.Samples = samples.Len()
		tracef("%s: %d samples from %d bytes", out.Key, samples.Len(), len(data))
		return nil
	}); err != nil {
		return err
	}

	var fld *field.Field
	if err := r.stage(out, StageGrid, func() error {
		var err error
		fld, err = r.buildField(ctx, out.Key, samples, r.latticeSource(digest))
		return err
	}); err != nil {
		return err
	}

	var bundle *geometry.Bundle
	if err := r.stage(out, StageGeometry, func() error {
		var err error
		bundle, err = r.loadGeometry(ctx)
		return err
	}); err != nil {
		return err
	}

	var opd *raytrace.OPDMap
	if err := r.stage(out, StageIntegrate, func() error {
		zTop := fld.Bounds().Max[2]
		var err error
		opd, err = raytrace.Integrate(ctx, fld, bundle.Segments(zTop), raytrace.Options{
			Steps:     cfg.GetSteps(),
			ChunkSize: cfg.GetChunkSize(),
			Workers:   cfg.GetWorkers(),
			Mask:      bundle.Mask,
			NPx:       bundle.NPx,
		})
		return err
	}); err != nil {
		return err
	}

	var score *float64
	if cfg.GetComputePSSn() {
		if err := r.stage(out, StagePSSn, func() error {
			var err error
			score, err = r.score(out.Key, bundle, opd, wavelength)
			return err
		}); err != nil {
			return err
		}
	}

	return r.stage(out, StageArchive, func() error {
		res := archive.NewResult(out.CaseKey, wavelength, opd, score)
		res.Version = r.Version
		res.CreatedAt = out.Started
		out.Result = res
		return r.writeOutputs(ctx, out)
	})
}

// fieldConfig maps the run configuration onto gridding parameters.
func (r *Runner) fieldConfig() (field.Config, error) {
	cfg := r.cfg
	policy, err := field.ParsePolicy(cfg.GetOutOfDomain())
	if err != nil {
		return field.Config{}, err
	}
	method, err := field.ParseMethod(cfg.GetGridding())
	if err != nil {
		return field.Config{}, err
	}
	return field.Config{
		WavelengthMicrons: cfg.GetWavelengthMicrons(),
		NPx:               cfg.GetNPx(),
		NH:                cfg.GetNH(),
		DomainWidth:       cfg.GetDomainWidth(),
		Policy:            policy,
		Method:            method,
		ShepardRadius:     cfg.GetShepardRadius(),
		Workers:           cfg.GetWorkers(),
	}, nil
}

// latticeSource identifies the samples a lattice is gridded from: the
// file contents and how they were parsed.
type latticeSource struct {
	Layout       config.CSVLayout
	VertexOffset float64
	Digest       string
}

func (r *Runner) latticeSource(digest string) latticeSource {
	return latticeSource{
		Layout:       r.cfg.GetCSVLayout(),
		VertexOffset: r.cfg.GetVertexOffset(),
		Digest:       digest,
	}
}

// sampleDigest is a short content hash of a sample file.
func sampleDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// latticeKey names the cached lattice for a sample key, its source and
// the gridding parameters.
func latticeKey(key string, fc field.Config, src latticeSource) string {
	params := fmt.Sprintf("%gum_%dx%d_%gm_%s", fc.WavelengthMicrons, fc.NPx, fc.NH, fc.DomainWidth, fc.Method)
	if fc.Method == field.MethodShepard {
		params += fmt.Sprintf("_r%g", fc.ShepardRadius)
	}
	l := src.Layout
	params += fmt.Sprintf("_z%g_c%d-%d-%d_%s", src.VertexOffset, l.TemperatureColumn, l.PositionColumn, l.SkipRows, src.Digest)
	return blobstore.Stem(key) + "/lattice_" + params + ".gob.gz"
}

// buildField grids samples, going through the lattice cache when enabled.
// Cache failures other than a miss on read are logged and ignored.
func (r *Runner) buildField(ctx context.Context, key string, samples *cfd.SampleSet, src latticeSource) (*field.Field, error) {
	fc, err := r.fieldConfig()
	if err != nil {
		return nil, err
	}
	if !r.cfg.GetLatticeCache() {
		lat, err := field.BuildLattice(ctx, samples, fc)
		if err != nil {
			return nil, err
		}
		return field.NewField(lat, fc.Policy)
	}

	bucket, cacheKey := r.cfg.GetCacheBucket(), latticeKey(key, fc, src)
	blob, err := r.Store.Fetch(ctx, bucket, cacheKey)
	switch {
	case err == nil:
		lat, derr := field.DecodeLattice(blob)
		if derr == nil {
			diagf("%s: lattice cache hit %s", key, cacheKey)
			return field.NewField(lat, fc.Policy)
		}
		opsf("%s: discarding unreadable cached lattice %s: %v", key, cacheKey, derr)
	case errors.Is(err, blobstore.ErrNotFound):
		tracef("%s: lattice cache miss %s", key, cacheKey)
	default:
		return nil, fmt.Errorf("fetch cached lattice: %w", err)
	}

	lat, err := field.BuildLattice(ctx, samples, fc)
	if err != nil {
		return nil, err
	}
	enc, err := field.EncodeLattice(lat)
	if err != nil {
		opsf("%s: failed to encode lattice for cache: %v", key, err)
	} else if err := r.Store.Put(ctx, bucket, cacheKey, enc); err != nil {
		opsf("%s: failed to cache lattice %s: %v", key, cacheKey, err)
	}
	return field.NewField(lat, fc.Policy)
}

// loadGeometry fetches and decodes the configured geometry bundle once.
func (r *Runner) loadGeometry(ctx context.Context) (*geometry.Bundle, error) {
	bucket, key := r.cfg.GetGeometryBucket(), r.cfg.GetGeometryKey()
	id := bucket + "/" + key

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.geometry[id]; ok {
		return b, nil
	}
	data, err := r.Store.Fetch(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	b, err := geometry.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	diagf("loaded geometry %s: %d×%d rays, references %q", id, b.NPx, b.NPx, b.ReferenceBands())
	r.geometry[id] = b
	return b, nil
}

// score computes PSSn against the bundle's reference. A missing reference
// skips the stage and returns nil.
func (r *Runner) score(key string, b *geometry.Bundle, opd *raytrace.OPDMap, wavelength float64) (*float64, error) {
	ref, err := b.Reference(wavelength)
	if errors.Is(err, geometry.ErrNoReference) {
		opsf("%s: skipping PSSn: %v", key, err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	method, err := pssn.ParseMethod(r.cfg.GetAutocorrelation())
	if err != nil {
		return nil, err
	}
	v, err := pssn.ScoreWith(opd, wavelength, ref, method)
	if err != nil {
		return nil, err
	}

	band, ok := units.BandForWavelength(wavelength)
	if !ok {
		band = fmt.Sprintf("%gum", wavelength)
	}
	monitoring.LastPSSn.WithLabelValues(band).Set(v)
	diagf("%s: PSSn=%.4f (%s)", key, v, band)
	return &v, nil
}

type artifact struct {
	key  string
	data []byte
}

// writeOutputs stores the archive, its summary and, when enabled, the
// plots. Plot failures are logged and skipped.
func (r *Runner) writeOutputs(ctx context.Context, out *Outcome) error {
	bucket := r.cfg.GetOutputBucket()
	res := out.Result

	npzBytes, err := archive.EncodeNPZ(res)
	if err != nil {
		return err
	}
	summary, err := archive.EncodeSummary(res)
	if err != nil {
		return err
	}
	artifacts := []artifact{
		{archive.OutputKey(out.Key), npzBytes},
		{archive.SummaryKey(out.Key), summary},
	}

	if r.cfg.GetWriteReport() {
		title := fmt.Sprintf("%s %gµm", out.CaseKey, res.WavelengthMicrons)
		if png, err := report.PNG(res.OPD, title); err != nil {
			opsf("%s: skipping png report: %v", out.Key, err)
		} else {
			artifacts = append(artifacts, artifact{archive.ArtifactKey(out.Key, ".png"), png})
		}
		if page, err := report.HTML(res.OPD, report.HTMLOptions{Title: title, Subtitle: r.Version}); err != nil {
			opsf("%s: skipping html report: %v", out.Key, err)
		} else {
			artifacts = append(artifacts, artifact{archive.ArtifactKey(out.Key, ".html"), page})
		}
	}

	for _, a := range artifacts {
		if err := r.Store.Put(ctx, bucket, a.key, a.data); err != nil {
			return err
		}
		out.Written = append(out.Written, a.key)
		tracef("%s: wrote %s/%s (%d bytes)", out.Key, bucket, a.key, len(a.data))
	}
	return nil
}

// record writes the reduction to the ledger. Ledger failures never fail
// the reduction.
func (r *Runner) record(ctx context.Context, out *Outcome, runErr error) {
	if r.Ledger == nil {
		return
	}
	nan := math.NaN()
	rec := &sqlite.Reduction{
		CaseKey:           out.CaseKey,
		WavelengthMicrons: r.cfg.GetWavelengthMicrons(),
		NPx:               r.cfg.GetNPx(),
		OPDRMS:            nan,
		OPDPV:             nan,
		OPDMin:            nan,
		OPDMax:            nan,
		SampleCount:       out.Samples,
		Status:            sqlite.StatusOK,
		DurationMS:        out.Elapsed.Milliseconds(),
		StageDurations:    make(map[string]float64, len(out.Stages)),
		CreatedAt:         out.Started.UnixNano(),
	}
	for name, d := range out.Stages {
		rec.StageDurations[name] = d.Seconds()
	}
	if params, err := json.Marshal(r.cfg); err == nil {
		rec.ParamsJSON = params
	}
	if res := out.Result; res != nil {
		rec.NPx = res.OPD.NPx
		rec.PSSn = res.PSSn
		rec.OPDRMS = res.Stats.RMS
		rec.OPDPV = res.Stats.PV
		rec.OPDMin = res.Stats.Min
		rec.OPDMax = res.Stats.Max
		rec.ValidRays = res.Stats.Count
	}
	if len(out.Written) > 0 {
		rec.OutputKey = out.Written[0]
	}
	if runErr != nil {
		rec.Status = sqlite.StatusFailed
		rec.Error = runErr.Error()
	}

	if err := r.Ledger.Insert(ctx, rec); err != nil {
		opsf("%s: failed to record reduction: %v", out.Key, err)
		return
	}
	out.ReductionID = rec.ReductionID
}
