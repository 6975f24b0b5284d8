package raytrace

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/domeseeing/internal/monitoring"
)

// Medium is a refractive index field that can be sampled in batches.
// *field.Field satisfies it.
type Medium interface {
	QueryAll(xs, ys, zs, out []float64) error
}

// Options controls integration.
type Options struct {
	Steps     int    // z planes per segment, including both ends
	ChunkSize int    // rays per task
	Workers   int    // concurrent tasks, 0 means NumCPU
	Mask      []bool // optional entrance pupil mask, nil means all rays
	NPx       int    // side of the pupil raster carried on the result, 0 if unknown
}

// DefaultOptions returns the standard integration settings.
func DefaultOptions() Options {
	return Options{Steps: 101, ChunkSize: 65536}
}

// Integrate computes the optical path difference of every ray through all
// segments. Rays invalid in any segment, or outside Mask, are NaN. The
// mean of the finite entries is removed once after accumulation.
func Integrate(ctx context.Context, medium Medium, segments []Segment, opts Options) (*OPDMap, error) {
	opd, err := IntegrateRaw(ctx, medium, segments, opts)
	if err != nil {
		return nil, err
	}
	piston := RemovePiston(opd.Values)
	monitoring.Logf("[raytrace] removed piston %.6e m", piston)
	return opd, nil
}

// IntegrateRaw is Integrate without piston removal: each finite entry is
// the absolute optical path length in metres.
func IntegrateRaw(ctx context.Context, medium Medium, segments []Segment, opts Options) (*OPDMap, error) {
	if opts.Steps < 2 {
		return nil, fmt.Errorf("steps %d: %w", opts.Steps, ErrInvalidSteps)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no segments: %w", ErrShapeMismatch)
	}
	n := segments[0].Len()
	for k := range segments {
		if err := segments[k].Validate(); err != nil {
			return nil, fmt.Errorf("segment %d: %w", k, err)
		}
		if segments[k].Len() != n {
			return nil, fmt.Errorf("segment %d has %d rays, segment 0 has %d: %w", k, segments[k].Len(), n, ErrShapeMismatch)
		}
	}
	if opts.Mask != nil && len(opts.Mask) != n {
		return nil, fmt.Errorf("mask %d for %d rays: %w", len(opts.Mask), n, ErrShapeMismatch)
	}

	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = n
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	start := time.Now()
	out := make([]float64, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return integrateChunk(medium, segments, opts, out, lo, hi)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	opd := &OPDMap{Values: out, NPx: opts.NPx}
	monitoring.Logf("[raytrace] integrated %d rays over %d segments (%d steps, chunk %d, %d workers) in %s",
		n, len(segments), opts.Steps, chunk, workers, time.Since(start).Round(time.Millisecond))
	return opd, nil
}

// integrateChunk fills out[lo:hi]. Chunks never overlap so no locking is
// needed on out.
func integrateChunk(medium Medium, segments []Segment, opts Options, out []float64, lo, hi int) error {
	steps := opts.Steps
	xs := make([]float64, steps)
	ys := make([]float64, steps)
	zs := make([]float64, steps)
	ss := make([]float64, steps)
	ri := make([]float64, steps)

	valid, vignetted := 0, 0
	for r := lo; r < hi; r++ {
		ok := opts.Mask == nil || opts.Mask[r]
		for k := range segments {
			if !ok {
				break
			}
			ok = segments[k].IsValid(r)
		}
		if !ok {
			out[r] = math.NaN()
			vignetted++
			continue
		}

		total := 0.0
		for k := range segments {
			seg := &segments[k]
			samplePlanes(seg, r, xs, ys, zs, ss)
			if err := medium.QueryAll(xs, ys, zs, ri); err != nil {
				return fmt.Errorf("ray %d segment %d: %w", r, k, err)
			}
			for i := 1; i < steps; i++ {
				total += math.Abs(ss[i]-ss[i-1]) * ri[i]
			}
		}
		out[r] = total
		valid++
	}
	monitoring.RaysTraced.WithLabelValues("valid").Add(float64(valid))
	monitoring.RaysTraced.WithLabelValues("vignetted").Add(float64(vignetted))
	return nil
}

// samplePlanes places len(zs) points of ray r on evenly spaced z planes
// from the segment start to its end. The last plane is exactly EndZ and
// each point keeps its plane height exactly.
func samplePlanes(seg *Segment, r int, xs, ys, zs, ss []float64) {
	o, d := seg.Origins[r], seg.Directions[r]
	z0, z1 := seg.StartZ[r], seg.EndZ[r]
	last := len(zs) - 1
	step := (z1 - z0) / float64(last)
	for i := range zs {
		z := z0 + float64(i)*step
		if i == last {
			z = z1
		}
		s := (z - o[2]) / d[2]
		ss[i] = s
		xs[i] = o[0] + d[0]*s
		ys[i] = o[1] + d[1]*s
		zs[i] = z
	}
}
