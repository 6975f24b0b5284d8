package raytrace

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/domeseeing/internal/field"
	"github.com/banshee-data/domeseeing/internal/monitoring"
	"github.com/banshee-data/domeseeing/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// constMedium returns the same index everywhere.
type constMedium float64

func (c constMedium) QueryAll(xs, ys, zs, out []float64) error {
	for i := range out {
		out[i] = float64(c)
	}
	return nil
}

// heightMedium returns a + b·z.
type heightMedium struct{ a, b float64 }

func (h heightMedium) QueryAll(xs, ys, zs, out []float64) error {
	for i := range out {
		out[i] = h.a + h.b*zs[i] + 1e-3*xs[i]*ys[i]
	}
	return nil
}

var errQuery = errors.New("query failed")

type failingMedium struct{}

func (failingMedium) QueryAll(xs, ys, zs, out []float64) error { return errQuery }

func verticalSegment(n int, z0, z1 float64) Segment {
	seg := Segment{
		Origins:    make([][3]float64, n),
		Directions: make([][3]float64, n),
		StartZ:     make([]float64, n),
		EndZ:       make([]float64, n),
	}
	for i := 0; i < n; i++ {
		seg.Origins[i] = [3]float64{float64(i%7) * 0.1, float64(i/7) * 0.1, 0}
		seg.Directions[i] = [3]float64{0, 0, 1}
		seg.StartZ[i] = z0
		seg.EndZ[i] = z1
	}
	return seg
}

func tiltedSegment(n int, theta, z0, z1 float64) Segment {
	seg := verticalSegment(n, z0, z1)
	for i := range seg.Directions {
		seg.Directions[i] = [3]float64{math.Sin(theta), 0, math.Cos(theta)}
	}
	return seg
}

func TestIntegrateRaw_UniformFieldOPL(t *testing.T) {
	const ri0 = 2.5e-4
	tests := []struct {
		name  string
		seg   Segment
		steps int
		want  float64
	}{
		{"vertical", verticalSegment(4, 0, 10), 11, ri0 * 10},
		{"vertical descending", verticalSegment(4, 10, 0), 5, ri0 * 10},
		{"tilted 30deg", tiltedSegment(4, math.Pi/6, 2, 12), 101, ri0 * 10 / math.Cos(math.Pi/6)},
		{"two steps", verticalSegment(1, -3, 4), 2, ri0 * 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Steps = tt.steps
			opd, err := IntegrateRaw(context.Background(), constMedium(ri0), []Segment{tt.seg}, opts)
			require.NoError(t, err)
			for i, v := range opd.Values {
				assert.InDelta(t, tt.want, v, 1e-15, "ray %d", i)
			}
		})
	}
}

func TestIntegrateRaw_RightSampleRule(t *testing.T) {
	opts := DefaultOptions()
	opts.Steps = 3

	up, err := IntegrateRaw(context.Background(), heightMedium{b: 1}, []Segment{verticalSegment(1, 0, 10)}, opts)
	require.NoError(t, err)
	// planes 0,5,10: 5·ri(5) + 5·ri(10)
	assert.InDelta(t, 75.0, up.Values[0], 1e-12)

	down, err := IntegrateRaw(context.Background(), heightMedium{b: 1}, []Segment{verticalSegment(1, 10, 0)}, opts)
	require.NoError(t, err)
	// planes 10,5,0: 5·ri(5) + 5·ri(0)
	assert.InDelta(t, 25.0, down.Values[0], 1e-12)
}

func TestIntegrateRaw_SegmentsAccumulate(t *testing.T) {
	opts := DefaultOptions()
	opts.Steps = 6
	segs := []Segment{verticalSegment(3, 0, 4), verticalSegment(3, 4, 10)}
	opd, err := IntegrateRaw(context.Background(), constMedium(1), segs, opts)
	require.NoError(t, err)
	for _, v := range opd.Values {
		assert.InDelta(t, 10.0, v, 1e-12)
	}
}

func TestIntegrate_PistonRemoved(t *testing.T) {
	seg := verticalSegment(49, 0, 10)
	seg.Valid = make([]bool, 49)
	for i := range seg.Valid {
		seg.Valid[i] = i%5 != 0
	}
	opts := DefaultOptions()
	opts.Steps = 21
	opd, err := Integrate(context.Background(), heightMedium{a: 1e-4, b: 1e-6}, []Segment{seg}, opts)
	require.NoError(t, err)

	sum, n := 0.0, 0
	for i, v := range opd.Values {
		if !seg.Valid[i] {
			assert.True(t, math.IsNaN(v), "ray %d should be NaN", i)
			continue
		}
		require.False(t, math.IsNaN(v))
		sum += v
		n++
	}
	assert.Equal(t, 39, n)
	assert.InDelta(t, 0, sum/float64(n), 1e-18)
}

func TestIntegrate_ChunkAndWorkerInvariant(t *testing.T) {
	segs := []Segment{tiltedSegment(97, 0.1, 0, 6), verticalSegment(97, 6, 10)}
	medium := heightMedium{a: 2e-4, b: -3e-6}

	base := DefaultOptions()
	base.Steps = 17
	base.ChunkSize = 97
	base.Workers = 1
	want, err := Integrate(context.Background(), medium, segs, base)
	require.NoError(t, err)

	for _, tc := range []struct{ chunk, workers int }{{1, 4}, {7, 3}, {32, 8}, {1000, 2}, {0, 1}} {
		opts := base
		opts.ChunkSize = tc.chunk
		opts.Workers = tc.workers
		got, err := Integrate(context.Background(), medium, segs, opts)
		require.NoError(t, err)
		assert.Equal(t, want.Values, got.Values, "chunk %d workers %d", tc.chunk, tc.workers)
	}
}

func TestIntegrateRaw_ValidityPropagation(t *testing.T) {
	a := verticalSegment(4, 0, 5)
	b := verticalSegment(4, 5, 10)
	a.Valid = []bool{true, false, true, true}
	b.Valid = []bool{true, true, false, true}

	opts := DefaultOptions()
	opts.Steps = 3
	opts.Mask = []bool{true, true, true, false}
	opd, err := IntegrateRaw(context.Background(), constMedium(1), []Segment{a, b}, opts)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, opd.Values[0], 1e-12)
	assert.True(t, math.IsNaN(opd.Values[1]), "invalid in first segment")
	assert.True(t, math.IsNaN(opd.Values[2]), "invalid in second segment")
	assert.True(t, math.IsNaN(opd.Values[3]), "outside entrance mask")
}

func TestIntegrateRaw_InvalidRaysSkipQueries(t *testing.T) {
	seg := verticalSegment(3, 0, 1)
	seg.Valid = []bool{false, false, false}
	seg.Directions[1] = [3]float64{1, 0, 0} // ignored when invalid
	opts := DefaultOptions()
	opts.Steps = 4
	opd, err := IntegrateRaw(context.Background(), failingMedium{}, []Segment{seg}, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, opd.Stats().Count)
}

func TestIntegrateRaw_Errors(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Steps = 3

	_, err := IntegrateRaw(ctx, constMedium(1), nil, opts)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	short := verticalSegment(3, 0, 1)
	short.EndZ = short.EndZ[:2]
	_, err = IntegrateRaw(ctx, constMedium(1), []Segment{short}, opts)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = IntegrateRaw(ctx, constMedium(1), []Segment{verticalSegment(3, 0, 1), verticalSegment(2, 1, 2)}, opts)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	flat := verticalSegment(2, 0, 1)
	flat.Directions[1] = [3]float64{1, 0, 0}
	_, err = IntegrateRaw(ctx, constMedium(1), []Segment{flat}, opts)
	assert.ErrorIs(t, err, ErrZeroDirection)

	badMask := opts
	badMask.Mask = []bool{true}
	_, err = IntegrateRaw(ctx, constMedium(1), []Segment{verticalSegment(2, 0, 1)}, badMask)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	oneStep := opts
	oneStep.Steps = 1
	_, err = IntegrateRaw(ctx, constMedium(1), []Segment{verticalSegment(2, 0, 1)}, oneStep)
	assert.ErrorIs(t, err, ErrInvalidSteps)

	_, err = IntegrateRaw(ctx, failingMedium{}, []Segment{verticalSegment(2, 0, 1)}, opts)
	assert.ErrorIs(t, err, errQuery)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = IntegrateRaw(cancelled, constMedium(1), []Segment{verticalSegment(2, 0, 1)}, opts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIntegrate_ThroughGriddedField(t *testing.T) {
	// Four corner samples with ri = 1 and a vertical ray from z=0 to z=10.
	temp := testutil.TemperatureFor(1.0, 0.5)
	cfg := field.DefaultConfig()
	cfg.NPx = 3
	cfg.NH = 3
	cfg.DomainWidth = 2
	fld, err := field.Build(testutil.CornerSamples(temp, 1, 10), cfg)
	require.NoError(t, err)

	seg := Segment{
		Origins:    [][3]float64{{0, 0, 0}},
		Directions: [][3]float64{{0, 0, 1}},
		StartZ:     []float64{0},
		EndZ:       []float64{10},
	}
	opts := DefaultOptions()
	opts.Steps = 3
	opd, err := IntegrateRaw(context.Background(), fld, []Segment{seg}, opts)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, opd.Values[0], 1e-9)

	// The same ray leaving the lattice top raises under the default policy.
	seg.EndZ[0] = 12
	_, err = IntegrateRaw(context.Background(), fld, []Segment{seg}, opts)
	assert.ErrorIs(t, err, field.ErrOutOfDomain)
}
