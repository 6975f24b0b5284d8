package field

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/domeseeing/internal/cfd"
	"github.com/banshee-data/domeseeing/internal/monitoring"
	"github.com/banshee-data/domeseeing/internal/testutil"
	"github.com/banshee-data/domeseeing/internal/units"
)

func init() {
	monitoring.SetLogger(nil)
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.NPx = 5
	cfg.NH = 4
	cfg.DomainWidth = 2
	cfg.Workers = 2
	return cfg
}

// linearLattice builds a lattice holding f(x,y,z) = a + bx + cy + dz.
func linearLattice(nx, nz int) *Lattice {
	lat := &Lattice{
		X: NewAxis(-1, 1, nx),
		Y: NewAxis(-1, 1, nx),
		Z: NewAxis(0, 10, nz),
	}
	lat.Values = make([]float64, lat.Len())
	for iz := 0; iz < nz; iz++ {
		for iy := 0; iy < nx; iy++ {
			for ix := 0; ix < nx; ix++ {
				lat.Values[lat.Index(ix, iy, iz)] = 1 + 2*lat.X.At(ix) - 3*lat.Y.At(iy) + 0.5*lat.Z.At(iz)
			}
		}
	}
	return lat
}

func TestBuild_UniformField(t *testing.T) {
	const temp = 290.0
	fld, err := Build(testutil.UniformCube(temp, 3, 1, 0, 10), smallConfig())
	require.NoError(t, err)

	want := units.Refractivity(temp, 0.5)
	for _, v := range fld.Lattice().Values {
		assert.Equal(t, want, v)
	}
	for _, p := range [][3]float64{{0, 0, 0}, {0.3, -0.7, 4.2}, {1, 1, 10}, {-1, -1, 0}} {
		got, err := fld.Query(p[0], p[1], p[2])
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-18, "point %v", p)
	}
}

func TestBuild_LatticeAxes(t *testing.T) {
	fld, err := Build(testutil.UniformCube(290, 2, 5, -1, 7), smallConfig())
	require.NoError(t, err)

	b := fld.Bounds()
	assert.Equal(t, [3]float64{-1, -1, -1}, b.Min)
	assert.Equal(t, [3]float64{1, 1, 7}, b.Max)

	lat := fld.Lattice()
	assert.Equal(t, []float64{-1, -0.5, 0, 0.5, 1}, lat.X.Nodes())
	assert.Equal(t, 4, lat.Z.N)
	assert.Equal(t, 7.0, lat.Z.At(3))
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		samples *cfd.SampleSet
		mutate  func(*Config)
		wantErr error
	}{
		{"empty", cfd.NewSampleSet(nil), nil, ErrEmptySamples},
		{"zero temperature", cfd.NewSampleSet([]cfd.Sample{{T: 0, Z: 0}, {T: 290, Z: 1}}), nil, ErrZeroTemperature},
		{"flat", cfd.NewSampleSet([]cfd.Sample{{T: 290, X: 0, Z: 2}, {T: 290, X: 1, Z: 2}}), nil, ErrDegenerateExtent},
		{"npx", testutil.UniformCube(290, 2, 1, 0, 1), func(c *Config) { c.NPx = 1 }, ErrInvalidGrid},
		{"nh", testutil.UniformCube(290, 2, 1, 0, 1), func(c *Config) { c.NH = 0 }, ErrInvalidGrid},
		{"width", testutil.UniformCube(290, 2, 1, 0, 1), func(c *Config) { c.DomainWidth = 0 }, ErrInvalidGrid},
		{"wavelength", testutil.UniformCube(290, 2, 1, 0, 1), func(c *Config) { c.WavelengthMicrons = -1 }, ErrInvalidGrid},
		{"shepard radius", testutil.UniformCube(290, 2, 1, 0, 1), func(c *Config) { c.Method = MethodShepard; c.ShepardRadius = 0 }, ErrInvalidGrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			_, err := Build(tt.samples, cfg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuild_NearestAssignment(t *testing.T) {
	cold, warm := 280.0, 300.0
	set := cfd.NewSampleSet([]cfd.Sample{
		{T: cold, X: -1, Y: 0, Z: 0},
		{T: warm, X: 1, Y: 0, Z: 10},
	})
	cfg := smallConfig()
	cfg.NPx = 3
	cfg.NH = 3
	fld, err := Build(set, cfg)
	require.NoError(t, err)

	lat := fld.Lattice()
	riCold, riWarm := units.Refractivity(cold, 0.5), units.Refractivity(warm, 0.5)
	assert.Equal(t, riCold, lat.At(0, 1, 0))
	assert.Equal(t, riWarm, lat.At(2, 1, 2))
	assert.Equal(t, riCold, lat.At(0, 0, 1), "node (-1,-1,5) is closer to the cold sample")
}

func TestBuild_WorkerCountInvariant(t *testing.T) {
	set := testutil.LayeredSamples(280, 300, 4, 1, 10)
	cfg := smallConfig()
	cfg.NPx = 7
	cfg.NH = 9

	cfg.Workers = 1
	a, err := Build(set, cfg)
	require.NoError(t, err)
	cfg.Workers = 8
	b, err := Build(set, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Lattice().Values, b.Lattice().Values)
}

func TestQuery_TrilinearReproducesLinear(t *testing.T) {
	fld, err := NewField(linearLattice(4, 5), PolicyRaise)
	require.NoError(t, err)

	points := [][3]float64{{0, 0, 5}, {0.25, -0.6, 1.3}, {-1, 1, 10}, {0.99, 0.01, 9.99}, {1, 1, 0}}
	for _, p := range points {
		got, err := fld.Query(p[0], p[1], p[2])
		require.NoError(t, err)
		assert.InDelta(t, 1+2*p[0]-3*p[1]+0.5*p[2], got, 1e-12, "point %v", p)
	}
}

func TestQuery_OutOfDomain(t *testing.T) {
	lat := linearLattice(3, 3)

	raise, err := NewField(lat, PolicyRaise)
	require.NoError(t, err)
	assert.Equal(t, PolicyRaise, raise.Policy())
	_, err = raise.Query(0, 0, 10.5)
	assert.ErrorIs(t, err, ErrOutOfDomain)
	_, err = raise.Query(-1.01, 0, 5)
	assert.ErrorIs(t, err, ErrOutOfDomain)
	_, err = raise.Query(math.NaN(), 0, 5)
	assert.ErrorIs(t, err, ErrOutOfDomain)

	nearest, err := NewField(lat, PolicyNearest)
	require.NoError(t, err)
	assert.Equal(t, PolicyNearest, nearest.Policy())
	got, err := nearest.Query(0, 0, 12)
	require.NoError(t, err)
	edge, err := nearest.Query(0, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, edge, got)

	got, err = nearest.Query(5, -5, -1)
	require.NoError(t, err)
	assert.InDelta(t, 1+2*1-3*-1+0, got, 1e-12)

	_, err = nearest.Query(0, math.NaN(), 5)
	assert.ErrorIs(t, err, ErrOutOfDomain)
}

func TestQueryAll(t *testing.T) {
	fld, err := NewField(linearLattice(3, 3), PolicyRaise)
	require.NoError(t, err)

	xs := []float64{0, 0.5, -0.5}
	ys := []float64{0, 0.5, 0.25}
	zs := []float64{0, 5, 7.5}
	out := make([]float64, 3)
	require.NoError(t, fld.QueryAll(xs, ys, zs, out))
	for i := range out {
		assert.InDelta(t, 1+2*xs[i]-3*ys[i]+0.5*zs[i], out[i], 1e-12)
	}

	assert.ErrorIs(t, fld.QueryAll(xs, ys[:2], zs, out), ErrInvalidGrid)

	zs[1] = 11
	assert.ErrorIs(t, fld.QueryAll(xs, ys, zs, out), ErrOutOfDomain)

	assert.NoError(t, fld.QueryAll(nil, nil, nil, nil))
}

func TestQuery_Concurrent(t *testing.T) {
	fld, err := NewField(linearLattice(5, 5), PolicyNearest)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				x := -1 + 2*float64(i)/499
				v, err := fld.Query(x, 0, 5)
				if assert.NoError(t, err) {
					assert.InDelta(t, 1+2*x+2.5, v, 1e-12)
				}
			}
		}()
	}
	wg.Wait()
}

func TestNewField_Invalid(t *testing.T) {
	_, err := NewField(nil, PolicyRaise)
	assert.ErrorIs(t, err, ErrInvalidGrid)

	lat := linearLattice(3, 3)
	lat.Values = lat.Values[:5]
	_, err = NewField(lat, PolicyRaise)
	assert.ErrorIs(t, err, ErrInvalidGrid)

	lat = linearLattice(3, 3)
	lat.Z = NewAxis(2, 2, 3)
	_, err = NewField(lat, PolicyRaise)
	assert.ErrorIs(t, err, ErrDegenerateExtent)
}

func TestParsePolicyAndMethod(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Policy
	}{{"raise", PolicyRaise}, {"", PolicyRaise}, {"nearest", PolicyNearest}} {
		got, err := ParsePolicy(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.NotEmpty(t, got.String())
	}
	_, err := ParsePolicy("wrap")
	assert.Error(t, err)

	m, err := ParseMethod("shepard")
	require.NoError(t, err)
	assert.Equal(t, MethodShepard, m)
	assert.Equal(t, "shepard", m.String())
	_, err = ParseMethod("kriging")
	assert.Error(t, err)
}
