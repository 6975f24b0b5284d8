// Package field grids scattered CFD refractive index samples onto a regular
// lattice and exposes a trilinear interpolant over it.
package field

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/domeseeing/internal/cfd"
	"github.com/banshee-data/domeseeing/internal/monitoring"
)

var (
	// ErrEmptySamples is returned when Build is given no samples.
	ErrEmptySamples = cfd.ErrEmptySamples
	// ErrZeroTemperature is returned when a sample has T == 0.
	ErrZeroTemperature = cfd.ErrZeroTemperature
	// ErrDegenerateExtent is returned when the samples span no height.
	ErrDegenerateExtent = errors.New("field: degenerate vertical extent")
	// ErrInvalidGrid is returned for unusable lattice parameters.
	ErrInvalidGrid = errors.New("field: invalid grid parameters")
	// ErrOutOfDomain is returned by queries outside the lattice under PolicyRaise.
	ErrOutOfDomain = errors.New("field: query outside lattice domain")
)

// Policy selects how queries outside the lattice are handled.
type Policy int

const (
	// PolicyRaise fails the query with ErrOutOfDomain.
	PolicyRaise Policy = iota
	// PolicyNearest clamps the query point to the lattice boundary.
	PolicyNearest
)

func (p Policy) String() string {
	switch p {
	case PolicyRaise:
		return "raise"
	case PolicyNearest:
		return "nearest"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "raise", "":
		return PolicyRaise, nil
	case "nearest":
		return PolicyNearest, nil
	default:
		return 0, fmt.Errorf("unknown out-of-domain policy %q", s)
	}
}

// Method selects how lattice nodes are resolved from scattered samples.
type Method int

const (
	// MethodNearest takes the value of the closest sample.
	MethodNearest Method = iota
	// MethodShepard weights samples within a radius by r⁻².
	MethodShepard
)

func (m Method) String() string {
	switch m {
	case MethodNearest:
		return "nearest"
	case MethodShepard:
		return "shepard"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod maps a config string to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "nearest", "":
		return MethodNearest, nil
	case "shepard":
		return MethodShepard, nil
	default:
		return 0, fmt.Errorf("unknown gridding method %q", s)
	}
}

// Config holds the gridding parameters.
type Config struct {
	WavelengthMicrons float64
	NPx               int     // nodes per horizontal axis
	NH                int     // nodes on the vertical axis
	DomainWidth       float64 // horizontal lattice spans [-D/2, D/2]
	Policy            Policy
	Method            Method
	ShepardRadius     float64 // metres, MethodShepard only
	Workers           int     // concurrent lattice slices, 0 means NumCPU
}

// DefaultConfig returns the standard V band gridding.
func DefaultConfig() Config {
	return Config{
		WavelengthMicrons: 0.5,
		NPx:               421,
		NH:                101,
		DomainWidth:       26,
		Policy:            PolicyRaise,
		Method:            MethodNearest,
		ShepardRadius:     0.5,
	}
}

func (c Config) validate() error {
	if c.NPx < 2 {
		return fmt.Errorf("npx %d: %w", c.NPx, ErrInvalidGrid)
	}
	if c.NH < 2 {
		return fmt.Errorf("nh %d: %w", c.NH, ErrInvalidGrid)
	}
	if !(c.DomainWidth > 0) {
		return fmt.Errorf("domain width %g: %w", c.DomainWidth, ErrInvalidGrid)
	}
	if !(c.WavelengthMicrons > 0) {
		return fmt.Errorf("wavelength %g: %w", c.WavelengthMicrons, ErrInvalidGrid)
	}
	if c.Method == MethodShepard && !(c.ShepardRadius > 0) {
		return fmt.Errorf("shepard radius %g: %w", c.ShepardRadius, ErrInvalidGrid)
	}
	return nil
}

// Bounds is the closed box covered by the lattice.
type Bounds struct {
	Min [3]float64
	Max [3]float64
}

// Contains reports whether the point lies inside the box.
func (b Bounds) Contains(x, y, z float64) bool {
	return x >= b.Min[0] && x <= b.Max[0] &&
		y >= b.Min[1] && y <= b.Max[1] &&
		z >= b.Min[2] && z <= b.Max[2]
}

// Field is an immutable trilinear interpolant over a gridded refractive
// index volume. It is safe for concurrent queries.
type Field struct {
	lattice *Lattice
	policy  Policy
}

// Build grids the samples onto the lattice described by cfg.
func Build(samples *cfd.SampleSet, cfg Config) (*Field, error) {
	lat, err := BuildLattice(context.Background(), samples, cfg)
	if err != nil {
		return nil, err
	}
	return NewField(lat, cfg.Policy)
}

// BuildLattice resolves every lattice node from the scattered samples.
func BuildLattice(ctx context.Context, samples *cfd.SampleSet, cfg Config) (*Lattice, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ri, err := samples.RefractiveIndex(cfg.WavelengthMicrons)
	if err != nil {
		return nil, err
	}
	ext, err := samples.Extent()
	if err != nil {
		return nil, err
	}
	if ext.Min[2] == ext.Max[2] {
		return nil, fmt.Errorf("z spans [%g, %g]: %w", ext.Min[2], ext.Max[2], ErrDegenerateExtent)
	}

	start := time.Now()
	xs := make([]float64, samples.Len())
	ys := make([]float64, samples.Len())
	zs := make([]float64, samples.Len())
	for i, s := range samples.Samples {
		xs[i], ys[i], zs[i] = s.X, s.Y, s.Z
	}
	tree := newTree(xs, ys, zs, ri)

	var lk lookup = nearestLookup{tree: tree}
	if cfg.Method == MethodShepard {
		lk = shepardLookup{tree: tree, radiusSq: cfg.ShepardRadius * cfg.ShepardRadius}
	}

	half := cfg.DomainWidth / 2
	lat := &Lattice{
		X: NewAxis(-half, half, cfg.NPx),
		Y: NewAxis(-half, half, cfg.NPx),
		Z: NewAxis(ext.Min[2], ext.Max[2], cfg.NH),
	}
	lat.Values = make([]float64, lat.Len())

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	// One z slice per task; each writes a disjoint range of Values.
	for iz := 0; iz < lat.Z.N; iz++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			z := lat.Z.At(iz)
			for iy := 0; iy < lat.Y.N; iy++ {
				y := lat.Y.At(iy)
				for ix := 0; ix < lat.X.N; ix++ {
					lat.Values[lat.Index(ix, iy, iz)] = lk.at(lat.X.At(ix), y, z)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	monitoring.Logf("[field] gridded %d samples onto %dx%dx%d lattice (%s, z %.3f..%.3f m) in %s",
		samples.Len(), lat.X.N, lat.Y.N, lat.Z.N, cfg.Method, ext.Min[2], ext.Max[2],
		time.Since(start).Round(time.Millisecond))
	return lat, nil
}

// NewField wraps an existing lattice, for example one restored with
// DecodeLattice.
func NewField(lat *Lattice, policy Policy) (*Field, error) {
	if lat == nil {
		return nil, fmt.Errorf("nil lattice: %w", ErrInvalidGrid)
	}
	if err := lat.Validate(); err != nil {
		return nil, err
	}
	return &Field{lattice: lat, policy: policy}, nil
}

// Policy reports the active out-of-domain policy.
func (f *Field) Policy() Policy {
	return f.policy
}

// Bounds returns the lattice domain.
func (f *Field) Bounds() Bounds {
	l := f.lattice
	return Bounds{
		Min: [3]float64{l.X.Start, l.Y.Start, l.Z.Start},
		Max: [3]float64{l.X.End(), l.Y.End(), l.Z.End()},
	}
}

// Lattice returns the gridded volume. Callers must not modify it.
func (f *Field) Lattice() *Lattice {
	return f.lattice
}

// Query interpolates the refractive index at one point.
func (f *Field) Query(x, y, z float64) (float64, error) {
	l := f.lattice
	if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
		return 0, fmt.Errorf("point (%g, %g, %g): %w", x, y, z, ErrOutOfDomain)
	}
	if !l.X.contains(x) || !l.Y.contains(y) || !l.Z.contains(z) {
		if f.policy == PolicyRaise {
			return 0, fmt.Errorf("point (%g, %g, %g): %w", x, y, z, ErrOutOfDomain)
		}
		x, y, z = l.X.clamp(x), l.Y.clamp(y), l.Z.clamp(z)
	}
	return l.trilinear(x, y, z), nil
}

// QueryAll interpolates every point (xs[i], ys[i], zs[i]) into out[i].
// All slices must share one length.
func (f *Field) QueryAll(xs, ys, zs, out []float64) error {
	n := len(out)
	if len(xs) != n || len(ys) != n || len(zs) != n {
		return fmt.Errorf("query lengths %d/%d/%d/%d: %w", len(xs), len(ys), len(zs), n, ErrInvalidGrid)
	}
	for i := range out {
		v, err := f.Query(xs[i], ys[i], zs[i])
		if err != nil {
			return err
		}
		out[i] = v
	}
	monitoring.FieldQueries.Add(float64(n))
	return nil
}
