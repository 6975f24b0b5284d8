package field

import (
	"fmt"
	"math"
)

// Axis is a uniformly spaced set of lattice node coordinates covering
// [Start, Stop] inclusive.
type Axis struct {
	Start float64
	Stop  float64
	N     int
}

// NewAxis returns n evenly spaced nodes covering [lo, hi] inclusive.
func NewAxis(lo, hi float64, n int) Axis {
	return Axis{Start: lo, Stop: hi, N: n}
}

// Step returns the node spacing.
func (a Axis) Step() float64 {
	return (a.Stop - a.Start) / float64(a.N-1)
}

// At returns the coordinate of node i. The last node is exactly Stop.
func (a Axis) At(i int) float64 {
	if i == a.N-1 {
		return a.Stop
	}
	return a.Start + float64(i)*a.Step()
}

// End returns the upper bound of the axis.
func (a Axis) End() float64 {
	return a.Stop
}

// Nodes returns every node coordinate.
func (a Axis) Nodes() []float64 {
	out := make([]float64, a.N)
	for i := range out {
		out[i] = a.At(i)
	}
	return out
}

// contains reports whether v lies within the closed axis interval.
func (a Axis) contains(v float64) bool {
	return v >= a.Start && v <= a.End()
}

// clamp limits v to the closed axis interval.
func (a Axis) clamp(v float64) float64 {
	return math.Max(a.Start, math.Min(v, a.End()))
}

// cell returns the lower node index of the cell containing v and the
// fractional position within it. v must lie in the axis interval.
func (a Axis) cell(v float64) (int, float64) {
	i := int(math.Floor((v - a.Start) / a.Step()))
	if i < 0 {
		i = 0
	}
	if i > a.N-2 {
		i = a.N - 2
	}
	d := (v - a.At(i)) / (a.At(i+1) - a.At(i))
	return i, d
}

var axisNames = [3]string{"x", "y", "z"}

// Lattice is a dense regular volume of refractive index values indexed as
// Values[ix + iy*X.N + iz*X.N*Y.N].
type Lattice struct {
	X, Y, Z Axis
	Values  []float64
}

// Len returns the number of nodes.
func (l *Lattice) Len() int {
	return l.X.N * l.Y.N * l.Z.N
}

// Index flattens a node triple.
func (l *Lattice) Index(ix, iy, iz int) int {
	return ix + iy*l.X.N + iz*l.X.N*l.Y.N
}

// At returns the value at a node.
func (l *Lattice) At(ix, iy, iz int) float64 {
	return l.Values[l.Index(ix, iy, iz)]
}

// Validate checks that the lattice is usable by the interpolant.
func (l *Lattice) Validate() error {
	for i, a := range [3]Axis{l.X, l.Y, l.Z} {
		name := axisNames[i]
		if a.N < 2 {
			return fmt.Errorf("%s axis has %d nodes: %w", name, a.N, ErrInvalidGrid)
		}
		if !(a.Stop > a.Start) {
			return fmt.Errorf("%s axis [%g, %g]: %w", name, a.Start, a.Stop, ErrDegenerateExtent)
		}
	}
	if len(l.Values) != l.Len() {
		return fmt.Errorf("lattice has %d values for %d nodes: %w", len(l.Values), l.Len(), ErrInvalidGrid)
	}
	return nil
}

// trilinear evaluates the interpolant at a point inside the lattice.
func (l *Lattice) trilinear(x, y, z float64) float64 {
	ix, xd := l.X.cell(x)
	iy, yd := l.Y.cell(y)
	iz, zd := l.Z.cell(z)

	dix, diy, diz := 1, l.X.N, l.X.N*l.Y.N
	i := l.Index(ix, iy, iz)

	v111 := l.Values[i]
	v112 := l.Values[i+diz]
	v121 := l.Values[i+diy]
	v122 := l.Values[i+diy+diz]
	v211 := l.Values[i+dix]
	v212 := l.Values[i+dix+diz]
	v221 := l.Values[i+dix+diy]
	v222 := l.Values[i+dix+diy+diz]

	c11 := v111*(1-xd) + v211*xd
	c21 := v121*(1-xd) + v221*xd
	c12 := v112*(1-xd) + v212*xd
	c22 := v122*(1-xd) + v222*xd

	c1 := c11*(1-yd) + c21*yd
	c2 := c12*(1-yd) + c22*yd

	return c1*(1-zd) + c2*zd
}
