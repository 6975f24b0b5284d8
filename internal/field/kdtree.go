package field

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// samplePoint is a scattered sample keyed by position and carrying its
// refractive index. Queries use a samplePoint with V unset.
type samplePoint struct {
	X, Y, Z float64
	V       float64
}

// Compare implements kdtree.Comparable.
func (p samplePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(samplePoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims implements kdtree.Comparable.
func (p samplePoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (p samplePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(samplePoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// samplePoints satisfies kdtree.Interface.
type samplePoints []samplePoint

func (p samplePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p samplePoints) Len() int                              { return len(p) }
func (p samplePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p samplePoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{samplePoints: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{samplePoints: p, Dim: d}, 100))
}

// pointPlane implements kdtree.SortSlicer along one axis.
type pointPlane struct {
	samplePoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.samplePoints[i].X < p.samplePoints[j].X
	case 1:
		return p.samplePoints[i].Y < p.samplePoints[j].Y
	case 2:
		return p.samplePoints[i].Z < p.samplePoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{samplePoints: p.samplePoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.samplePoints[i], p.samplePoints[j] = p.samplePoints[j], p.samplePoints[i]
}

// lookup resolves a lattice node value from the scattered samples.
type lookup interface {
	at(x, y, z float64) float64
}

// nearestLookup returns the value of the closest sample.
type nearestLookup struct {
	tree *kdtree.Tree
}

func (n nearestLookup) at(x, y, z float64) float64 {
	c, _ := n.tree.Nearest(samplePoint{X: x, Y: y, Z: z})
	return c.(samplePoint).V
}

// shepardLookup is inverse squared distance weighting over every sample
// within radius of the node. A node with no sample in range takes the
// nearest sample value; a node coinciding with a sample takes its value.
type shepardLookup struct {
	tree     *kdtree.Tree
	radiusSq float64
}

func (s shepardLookup) at(x, y, z float64) float64 {
	q := samplePoint{X: x, Y: y, Z: z}
	keeper := kdtree.NewDistKeeper(s.radiusSq)
	s.tree.NearestSet(keeper, q)

	var num, denom float64
	found := false
	for _, cd := range keeper.Heap {
		// DistKeeper seeds its heap with a nil sentinel at the radius.
		if cd.Comparable == nil || cd.Dist > s.radiusSq {
			continue
		}
		p := cd.Comparable.(samplePoint)
		if cd.Dist == 0 {
			return p.V
		}
		w := 1 / cd.Dist
		num += w * p.V
		denom += w
		found = true
	}
	if !found {
		c, _ := s.tree.Nearest(q)
		return c.(samplePoint).V
	}
	return num / denom
}

func newTree(xs, ys, zs, vs []float64) *kdtree.Tree {
	pts := make(samplePoints, len(xs))
	for i := range pts {
		pts[i] = samplePoint{X: xs[i], Y: ys[i], Z: zs[i], V: vs[i]}
	}
	return kdtree.New(pts, false)
}
