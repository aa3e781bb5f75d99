package pointcloud

import (
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// NeighborSearcher finds the points of one cloud that lie near a query point.
type NeighborSearcher interface {
	// RadiusSearch returns, in ascending order, the indices of every point within radius of
	// the point at index idx. The query point itself is not included.
	RadiusSearch(idx int, radius float64) Indices
	// NearestKSearch returns, in ascending order, the indices of at most k points within radius
	// of the point at index idx, nearest first when there are more than k.
	NearestKSearch(idx, k int, radius float64) Indices
}

// indexedPoint is a kd-tree entry remembering where the point lives in its cloud.
type indexedPoint struct {
	v   r3.Vector
	idx int
}

func coord(v r3.Vector, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Compare returns the signed distance of p from the plane passing through c along dimension d.
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	return coord(p.v, d) - coord(q.v, d)
}

func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between p and c.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	return p.v.Sub(q.v).Norm2()
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                      { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	plane := indexedPlane{dim: d, points: p}
	return kdtree.Partition(plane, kdtree.MedianOfMedians(plane))
}

// indexedPlane sorts points along a single dimension for pivot selection.
type indexedPlane struct {
	dim    kdtree.Dim
	points indexedPoints
}

func (p indexedPlane) Len() int { return len(p.points) }
func (p indexedPlane) Less(i, j int) bool {
	return coord(p.points[i].v, p.dim) < coord(p.points[j].v, p.dim)
}
func (p indexedPlane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p indexedPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

// KDTree is a NeighborSearcher backed by a gonum kd-tree built over the finite points of a cloud.
type KDTree struct {
	tree   *kdtree.Tree
	points []r3.Vector
	finite []bool
}

// NewKDTree builds a kd-tree over cloud. Points with non-finite coordinates are left out and
// never returned as neighbours.
func NewKDTree(cloud *PointCloud) *KDTree {
	return NewKDTreeSubset(cloud, AllIndices(cloud))
}

// NewKDTreeSubset builds a kd-tree over the points of cloud selected by indices. Searches only
// ever return members of the subset, and only members can be used as query points.
func NewKDTreeSubset(cloud *PointCloud, indices Indices) *KDTree {
	entries := make(indexedPoints, 0, len(indices))
	kd := &KDTree{
		points: make([]r3.Vector, cloud.Size()),
		finite: make([]bool, cloud.Size()),
	}
	for _, i := range indices {
		if i < 0 || i >= cloud.Size() || kd.finite[i] {
			continue
		}
		pt := cloud.Points[i]
		kd.points[i] = pt.P
		if !pt.IsFinite() {
			continue
		}
		kd.finite[i] = true
		entries = append(entries, indexedPoint{v: pt.P, idx: i})
	}
	if len(entries) > 0 {
		kd.tree = kdtree.New(entries, false)
	}
	return kd
}

// RadiusSearch returns the indices of the points within radius of the point at idx.
func (kd *KDTree) RadiusSearch(idx int, radius float64) Indices {
	if kd.tree == nil || idx < 0 || idx >= len(kd.points) || !kd.finite[idx] || radius < 0 {
		return Indices{}
	}
	return kd.radiusSearch(kd.points[idx], radius, idx)
}

// NearestKSearch returns the indices of the k nearest points within radius of the point at idx.
func (kd *KDTree) NearestKSearch(idx, k int, radius float64) Indices {
	if kd.tree == nil || idx < 0 || idx >= len(kd.points) || !kd.finite[idx] || radius < 0 || k < 1 {
		return Indices{}
	}
	// the query point is always its own nearest neighbour
	keeper := kdtree.NewNKeeper(k + 1)
	kd.tree.NearestSet(keeper, indexedPoint{v: kd.points[idx], idx: -1})

	limit := radius * radius
	found := make([]kdtree.ComparableDist, 0, keeper.Len())
	for _, c := range keeper.Heap {
		if c.Comparable == nil || c.Dist > limit || c.Comparable.(indexedPoint).idx == idx {
			continue
		}
		found = append(found, c)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Dist != found[j].Dist {
			return found[i].Dist < found[j].Dist
		}
		return found[i].Comparable.(indexedPoint).idx < found[j].Comparable.(indexedPoint).idx
	})
	if len(found) > k {
		// duplicate positions can displace the query point itself
		found = found[:k]
	}
	out := make(Indices, 0, len(found))
	for _, c := range found {
		out = append(out, c.Comparable.(indexedPoint).idx)
	}
	sort.Ints(out)
	return out
}

func (kd *KDTree) radiusSearch(v r3.Vector, radius float64, exclude int) Indices {
	keeper := kdtree.NewDistKeeper(radius * radius)
	kd.tree.NearestSet(keeper, indexedPoint{v: v, idx: -1})

	out := make(Indices, 0, keeper.Len())
	for _, found := range keeper.Heap {
		// the keeper seeds its heap with a nil entry holding the distance bound
		if found.Comparable == nil {
			continue
		}
		n := found.Comparable.(indexedPoint).idx
		if n == exclude {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
