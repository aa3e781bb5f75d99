package pointcloud

import (
	"image/color"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

/* In this file is the voxel grid downsampler. A voxel is an axis-aligned box of a regular
grid in three-dimensional space. Every occupied voxel is replaced by the centroid of the points
falling into it, colors averaged the same way.
*/

// ErrInvalidLeafSize is returned when a voxel leaf size is not a positive finite number.
var ErrInvalidLeafSize = errors.New("voxel leaf size must be positive and finite")

// maxVoxelIndex bounds voxel coordinates so that neighbouring keys never overflow int64.
const maxVoxelIndex = float64(1 << 62)

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// Less orders voxel coordinates by I, then J, then K.
func (c VoxelCoords) Less(c2 VoxelCoords) bool {
	if c.I != c2.I {
		return c.I < c2.I
	}
	if c.J != c2.J {
		return c.J < c2.J
	}
	return c.K < c2.K
}

// ValidateLeafSize checks that every component of a leaf size is positive and finite.
func ValidateLeafSize(leaf r3.Vector) error {
	for _, v := range []float64{leaf.X, leaf.Y, leaf.Z} {
		if !isFinite(v) || v <= 0 {
			return errors.Wrapf(ErrInvalidLeafSize, "got (%v, %v, %v)", leaf.X, leaf.Y, leaf.Z)
		}
	}
	return nil
}

// GetVoxelCoordinates computes the voxel key of a point: each coordinate divided by the leaf
// size along that axis, floored. The second return is false when the key cannot be represented.
func GetVoxelCoordinates(pt, leaf r3.Vector) (VoxelCoords, bool) {
	i := math.Floor(pt.X / leaf.X)
	j := math.Floor(pt.Y / leaf.Y)
	k := math.Floor(pt.Z / leaf.Z)
	if math.Abs(i) > maxVoxelIndex || math.Abs(j) > maxVoxelIndex || math.Abs(k) > maxVoxelIndex {
		return VoxelCoords{}, false
	}
	return VoxelCoords{I: int64(i), J: int64(j), K: int64(k)}, true
}

type voxelAccumulator struct {
	key     VoxelCoords
	sum     r3.Vector
	r, g, b float64
	a       float64
	n       int
}

func (acc *voxelAccumulator) add(pt Point) {
	acc.sum = acc.sum.Add(pt.P)
	acc.r += float64(pt.C.R)
	acc.g += float64(pt.C.G)
	acc.b += float64(pt.C.B)
	acc.a += float64(pt.C.A)
	acc.n++
}

func (acc *voxelAccumulator) centroid() Point {
	n := float64(acc.n)
	return Point{
		P: r3.Vector{X: acc.sum.X / n, Y: acc.sum.Y / n, Z: acc.sum.Z / n},
		C: color.NRGBA{
			R: uint8(math.Round(acc.r / n)),
			G: uint8(math.Round(acc.g / n)),
			B: uint8(math.Round(acc.b / n)),
			A: uint8(math.Round(acc.a / n)),
		},
	}
}

// VoxelGridFilter downsamples a cloud: every occupied voxel of the grid with the given leaf size
// is replaced by one point whose position and color are the mean of the points inside it.
// Points with non-finite coordinates are ignored. The output is ordered by voxel key and
// carries the input header. No state is retained between calls.
func VoxelGridFilter(cloud *PointCloud, leaf r3.Vector) (*PointCloud, error) {
	if err := ValidateLeafSize(leaf); err != nil {
		return nil, err
	}
	if cloud == nil {
		return nil, errors.New("nil point cloud")
	}

	voxels := make(map[VoxelCoords]*voxelAccumulator)
	for idx, pt := range cloud.Points {
		if !pt.IsFinite() {
			continue
		}
		key, ok := GetVoxelCoordinates(pt.P, leaf)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidLeafSize,
				"leaf size (%v, %v, %v) too small for point %d at %v", leaf.X, leaf.Y, leaf.Z, idx, pt.P)
		}
		acc, ok := voxels[key]
		if !ok {
			acc = &voxelAccumulator{key: key}
			voxels[key] = acc
		}
		acc.add(pt)
	}

	ordered := make([]*voxelAccumulator, 0, len(voxels))
	for _, acc := range voxels {
		ordered = append(ordered, acc)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].key.Less(ordered[j].key) })

	out := NewWithPrealloc(cloud.Header, len(ordered))
	for _, acc := range ordered {
		out.Points = append(out.Points, acc.centroid())
	}
	return out, nil
}
