// Package pointcloud defines an ordered, colored point cloud and the operations the
// segmentation pipeline runs on it: voxel grid downsampling, axis range filtering and
// neighbour search.
//
// Clouds are ordered so that other stages can refer to points by index without copying
// point data. Points are treated as immutable once a cloud has been built.
package pointcloud

import (
	"image/color"
	"math"
	"time"

	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Point is a single colored point of a cloud.
type Point struct {
	P r3.Vector
	C color.NRGBA
}

// NewColoredPoint returns a point at (x, y, z) with the given RGB color.
func NewColoredPoint(x, y, z float64, r, g, b uint8) Point {
	return Point{P: NewVector(x, y, z), C: color.NRGBA{R: r, G: g, B: b, A: 255}}
}

// RGB255 returns the RGB components of the point color.
func (p Point) RGB255() (uint8, uint8, uint8) {
	return p.C.R, p.C.G, p.C.B
}

// IsFinite returns whether every coordinate of the point is a finite number.
func (p Point) IsFinite() bool {
	return isFinite(p.P.X) && isFinite(p.P.Y) && isFinite(p.P.Z)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Header identifies where and when a cloud was captured. It travels unchanged from an
// input cloud to every cloud derived from it.
type Header struct {
	Seq     uint32
	Stamp   time.Time
	FrameID string
}

// PointCloud is an ordered sequence of colored points.
type PointCloud struct {
	Header Header
	Points []Point
}

// New returns an empty cloud with the given header.
func New(header Header) *PointCloud {
	return NewWithPrealloc(header, 0)
}

// NewWithPrealloc returns an empty cloud with room for size points.
func NewWithPrealloc(header Header, size int) *PointCloud {
	return &PointCloud{Header: header, Points: make([]Point, 0, size)}
}

// Size returns the number of points in the cloud.
func (cloud *PointCloud) Size() int {
	if cloud == nil {
		return 0
	}
	return len(cloud.Points)
}

// Append adds points to the end of the cloud.
func (cloud *PointCloud) Append(pts ...Point) {
	cloud.Points = append(cloud.Points, pts...)
}

// At returns the point at index i.
func (cloud *PointCloud) At(i int) Point {
	return cloud.Points[i]
}

// Subset returns a new cloud holding the points at the given indices, in index order.
func (cloud *PointCloud) Subset(indices Indices) *PointCloud {
	out := NewWithPrealloc(cloud.Header, len(indices))
	for _, idx := range indices {
		out.Points = append(out.Points, cloud.Points[idx])
	}
	return out
}

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
	// Finite counts the points with only finite coordinates; bounds are computed from them.
	Finite int
}

// MetaData scans the cloud and returns its bounds.
func (cloud *PointCloud) MetaData() MetaData {
	meta := MetaData{
		MinX: math.MaxFloat64, MinY: math.MaxFloat64, MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64, MaxY: -math.MaxFloat64, MaxZ: -math.MaxFloat64,
	}
	for _, pt := range cloud.Points {
		if !pt.IsFinite() {
			continue
		}
		meta.Finite++
		v := pt.P
		meta.MinX = math.Min(meta.MinX, v.X)
		meta.MaxX = math.Max(meta.MaxX, v.X)
		meta.MinY = math.Min(meta.MinY, v.Y)
		meta.MaxY = math.Max(meta.MaxY, v.Y)
		meta.MinZ = math.Min(meta.MinZ, v.Z)
		meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	}
	return meta
}
