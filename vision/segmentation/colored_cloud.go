package segmentation

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"go.viam.com/cloudseg/pointcloud"
)

// goldenAngle spreads consecutive region hues evenly around the color wheel.
const goldenAngle = 137.50776405003785

// RegionColor returns the display color of the i-th region. It depends only on i.
func RegionColor(i int) color.NRGBA {
	c := colorful.Hsv(math.Mod(float64(i)*goldenAngle, 360), 0.85, 0.95).Clamped()
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// ColoredCloud returns a cloud holding the points of every region, each painted with the color
// of its region. Points belonging to no region are left out. The header of cloud is kept.
func ColoredCloud(cloud *pointcloud.PointCloud, regions []Region) *pointcloud.PointCloud {
	size := 0
	for _, r := range regions {
		size += r.Size()
	}
	out := pointcloud.NewWithPrealloc(cloud.Header, size)
	for i, r := range regions {
		paint := RegionColor(i)
		for _, idx := range r.Indices {
			out.Append(pointcloud.Point{P: cloud.At(idx).P, C: paint})
		}
	}
	return out
}

// Labels returns, for each point of a cloud of the given size, the position of its region in
// regions or -1 when the point belongs to none.
func Labels(size int, regions []Region) []int {
	labels := make([]int, size)
	for i := range labels {
		labels[i] = -1
	}
	for id, r := range regions {
		for _, idx := range r.Indices {
			labels[idx] = id
		}
	}
	return labels
}
