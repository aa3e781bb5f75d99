// Package segmentation groups the points of a cloud into regions.
package segmentation

import (
	"image/color"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/cloudseg/pointcloud"
)

// ErrInvalidConfig is returned when region growing thresholds are out of range.
var ErrInvalidConfig = errors.New("invalid region growing config")

// DefaultRegionNeighbourCount is the number of nearest neighbours considered per point and
// per region.
const DefaultRegionNeighbourCount = 100

// RegionGrowingConfig specifies the parameters of color based region growing.
type RegionGrowingConfig struct {
	// DistanceThreshold is the radius within which two points are neighbours.
	DistanceThreshold float64 `json:"distance_threshold"`
	// PointColorThreshold bounds the RGB distance between a region seed and a point joining it.
	PointColorThreshold float64 `json:"point_color_threshold"`
	// RegionColorThreshold bounds the RGB distance between the mean colors of merged regions.
	RegionColorThreshold float64 `json:"region_color_threshold"`
	MinClusterSize       int     `json:"min_cluster_size"`
	RegionNeighbourCount int     `json:"region_neighbour_count"`
}

// CheckValid checks that every threshold is finite and in range.
func (cfg *RegionGrowingConfig) CheckValid() error {
	for _, threshold := range []struct {
		name string
		v    float64
	}{
		{"distance_threshold", cfg.DistanceThreshold},
		{"point_color_threshold", cfg.PointColorThreshold},
		{"region_color_threshold", cfg.RegionColorThreshold},
	} {
		if math.IsNaN(threshold.v) || math.IsInf(threshold.v, 0) || threshold.v < 0 {
			return errors.Wrapf(ErrInvalidConfig, "%s must be a non-negative number, got %v", threshold.name, threshold.v)
		}
	}
	if cfg.MinClusterSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "min_cluster_size must be at least 1, got %d", cfg.MinClusterSize)
	}
	if cfg.RegionNeighbourCount < 1 {
		return errors.Wrapf(ErrInvalidConfig, "region_neighbour_count must be at least 1, got %d", cfg.RegionNeighbourCount)
	}
	return nil
}

// Region is a set of neighbouring points of similar color.
type Region struct {
	// Indices are the member points in ascending order.
	Indices  pointcloud.Indices
	Color    color.NRGBA
	Centroid r3.Vector
}

// Size returns the number of points in the region.
func (r Region) Size() int {
	return len(r.Indices)
}

// ColorDistance is the euclidean distance between two colors in 0-255 RGB space.
func ColorDistance(a, b color.NRGBA) float64 {
	return toColorful(a).DistanceRgb(toColorful(b)) * 255
}

func toColorful(c color.NRGBA) colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

type regionStats struct {
	members []int
	sum     r3.Vector
	rgb     [3]float64
}

func (s *regionStats) add(idx int, pt pointcloud.Point) {
	s.members = append(s.members, idx)
	s.sum = s.sum.Add(pt.P)
	s.rgb[0] += float64(pt.C.R)
	s.rgb[1] += float64(pt.C.G)
	s.rgb[2] += float64(pt.C.B)
}

func (s *regionStats) merge(other *regionStats) {
	s.members = append(s.members, other.members...)
	s.sum = s.sum.Add(other.sum)
	for i := range s.rgb {
		s.rgb[i] += other.rgb[i]
	}
}

func (s *regionStats) size() int {
	return len(s.members)
}

func (s *regionStats) meanColor() colorful.Color {
	n := float64(s.size()) * 255
	return colorful.Color{R: s.rgb[0] / n, G: s.rgb[1] / n, B: s.rgb[2] / n}
}

func (s *regionStats) centroid() r3.Vector {
	return s.sum.Mul(1 / float64(s.size()))
}

func (s *regionStats) region() Region {
	members := append(pointcloud.Indices{}, s.members...)
	sort.Ints(members)
	n := float64(s.size())
	return Region{
		Indices: members,
		Color: color.NRGBA{
			R: uint8(math.Round(s.rgb[0] / n)),
			G: uint8(math.Round(s.rgb[1] / n)),
			B: uint8(math.Round(s.rgb[2] / n)),
			A: 255,
		},
		Centroid: s.centroid(),
	}
}

type regionGrower struct {
	cloud      *pointcloud.PointCloud
	searcher   pointcloud.NeighborSearcher
	cfg        RegionGrowingConfig
	candidates []int
	candidate  []bool
	neighbours [][]int
	labels     []int

	regions   []*regionStats
	adjacency [][]int
	parent    []int
}

// RegionGrowingRGB segments the candidate points of cloud into regions of similar color.
//
// Seeds are visited in ascending index order. A region grows breadth first through the
// neighbours returned by searcher, admitting unassigned candidates whose color is within
// PointColorThreshold of the seed color. Adjacent regions whose mean colors are within
// RegionColorThreshold are then merged, regions below MinClusterSize are folded into the
// adjacent region of closest color, and any region still below MinClusterSize is dropped.
//
// Regions are returned ordered by their smallest member index. An empty index set or fewer
// candidates than MinClusterSize yields no regions.
func RegionGrowingRGB(
	cloud *pointcloud.PointCloud,
	indices pointcloud.Indices,
	searcher pointcloud.NeighborSearcher,
	cfg RegionGrowingConfig,
) ([]Region, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if searcher == nil {
		return nil, errors.New("region growing needs a neighbour searcher")
	}
	rg := newRegionGrower(cloud, indices, searcher, cfg)
	if len(rg.candidates) == 0 || len(rg.candidates) < cfg.MinClusterSize {
		return []Region{}, nil
	}
	rg.findPointNeighbours()
	rg.growRegions()
	rg.findRegionNeighbours()
	rg.mergeHomogeneousRegions()
	groups := rg.assembleGroups()
	rg.absorbSmallGroups(groups)
	return rg.output(groups), nil
}

func newRegionGrower(
	cloud *pointcloud.PointCloud,
	indices pointcloud.Indices,
	searcher pointcloud.NeighborSearcher,
	cfg RegionGrowingConfig,
) *regionGrower {
	rg := &regionGrower{
		cloud:     cloud,
		searcher:  searcher,
		cfg:       cfg,
		candidate: make([]bool, cloud.Size()),
	}
	for _, idx := range lo.Uniq(indices) {
		if idx < 0 || idx >= cloud.Size() || !cloud.At(idx).IsFinite() {
			continue
		}
		rg.candidate[idx] = true
		rg.candidates = append(rg.candidates, idx)
	}
	sort.Ints(rg.candidates)
	return rg
}

func (rg *regionGrower) findPointNeighbours() {
	rg.neighbours = make([][]int, rg.cloud.Size())
	for _, idx := range rg.candidates {
		found := rg.searcher.NearestKSearch(idx, rg.cfg.RegionNeighbourCount, rg.cfg.DistanceThreshold)
		kept := make([]int, 0, len(found))
		for _, n := range found {
			if n != idx && n >= 0 && n < len(rg.candidate) && rg.candidate[n] {
				kept = append(kept, n)
			}
		}
		sort.Ints(kept)
		rg.neighbours[idx] = kept
	}
}

func (rg *regionGrower) growRegions() {
	rg.labels = make([]int, rg.cloud.Size())
	for i := range rg.labels {
		rg.labels[i] = -1
	}
	for _, seed := range rg.candidates {
		if rg.labels[seed] >= 0 {
			continue
		}
		id := len(rg.regions)
		seedColor := rg.cloud.At(seed).C
		stats := &regionStats{}

		rg.labels[seed] = id
		queue := []int{seed}
		for head := 0; head < len(queue); head++ {
			cur := queue[head]
			stats.add(cur, rg.cloud.At(cur))
			for _, n := range rg.neighbours[cur] {
				if rg.labels[n] >= 0 {
					continue
				}
				if ColorDistance(seedColor, rg.cloud.At(n).C) > rg.cfg.PointColorThreshold {
					continue
				}
				rg.labels[n] = id
				queue = append(queue, n)
			}
		}
		rg.regions = append(rg.regions, stats)
	}
}

// findRegionNeighbours links regions owning neighbouring points, keeping for each region the
// RegionNeighbourCount nearest by centroid distance.
func (rg *regionGrower) findRegionNeighbours() {
	rg.adjacency = make([][]int, len(rg.regions))
	centroids := make([]r3.Vector, len(rg.regions))
	for id, stats := range rg.regions {
		centroids[id] = stats.centroid()
	}
	for id, stats := range rg.regions {
		seen := map[int]struct{}{}
		adjacent := []int{}
		for _, idx := range stats.members {
			for _, n := range rg.neighbours[idx] {
				other := rg.labels[n]
				if other == id {
					continue
				}
				if _, ok := seen[other]; ok {
					continue
				}
				seen[other] = struct{}{}
				adjacent = append(adjacent, other)
			}
		}
		sort.Slice(adjacent, func(i, j int) bool {
			di := centroids[id].Sub(centroids[adjacent[i]]).Norm2()
			dj := centroids[id].Sub(centroids[adjacent[j]]).Norm2()
			if di != dj {
				return di < dj
			}
			return adjacent[i] < adjacent[j]
		})
		if len(adjacent) > rg.cfg.RegionNeighbourCount {
			adjacent = adjacent[:rg.cfg.RegionNeighbourCount]
		}
		sort.Ints(adjacent)
		rg.adjacency[id] = adjacent
	}
}

func (rg *regionGrower) find(id int) int {
	for rg.parent[id] != id {
		rg.parent[id] = rg.parent[rg.parent[id]]
		id = rg.parent[id]
	}
	return id
}

func (rg *regionGrower) mergeHomogeneousRegions() {
	rg.parent = make([]int, len(rg.regions))
	for id := range rg.parent {
		rg.parent[id] = id
	}
	colors := make([]colorful.Color, len(rg.regions))
	for id, stats := range rg.regions {
		colors[id] = stats.meanColor()
	}
	for a, adjacent := range rg.adjacency {
		for _, b := range adjacent {
			if colors[a].DistanceRgb(colors[b])*255 > rg.cfg.RegionColorThreshold {
				continue
			}
			ra, rb := rg.find(a), rg.find(b)
			if ra == rb {
				continue
			}
			if ra < rb {
				rg.parent[rb] = ra
			} else {
				rg.parent[ra] = rb
			}
		}
	}
}

// group is a set of merged regions.
type group struct {
	stats   *regionStats
	origins []int
}

// assembleGroups collects the merged regions by root, indexed by root id. Non-roots are nil.
func (rg *regionGrower) assembleGroups() []*group {
	groups := make([]*group, len(rg.regions))
	for id, stats := range rg.regions {
		root := rg.find(id)
		if groups[root] == nil {
			groups[root] = &group{stats: &regionStats{}}
		}
		groups[root].stats.merge(stats)
		groups[root].origins = append(groups[root].origins, id)
	}
	return groups
}

func (rg *regionGrower) adjacentGroups(root int, groups []*group) []int {
	seen := map[int]struct{}{}
	var out []int
	for _, origin := range groups[root].origins {
		for _, other := range rg.adjacency[origin] {
			r := rg.find(other)
			if r == root || groups[r] == nil {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return out
}

// absorbSmallGroups folds every group below the minimum size into the adjacent group with the
// closest mean color.
func (rg *regionGrower) absorbSmallGroups(groups []*group) {
	for root := range groups {
		small := groups[root]
		if small == nil || small.stats.size() >= rg.cfg.MinClusterSize {
			continue
		}
		target := -1
		best := math.Inf(1)
		smallColor := small.stats.meanColor()
		for _, other := range rg.adjacentGroups(root, groups) {
			d := smallColor.DistanceRgb(groups[other].stats.meanColor())
			if d < best {
				best, target = d, other
			}
		}
		if target < 0 {
			continue
		}
		groups[target].stats.merge(small.stats)
		groups[target].origins = append(groups[target].origins, small.origins...)
		rg.parent[root] = target
		groups[root] = nil
	}
}

func (rg *regionGrower) output(groups []*group) []Region {
	out := []Region{}
	for _, g := range groups {
		if g == nil || g.stats.size() < rg.cfg.MinClusterSize {
			continue
		}
		out = append(out, g.stats.region())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Indices[0] < out[j].Indices[0] })
	return out
}
