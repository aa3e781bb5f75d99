package segmentation

import (
	"math/rand"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/cloudseg/pointcloud"
)

func defaultTestConfig() RegionGrowingConfig {
	return RegionGrowingConfig{
		DistanceThreshold:    0.015,
		PointColorThreshold:  6,
		RegionColorThreshold: 5,
		MinClusterSize:       10,
		RegionNeighbourCount: DefaultRegionNeighbourCount,
	}
}

// twoColorGrid builds a 10x10 grid with 1cm spacing, red where x < 5 and blue elsewhere.
func twoColorGrid() *pointcloud.PointCloud {
	pc := pointcloud.New(pointcloud.Header{FrameID: "camera"})
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			if i < 5 {
				pc.Append(pointcloud.NewColoredPoint(float64(i)*0.01, float64(j)*0.01, 0.5, 255, 0, 0))
			} else {
				pc.Append(pointcloud.NewColoredPoint(float64(i)*0.01, float64(j)*0.01, 0.5, 0, 0, 255))
			}
		}
	}
	return pc
}

func segment(t *testing.T, pc *pointcloud.PointCloud, indices pointcloud.Indices, cfg RegionGrowingConfig) []Region {
	t.Helper()
	regions, err := RegionGrowingRGB(pc, indices, pointcloud.NewKDTree(pc), cfg)
	test.That(t, err, test.ShouldBeNil)
	return regions
}

func TestRegionGrowingSeparatesColors(t *testing.T) {
	pc := twoColorGrid()
	regions := segment(t, pc, pointcloud.AllIndices(pc), defaultTestConfig())
	test.That(t, regions, test.ShouldHaveLength, 2)

	left := make(pointcloud.Indices, 50)
	right := make(pointcloud.Indices, 50)
	for i := range left {
		left[i] = i
		right[i] = 50 + i
	}
	test.That(t, regions[0].Indices, test.ShouldResemble, left)
	test.That(t, regions[1].Indices, test.ShouldResemble, right)
	test.That(t, regions[0].Color.R, test.ShouldEqual, uint8(255))
	test.That(t, regions[1].Color.B, test.ShouldEqual, uint8(255))
	test.That(t, regions[0].Centroid.X, test.ShouldAlmostEqual, 0.02)
	test.That(t, regions[1].Centroid.Y, test.ShouldAlmostEqual, 0.045)
}

func TestRegionGrowingMinSizeDominates(t *testing.T) {
	pc := pointcloud.New(pointcloud.Header{})
	for i := 0; i < 20; i++ {
		pc.Append(pointcloud.NewColoredPoint(float64(i)*0.01, 0, 0, 40, 40, 40))
	}
	cfg := defaultTestConfig()
	cfg.MinClusterSize = 600
	regions := segment(t, pc, pointcloud.AllIndices(pc), cfg)
	test.That(t, regions, test.ShouldNotBeNil)
	test.That(t, regions, test.ShouldBeEmpty)

	regions = segment(t, pc, pointcloud.Indices{}, defaultTestConfig())
	test.That(t, regions, test.ShouldBeEmpty)

	regions = segment(t, pointcloud.New(pointcloud.Header{}), nil, defaultTestConfig())
	test.That(t, regions, test.ShouldBeEmpty)
}

func TestRegionGrowingMergesHomogeneousRegions(t *testing.T) {
	pc := pointcloud.New(pointcloud.Header{})
	for i := 0; i < 20; i++ {
		r := uint8(100)
		if i >= 10 {
			r = 108
		}
		pc.Append(pointcloud.NewColoredPoint(float64(i)*0.01, 0, 0, r, 100, 100))
	}
	cfg := defaultTestConfig()
	cfg.MinClusterSize = 5

	regions := segment(t, pc, pointcloud.AllIndices(pc), cfg)
	test.That(t, regions, test.ShouldHaveLength, 2)
	test.That(t, regions[0].Size(), test.ShouldEqual, 10)
	test.That(t, regions[1].Indices[0], test.ShouldEqual, 10)

	cfg.RegionColorThreshold = 10
	regions = segment(t, pc, pointcloud.AllIndices(pc), cfg)
	test.That(t, regions, test.ShouldHaveLength, 1)
	test.That(t, regions[0].Size(), test.ShouldEqual, 20)
	test.That(t, regions[0].Color.R, test.ShouldEqual, uint8(104))
}

func TestRegionGrowingComparesWithSeedColor(t *testing.T) {
	// red rises by 4 per point, under the point threshold between neighbours but not
	// between a seed and the point two steps away
	pc := pointcloud.New(pointcloud.Header{})
	for i := 0; i < 20; i++ {
		pc.Append(pointcloud.NewColoredPoint(float64(i)*0.01, 0, 0, uint8(100+4*i), 100, 100))
	}
	cfg := defaultTestConfig()
	cfg.MinClusterSize = 1

	regions := segment(t, pc, pointcloud.AllIndices(pc), cfg)
	test.That(t, regions, test.ShouldHaveLength, 10)
	for i, r := range regions {
		test.That(t, r.Indices, test.ShouldResemble, pointcloud.Indices{2 * i, 2*i + 1})
	}
}

func TestRegionGrowingSmallRegions(t *testing.T) {
	pc := pointcloud.New(pointcloud.Header{})
	for i := 0; i < 20; i++ {
		pc.Append(pointcloud.NewColoredPoint(float64(i)*0.01, 0, 0, 255, 0, 0))
	}
	// a short off-color run touching the end of the line
	for i := 20; i < 23; i++ {
		pc.Append(pointcloud.NewColoredPoint(float64(i)*0.01, 0, 0, 200, 0, 0))
	}
	// isolated points too far from anything to join
	pc.Append(pointcloud.NewColoredPoint(5, 5, 5, 255, 0, 0))
	pc.Append(pointcloud.NewColoredPoint(-5, 5, 5, 255, 0, 0))

	regions := segment(t, pc, pointcloud.AllIndices(pc), defaultTestConfig())
	test.That(t, regions, test.ShouldHaveLength, 1)
	test.That(t, regions[0].Size(), test.ShouldEqual, 23)
	test.That(t, regions[0].Indices[22], test.ShouldEqual, 22)
}

func TestRegionGrowingRespectsIndices(t *testing.T) {
	pc := twoColorGrid()
	indices := pointcloud.Indices{}
	for i := 60; i < 100; i++ {
		indices = append(indices, i, i)
	}
	regions := segment(t, pc, indices, defaultTestConfig())
	test.That(t, regions, test.ShouldHaveLength, 1)
	test.That(t, regions[0].Size(), test.ShouldEqual, 40)
	test.That(t, regions[0].Indices[0], test.ShouldEqual, 60)
}

func TestRegionGrowingDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	pc := pointcloud.New(pointcloud.Header{})
	for i := 0; i < 600; i++ {
		shade := uint8(rng.Intn(3) * 100)
		pc.Append(pointcloud.NewColoredPoint(rng.Float64()*0.2, rng.Float64()*0.2, rng.Float64()*0.2,
			shade, shade+uint8(rng.Intn(4)), 50))
	}
	cfg := defaultTestConfig()
	cfg.DistanceThreshold = 0.03
	cfg.RegionNeighbourCount = 12

	indices := pointcloud.AllIndices(pc)
	first := segment(t, pc, indices, cfg)
	for i := 0; i < 3; i++ {
		test.That(t, segment(t, pc, indices, cfg), test.ShouldResemble, first)
	}

	seen := map[int]bool{}
	for _, r := range first {
		test.That(t, r.Size(), test.ShouldBeGreaterThanOrEqualTo, cfg.MinClusterSize)
		for _, idx := range r.Indices {
			test.That(t, seen[idx], test.ShouldBeFalse)
			seen[idx] = true
		}
	}
}

func TestRegionGrowingInvalidConfig(t *testing.T) {
	pc := twoColorGrid()
	for _, mutate := range []func(*RegionGrowingConfig){
		func(c *RegionGrowingConfig) { c.DistanceThreshold = -1 },
		func(c *RegionGrowingConfig) { c.PointColorThreshold = -0.5 },
		func(c *RegionGrowingConfig) { c.MinClusterSize = 0 },
		func(c *RegionGrowingConfig) { c.RegionNeighbourCount = 0 },
	} {
		cfg := defaultTestConfig()
		mutate(&cfg)
		_, err := RegionGrowingRGB(pc, pointcloud.AllIndices(pc), pointcloud.NewKDTree(pc), cfg)
		test.That(t, err, test.ShouldWrap, ErrInvalidConfig)
	}

	cfg := defaultTestConfig()
	_, err := RegionGrowingRGB(pc, pointcloud.AllIndices(pc), nil, cfg)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestColorDistance(t *testing.T) {
	test.That(t, ColorDistance(pointcloud.NewColoredPoint(0, 0, 0, 3, 4, 0).C, pointcloud.NewColoredPoint(0, 0, 0, 0, 0, 0).C),
		test.ShouldAlmostEqual, 5)
}
