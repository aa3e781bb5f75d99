package pointcloud

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"go.viam.com/test"
)

func TestParseAxis(t *testing.T) {
	for in, expected := range map[string]Axis{"x": AxisX, "Y": AxisY, " z ": AxisZ} {
		axis, err := ParseAxis(in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, axis, test.ShouldEqual, expected)
	}
	test.That(t, AxisY.String(), test.ShouldEqual, "y")

	_, err := ParseAxis("rgb")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown filter field name")
}

func TestFilterRangeDepthBand(t *testing.T) {
	pc := New(Header{FrameID: "cam"})
	for _, z := range []float64{-0.5, 0.2, 0.9, 1.5} {
		pc.Append(NewColoredPoint(0, 0, z, 10, 10, 10))
	}
	indices, err := FilterRange(pc, AxisZ, 0.0, 1.0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, indices, test.ShouldResemble, Indices{1, 2})
}

func TestFilterRangeInclusiveAndNonFinite(t *testing.T) {
	pc := New(Header{})
	pc.Append(
		NewColoredPoint(0, 0, 0, 0, 0, 0),
		NewColoredPoint(0, 0, 1, 0, 0, 0),
		NewColoredPoint(0, 0, math.NaN(), 0, 0, 0),
		NewColoredPoint(0, 0, math.Inf(1), 0, 0, 0),
		NewColoredPoint(math.NaN(), 0, 0.5, 0, 0, 0),
	)
	indices, err := FilterRange(pc, AxisZ, 0, 1)
	test.That(t, err, test.ShouldBeNil)
	// only the selected axis has to be finite
	test.That(t, indices, test.ShouldResemble, Indices{0, 1, 4})

	indices, err = FilterRange(pc, AxisX, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, indices, test.ShouldResemble, Indices{0, 1, 2, 3})
}

func TestFilterRangeEmpty(t *testing.T) {
	pc := New(Header{})
	pc.Append(NewColoredPoint(0, 0, 5, 0, 0, 0))
	indices, err := FilterRange(pc, AxisZ, 0, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, indices, test.ShouldNotBeNil)
	test.That(t, len(indices), test.ShouldEqual, 0)

	indices, err = FilterRange(New(Header{}), AxisZ, 0, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(indices), test.ShouldEqual, 0)
}

func TestFilterRangeInvalid(t *testing.T) {
	pc := New(Header{})
	pc.Append(NewColoredPoint(0, 0, 0.5, 0, 0, 0))

	_, err := FilterRange(pc, AxisZ, 1.0, 0.0)
	test.That(t, err, test.ShouldWrap, ErrInvalidRange)
	test.That(t, err.Error(), test.ShouldContainSubstring, "greater than high")

	_, err = FilterRange(pc, AxisZ, math.NaN(), 1)
	test.That(t, err, test.ShouldWrap, ErrInvalidRange)
	_, err = FilterRange(pc, AxisZ, 0, math.Inf(1))
	test.That(t, err, test.ShouldWrap, ErrInvalidRange)
}

func TestFilterRangeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pc := New(Header{})
	for i := 0; i < 500; i++ {
		pc.Append(NewColoredPoint(rng.Float64()*4-2, rng.Float64()*4-2, rng.Float64()*4-2, 0, 0, 0))
	}
	for _, axis := range []Axis{AxisX, AxisY, AxisZ} {
		low, high := -0.5, 0.75
		first, err := FilterRange(pc, axis, low, high)
		test.That(t, err, test.ShouldBeNil)

		inSet := make(map[int]bool, len(first))
		for _, idx := range first {
			test.That(t, inSet[idx], test.ShouldBeFalse)
			inSet[idx] = true
			v := axis.Value(pc.At(idx))
			test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, low)
			test.That(t, v, test.ShouldBeLessThanOrEqualTo, high)
		}
		for i, pt := range pc.Points {
			v := axis.Value(pt)
			if v >= low && v <= high {
				test.That(t, inSet[i], test.ShouldBeTrue)
			}
		}

		second, err := FilterRange(pc, axis, low, high)
		test.That(t, err, test.ShouldBeNil)
		sort.Ints(first)
		sort.Ints(second)
		test.That(t, second, test.ShouldResemble, first)
	}
}

func TestAllIndices(t *testing.T) {
	pc := New(Header{})
	pc.Append(NewColoredPoint(0, 0, 0, 0, 0, 0), NewColoredPoint(1, 1, 1, 0, 0, 0))
	test.That(t, AllIndices(pc), test.ShouldResemble, Indices{0, 1})
	test.That(t, len(AllIndices(nil)), test.ShouldEqual, 0)
}
