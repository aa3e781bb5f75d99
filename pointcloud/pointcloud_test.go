package pointcloud

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestPointCloudBasic(t *testing.T) {
	header := Header{Seq: 4, Stamp: time.Unix(1700000000, 250), FrameID: "camera_depth_optical_frame"}
	pc := New(header)
	test.That(t, pc.Size(), test.ShouldEqual, 0)

	pc.Append(NewColoredPoint(0, 0, 0, 255, 0, 0), NewColoredPoint(1, 0, 1, 0, 255, 0))
	pc.Append(NewColoredPoint(-1, -2, 1, 0, 0, 255))
	test.That(t, pc.Size(), test.ShouldEqual, 3)

	r, g, b := pc.At(1).RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{0, 255, 0})

	sub := pc.Subset(Indices{2, 0})
	test.That(t, sub.Header, test.ShouldResemble, header)
	test.That(t, sub.Size(), test.ShouldEqual, 2)
	test.That(t, sub.At(0).P, test.ShouldResemble, NewVector(-1, -2, 1))
	test.That(t, sub.At(1).P, test.ShouldResemble, NewVector(0, 0, 0))

	var nilCloud *PointCloud
	test.That(t, nilCloud.Size(), test.ShouldEqual, 0)
}

func TestPointCloudMetaData(t *testing.T) {
	pc := New(Header{})
	pc.Append(
		NewColoredPoint(1, -2, 3, 0, 0, 0),
		NewColoredPoint(-1, 5, 0.5, 0, 0, 0),
		NewColoredPoint(math.NaN(), 100, 100, 0, 0, 0),
	)
	meta := pc.MetaData()
	test.That(t, meta.Finite, test.ShouldEqual, 2)
	test.That(t, meta.MinX, test.ShouldEqual, -1.)
	test.That(t, meta.MaxX, test.ShouldEqual, 1.)
	test.That(t, meta.MinY, test.ShouldEqual, -2.)
	test.That(t, meta.MaxY, test.ShouldEqual, 5.)
	test.That(t, meta.MinZ, test.ShouldEqual, 0.5)
	test.That(t, meta.MaxZ, test.ShouldEqual, 3.)
}
