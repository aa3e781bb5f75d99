package params

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/cloudseg/logging"
	"go.viam.com/cloudseg/pointcloud"
)

func TestValuesReadBack(t *testing.T) {
	tunables := DefaultTunables()
	tunables.FilterAxis = pointcloud.AxisY
	tunables.FilterLow = -0.25
	tunables.MinClusterSize = 42
	tunables.LeafSize = r3.Vector{X: 0.01, Y: 0.02, Z: 0.03}
	tunables.OutputMode = OutputSegmented

	values := tunables.Values()
	test.That(t, values, test.ShouldHaveLength, len(Keys))
	test.That(t, values[KeyFilterFieldName], test.ShouldEqual, "y")
	test.That(t, values[KeyMinClusterSize], test.ShouldEqual, "42")
	test.That(t, values[KeyLeafSizeX], test.ShouldEqual, "0.01")

	adapter := NewAdapter(NewMapStore(values), "", logging.NewTestLogger(t))
	got, err := adapter.Refresh(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, tunables)
}

func TestTunablesString(t *testing.T) {
	tunables := DefaultTunables()
	tunables.OutputMode = OutputSegmented
	out := tunables.String()
	for _, key := range Keys {
		test.That(t, out, test.ShouldContainSubstring, key)
	}
	test.That(t, out, test.ShouldContainSubstring, "segmented")
	test.That(t, out, test.ShouldContainSubstring, "downsampled")
}
