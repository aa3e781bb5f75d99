package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"go.viam.com/cloudseg/logging"
	"go.viam.com/cloudseg/params"
	"go.viam.com/cloudseg/ros"
	"go.viam.com/cloudseg/transport"
)

const testPCD = `VERSION 0.7
FIELDS x y z rgb
SIZE 4 4 4 4
TYPE F F F U
COUNT 1 1 1 1
WIDTH 2
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 2
DATA ascii
0.1 0.2 0.3 16711680
0.4 0.5 0.6 255
`

func writePCD(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloud.pcd")
	test.That(t, os.WriteFile(path, []byte(testPCD), 0o600), test.ShouldBeNil)
	return path
}

func TestParseLogLevel(t *testing.T) {
	level, err := parseLogLevel(false, "warn")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, logging.WARN)

	level, err = parseLogLevel(true, "error")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, logging.DEBUG)

	_, err = parseLogLevel(false, "loud")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")
}

func TestLoadReplayClouds(t *testing.T) {
	path := writePCD(t)
	msgs, restamp, err := loadReplayClouds([]string{path, path}, "", "", "map")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, restamp, test.ShouldBeTrue)
	test.That(t, msgs, test.ShouldHaveLength, 2)
	test.That(t, msgs[0].Header.FrameID, test.ShouldEqual, "map")
	test.That(t, msgs[0].Width, test.ShouldEqual, 2)

	_, _, err = loadReplayClouds(nil, "", "", "map")
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = loadReplayClouds([]string{path}, "some.bag", "/points", "map")
	test.That(t, err.Error(), test.ShouldContainSubstring, "only one of")
	_, _, err = loadReplayClouds([]string{filepath.Join(t.TempDir(), "missing.pcd")}, "", "", "map")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewLocalBus()
	var got []*ros.PointCloud2
	_, err := bus.Subscribe(ctx, "in", func(msg *ros.PointCloud2) { got = append(got, msg) })
	test.That(t, err, test.ShouldBeNil)

	msgs, _, err := loadReplayClouds([]string{writePCD(t), writePCD(t), writePCD(t)}, "", "", "map")
	test.That(t, err, test.ShouldBeNil)

	r := replayer{
		pub:     bus,
		topic:   "in",
		rate:    1000,
		restamp: true,
		clock:   clock.New(),
		logger:  logging.NewTestLogger(t),
	}
	test.That(t, r.run(ctx, msgs), test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 3)
	for i, msg := range got {
		test.That(t, msg.Header.Seq, test.ShouldEqual, uint32(i))
		test.That(t, msg.Header.FrameID, test.ShouldEqual, "map")
		test.That(t, msg.Header.Stamp.IsZero(), test.ShouldBeFalse)
	}

	r.rate = 0
	test.That(t, r.run(ctx, msgs), test.ShouldNotBeNil)
	r.rate = 1
	test.That(t, r.run(ctx, nil), test.ShouldNotBeNil)
}

func TestReplayLoopStopsOnCancel(t *testing.T) {
	bus := transport.NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	count := 0
	_, err := bus.Subscribe(ctx, "in", func(*ros.PointCloud2) {
		count++
		if count == 5 {
			cancel()
		}
	})
	test.That(t, err, test.ShouldBeNil)

	msgs, _, err := loadReplayClouds([]string{writePCD(t)}, "", "", "map")
	test.That(t, err, test.ShouldBeNil)
	r := replayer{pub: bus, topic: "in", rate: 1000, loop: true, clock: clock.New(), logger: logging.NewTestLogger(t)}
	test.That(t, r.run(ctx, msgs), test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 5)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	_, err := openStore(ctx, "params.json", "bucket", nil, logger)
	test.That(t, err.Error(), test.ShouldContainSubstring, "only one of")

	_, err = openStore(ctx, "", "bucket", nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	store, err := openStore(ctx, "params.json", "", nil, logger)
	test.That(t, err, test.ShouldBeNil)
	_, isFile := store.(*params.FileStore)
	test.That(t, isFile, test.ShouldBeTrue)

	store, err = openStore(ctx, "", "", nil, logger)
	test.That(t, err, test.ShouldBeNil)
	_, isMap := store.(*params.MapStore)
	test.That(t, isMap, test.ShouldBeTrue)
}

func TestCheckParameter(t *testing.T) {
	ctx := context.Background()
	store := params.NewMapStore(map[string]string{
		"cloudseg/" + params.KeyFilterLow:  "-2",
		"cloudseg/" + params.KeyFilterHigh: "3",
	})

	// valid against the stored low limit, invalid against the default one
	test.That(t, checkParameter(ctx, store, "cloudseg", params.KeyFilterHigh, "-1"), test.ShouldBeNil)
	test.That(t, checkParameter(ctx, store, "", params.KeyFilterHigh, "-1"), test.ShouldWrap, params.ErrInvalidParameter)

	test.That(t, checkParameter(ctx, store, "cloudseg", params.KeyFilterLow, "4"), test.ShouldWrap, params.ErrInvalidParameter)
	test.That(t, checkParameter(ctx, store, "", params.KeyOutputMode, "segmented"), test.ShouldBeNil)
	test.That(t, checkParameter(ctx, store, "", params.KeyMinClusterSize, "many"), test.ShouldWrap, params.ErrInvalidParameter)
	test.That(t, checkParameter(ctx, store, "", "leafSize", "0.1"), test.ShouldNotBeNil)
}

func TestCheckParameterIgnoresOtherInvalidGroups(t *testing.T) {
	ctx := context.Background()
	store := params.NewMapStore(map[string]string{params.KeyLeafSizeX: "-1"})

	test.That(t, checkParameter(ctx, store, "", params.KeyMinClusterSize, "50"), test.ShouldBeNil)
	test.That(t, checkParameter(ctx, store, "", params.KeyOutputMode, "segmented"), test.ShouldBeNil)

	// the leaf group stays rejected until its bad member is replaced
	err := checkParameter(ctx, store, "", params.KeyLeafSizeY, "0.1")
	test.That(t, err, test.ShouldWrap, params.ErrInvalidParameter)
	test.That(t, err.Error(), test.ShouldContainSubstring, params.KeyLeafSizeX)
	test.That(t, checkParameter(ctx, store, "", params.KeyLeafSizeX, "0.1"), test.ShouldBeNil)
}
