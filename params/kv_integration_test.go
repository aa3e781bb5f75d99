//go:build integration

package params

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.viam.com/test"

	"go.viam.com/cloudseg/logging"
)

// connectTestServer connects to the JetStream enabled server at NATS_URL, or the local default,
// and skips the test when none is reachable.
func connectTestServer(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Timeout(time.Second), nats.MaxReconnects(0))
	if err != nil {
		t.Skipf("no NATS server at %s: %v", url, err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func TestOpenKVStore(t *testing.T) {
	conn := connectTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket := fmt.Sprintf("cloudseg_integration_%d", time.Now().UnixNano())
	js, err := jetstream.New(conn)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, js.DeleteKeyValue(context.Background(), bucket), test.ShouldBeNil)
	}()

	// the first open creates the bucket
	store, err := OpenKVStore(ctx, conn, bucket)
	test.That(t, err, test.ShouldBeNil)
	_, ok, err := store.Get(ctx, KeyLeafSizeX)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, store.Set(ctx, KeyLeafSizeX, "0.02"), test.ShouldBeNil)

	// the second open finds it
	reopened, err := OpenKVStore(ctx, conn, bucket)
	test.That(t, err, test.ShouldBeNil)
	value, ok, err := reopened.Get(ctx, KeyLeafSizeX)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, value, test.ShouldEqual, "0.02")

	kv, err := js.KeyValue(ctx, bucket)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kv.Delete(ctx, KeyLeafSizeX), test.ShouldBeNil)
	_, ok, err = reopened.Get(ctx, KeyLeafSizeX)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	// a refresh reads through the bucket
	test.That(t, reopened.Set(ctx, KeyOutputMode, "segmented"), test.ShouldBeNil)
	adapter := NewAdapter(reopened, "", logging.NewTestLogger(t))
	tunables, err := adapter.Refresh(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tunables.OutputMode, test.ShouldEqual, OutputSegmented)
}
