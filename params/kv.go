package params

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
)

// DefaultKVTimeout bounds a single key-value operation.
const DefaultKVTimeout = 2 * time.Second

// KeyValue is the subset of a JetStream key-value bucket used by KVStore. jetstream.KeyValue
// satisfies it.
type KeyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// KVStore is a Store backed by a NATS JetStream key-value bucket.
type KVStore struct {
	bucket  KeyValue
	timeout time.Duration
}

// NewKVStore returns a KVStore over bucket.
func NewKVStore(bucket KeyValue) *KVStore {
	return &KVStore{bucket: bucket, timeout: DefaultKVTimeout}
}

// OpenKVStore opens the named bucket on conn, creating it when it does not exist.
func OpenKVStore(ctx context.Context, conn *nats.Conn, bucket string) (*KVStore, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, errors.Wrap(err, "creating jetstream context")
	}
	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "cloudseg runtime parameters",
		})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening parameter bucket %q", bucket)
	}
	return NewKVStore(kv), nil
}

func (s *KVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

// Get implements Store. Deleted and missing keys are reported as not set.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "getting parameter %q", key)
	}
	return string(entry.Value()), true, nil
}

// Set stores value under key.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.bucket.Put(ctx, key, []byte(value)); err != nil {
		return errors.Wrapf(err, "setting parameter %q", key)
	}
	return nil
}
