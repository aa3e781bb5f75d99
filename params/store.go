package params

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// A Store holds parameter values by key. Get reports ok=false for a key that is not set.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// A Snapshotter is a Store that can read all of its values at once. The adapter reads from a
// snapshot so that one refresh sees a single version of the store.
type Snapshotter interface {
	Store
	Snapshot(ctx context.Context) (Store, error)
}

// MapStore is an in-memory Store safe for concurrent use.
type MapStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMapStore returns a MapStore holding a copy of values.
func NewMapStore(values map[string]string) *MapStore {
	s := &MapStore{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Get implements Store.
func (s *MapStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *MapStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes key.
func (s *MapStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// FileStore reads parameters from a JSON file. The file is read again for every snapshot, so
// edits take effect on the next refresh. ${VAR} references are expanded from the environment
// before parsing. Nested objects become slash separated keys:
//
//	{"cloudseg": {"leafSizeX": 0.1}}
//
// sets "cloudseg/leafSizeX".
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore reading path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Snapshot implements Snapshotter.
func (s *FileStore) Snapshot(ctx context.Context) (Store, error) {
	buf, err := envsubst.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading parameter file %s", s.path)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, errors.Wrapf(err, "parsing parameter file %s", s.path)
	}
	values := map[string]string{}
	if err := flatten("", raw, values); err != nil {
		return nil, errors.Wrapf(err, "parameter file %s", s.path)
	}
	return NewMapStore(values), nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return "", false, err
	}
	return snapshot.Get(ctx, key)
}

func flatten(prefix string, raw map[string]interface{}, out map[string]string) error {
	for k, v := range raw {
		key := joinKey(prefix, k)
		if nested, ok := v.(map[string]interface{}); ok {
			if err := flatten(key, nested, out); err != nil {
				return err
			}
			continue
		}
		if v == nil {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidParameter, "%s: unsupported value %v", key, v)
		}
		out[key] = s
	}
	return nil
}

func joinKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + "/" + key
}
