package params

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"go.uber.org/multierr"

	"go.viam.com/cloudseg/logging"
	"go.viam.com/cloudseg/pointcloud"
)

// An Adapter turns the contents of a Store into Tunables. Values that fail validation never
// reach the pipeline: the previous valid value of the parameter, or of its whole group, is
// kept instead.
type Adapter struct {
	store     Store
	namespace string
	logger    logging.Logger

	mu       sync.Mutex
	current  Tunables
	rejected map[string]string
}

// NewAdapter returns an Adapter reading keys below namespace in store. An empty namespace
// reads the keys as is. The adapter starts from DefaultTunables.
func NewAdapter(store Store, namespace string, logger logging.Logger) *Adapter {
	return &Adapter{
		store:     store,
		namespace: strings.Trim(namespace, "/"),
		logger:    logger,
		current:   DefaultTunables(),
		rejected:  map[string]string{},
	}
}

// Current returns the tunables produced by the last refresh.
func (a *Adapter) Current() Tunables {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Refresh reads every parameter from the store and returns the updated tunables. A missing
// key takes its default value. The returned tunables are always valid; the error, if any,
// combines every rejected parameter and store failure of this refresh.
func (a *Adapter) Refresh(ctx context.Context) (Tunables, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	store := a.store
	if snap, ok := store.(Snapshotter); ok {
		s, err := snap.Snapshot(ctx)
		if err != nil {
			a.reject("store", err)
			return a.current, err
		}
		store = s
	}
	a.accept("store")

	r := &reader{ctx: ctx, store: store, namespace: a.namespace}
	defaults := DefaultTunables()
	next := a.current
	var errs error

	a.group(&errs, "filter_limits", []string{KeyFilterLow, KeyFilterHigh}, func() error {
		low, err := r.float(KeyFilterLow, defaults.FilterLow)
		if err != nil {
			return err
		}
		high, err := r.float(KeyFilterHigh, defaults.FilterHigh)
		if err != nil {
			return err
		}
		if err := pointcloud.ValidateRange(low, high); err != nil {
			return errors.Wrapf(ErrInvalidParameter, "%s/%s: %v", KeyFilterLow, KeyFilterHigh, err)
		}
		next.FilterLow, next.FilterHigh = low, high
		return nil
	})

	a.group(&errs, KeyFilterFieldName, []string{KeyFilterFieldName}, func() error {
		name, err := r.string(KeyFilterFieldName, defaults.FilterAxis.String())
		if err != nil {
			return err
		}
		axis, err := pointcloud.ParseAxis(name)
		if err != nil {
			return errors.Wrapf(ErrInvalidParameter, "%s: %v", KeyFilterFieldName, err)
		}
		next.FilterAxis = axis
		return nil
	})

	for _, threshold := range []struct {
		key    string
		def    float64
		target *float64
	}{
		{KeyDistanceThreshold, defaults.DistanceThreshold, &next.DistanceThreshold},
		{KeyPointColorThreshold, defaults.PointColorThreshold, &next.PointColorThreshold},
		{KeyRegionColorThreshold, defaults.RegionColorThreshold, &next.RegionColorThreshold},
	} {
		a.group(&errs, threshold.key, []string{threshold.key}, func() error {
			v, err := r.float(threshold.key, threshold.def)
			if err != nil {
				return err
			}
			if v < 0 {
				return errors.Wrapf(ErrInvalidParameter, "%s: must not be negative, got %v", threshold.key, v)
			}
			*threshold.target = v
			return nil
		})
	}

	a.group(&errs, KeyMinClusterSize, []string{KeyMinClusterSize}, func() error {
		v, err := r.float(KeyMinClusterSize, float64(defaults.MinClusterSize))
		if err != nil {
			return err
		}
		size := math.Round(v)
		if size < 1 || size > math.MaxInt32 {
			return errors.Wrapf(ErrInvalidParameter, "%s: must be at least 1, got %v", KeyMinClusterSize, v)
		}
		next.MinClusterSize = int(size)
		return nil
	})

	a.group(&errs, "leaf_size", []string{KeyLeafSizeX, KeyLeafSizeY, KeyLeafSizeZ}, func() error {
		var leaf r3.Vector
		for _, c := range []struct {
			key    string
			def    float64
			target *float64
		}{
			{KeyLeafSizeX, defaults.LeafSize.X, &leaf.X},
			{KeyLeafSizeY, defaults.LeafSize.Y, &leaf.Y},
			{KeyLeafSizeZ, defaults.LeafSize.Z, &leaf.Z},
		} {
			v, err := r.float(c.key, c.def)
			if err != nil {
				return err
			}
			*c.target = v
		}
		if err := pointcloud.ValidateLeafSize(leaf); err != nil {
			return errors.Wrapf(ErrInvalidParameter, "%s/%s/%s: %v", KeyLeafSizeX, KeyLeafSizeY, KeyLeafSizeZ, err)
		}
		next.LeafSize = leaf
		return nil
	})

	a.group(&errs, KeyOutputMode, []string{KeyOutputMode}, func() error {
		name, err := r.string(KeyOutputMode, string(defaults.OutputMode))
		if err != nil {
			return err
		}
		mode, err := ParseOutputMode(name)
		if err != nil {
			return errors.Wrap(err, KeyOutputMode)
		}
		next.OutputMode = mode
		return nil
	})

	if next != a.current {
		a.logger.Infow("parameters updated",
			"filter_field", next.FilterAxis.String(),
			"filter_limits", []float64{next.FilterLow, next.FilterHigh},
			"leaf_size", []float64{next.LeafSize.X, next.LeafSize.Y, next.LeafSize.Z},
			"distance_threshold", next.DistanceThreshold,
			"point_color_threshold", next.PointColorThreshold,
			"region_color_threshold", next.RegionColorThreshold,
			"min_cluster_size", next.MinClusterSize,
			"output_mode", next.OutputMode,
		)
	}
	a.current = next
	return next, errs
}

// group applies one parameter group. A group that fails leaves its previous values in place.
func (a *Adapter) group(errs *error, name string, keys []string, update func() error) {
	if err := update(); err != nil {
		a.reject(name, err)
		*errs = multierr.Append(*errs, &GroupError{Keys: keys, Err: err})
		return
	}
	a.accept(name)
}

// A GroupError is the rejection of one parameter group by a refresh.
type GroupError struct {
	// Keys are the parameters of the group, relative to the namespace.
	Keys []string
	Err  error
}

func (e *GroupError) Error() string {
	return e.Err.Error()
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// ErrorForKey picks out of a Refresh error the failure that affects key: the rejection of the
// group holding key, or a failure to read the store. Rejections of other groups are ignored.
func ErrorForKey(err error, key string) error {
	for _, e := range multierr.Errors(err) {
		var groupErr *GroupError
		if !errors.As(e, &groupErr) || lo.Contains(groupErr.Keys, key) {
			return e
		}
	}
	return nil
}

// reject logs a failure once for as long as it keeps recurring unchanged.
func (a *Adapter) reject(name string, err error) {
	if a.rejected[name] == err.Error() {
		return
	}
	a.rejected[name] = err.Error()
	a.logger.Warnw("rejected parameter update, keeping previous value", "parameter", name, "error", err)
}

func (a *Adapter) accept(name string) {
	if _, ok := a.rejected[name]; ok {
		delete(a.rejected, name)
		a.logger.Infow("parameter accepted again", "parameter", name)
	}
}

type reader struct {
	ctx       context.Context
	store     Store
	namespace string
}

func (r *reader) string(key, def string) (string, error) {
	v, ok, err := r.store.Get(r.ctx, joinKey(r.namespace, key))
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

func (r *reader) float(key string, def float64) (float64, error) {
	v, ok, err := r.store.Get(r.ctx, joinKey(r.namespace, key))
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	f, err := cast.ToFloat64E(strings.TrimSpace(v))
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Wrapf(ErrInvalidParameter, "%s: %q is not a finite number", key, v)
	}
	return f, nil
}
