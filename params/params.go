// Package params maps runtime tunables held in a parameter store onto validated values that
// the processing pipeline can consume.
package params

import (
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/cloudseg/pointcloud"
	"go.viam.com/cloudseg/vision/segmentation"
)

// ErrInvalidParameter is returned when a stored parameter cannot be used.
var ErrInvalidParameter = errors.New("invalid parameter")

// Parameter keys, relative to the adapter namespace.
const (
	KeyFilterLow            = "z_min_filter_limit"
	KeyFilterHigh           = "z_max_filter_limit"
	KeyDistanceThreshold    = "distanceThreshold"
	KeyFilterFieldName      = "filterFieldName"
	KeyPointColorThreshold  = "pointColorThreshold"
	KeyRegionColorThreshold = "regionColorThreshold"
	KeyMinClusterSize       = "minClusterSize"
	KeyLeafSizeX            = "leafSizeX"
	KeyLeafSizeY            = "leafSizeY"
	KeyLeafSizeZ            = "leafSizeZ"
	KeyOutputMode           = "output_mode"
)

// Keys lists every parameter read on a refresh.
var Keys = []string{
	KeyFilterLow,
	KeyFilterHigh,
	KeyDistanceThreshold,
	KeyFilterFieldName,
	KeyPointColorThreshold,
	KeyRegionColorThreshold,
	KeyMinClusterSize,
	KeyLeafSizeX,
	KeyLeafSizeY,
	KeyLeafSizeZ,
	KeyOutputMode,
}

// OutputMode selects which cloud a processing cycle publishes.
type OutputMode string

// The supported output modes.
const (
	// OutputDownsampled publishes the voxel-grid reduced cloud.
	OutputDownsampled OutputMode = "downsampled"
	// OutputSegmented publishes the segmented regions, painted one color per region.
	OutputSegmented OutputMode = "segmented"
)

// ParseOutputMode parses an output mode name.
func ParseOutputMode(name string) (OutputMode, error) {
	switch mode := OutputMode(strings.ToLower(strings.TrimSpace(name))); mode {
	case OutputDownsampled, OutputSegmented:
		return mode, nil
	default:
		return "", errors.Wrapf(ErrInvalidParameter, "unknown output mode %q", name)
	}
}

// Tunables is one consistent snapshot of every runtime parameter.
type Tunables struct {
	FilterAxis pointcloud.Axis
	FilterLow  float64
	FilterHigh float64

	DistanceThreshold    float64
	PointColorThreshold  float64
	RegionColorThreshold float64
	MinClusterSize       int

	LeafSize   r3.Vector
	OutputMode OutputMode
}

// DefaultTunables returns the values used for any parameter missing from the store.
func DefaultTunables() Tunables {
	return Tunables{
		FilterAxis:           pointcloud.AxisZ,
		FilterLow:            0.0,
		FilterHigh:           1.0,
		DistanceThreshold:    10,
		PointColorThreshold:  6.0,
		RegionColorThreshold: 5.0,
		MinClusterSize:       600,
		LeafSize:             r3.Vector{X: 0.05, Y: 0.05, Z: 0.05},
		OutputMode:           OutputDownsampled,
	}
}

// SegmentationConfig returns the region growing configuration described by t.
func (t Tunables) SegmentationConfig() segmentation.RegionGrowingConfig {
	return segmentation.RegionGrowingConfig{
		DistanceThreshold:    t.DistanceThreshold,
		PointColorThreshold:  t.PointColorThreshold,
		RegionColorThreshold: t.RegionColorThreshold,
		MinClusterSize:       t.MinClusterSize,
		RegionNeighbourCount: segmentation.DefaultRegionNeighbourCount,
	}
}

// Validate checks that t can drive a processing cycle.
func (t Tunables) Validate() error {
	if err := pointcloud.ValidateRange(t.FilterLow, t.FilterHigh); err != nil {
		return errors.Wrap(ErrInvalidParameter, err.Error())
	}
	if err := pointcloud.ValidateLeafSize(t.LeafSize); err != nil {
		return errors.Wrap(ErrInvalidParameter, err.Error())
	}
	cfg := t.SegmentationConfig()
	if err := cfg.CheckValid(); err != nil {
		return errors.Wrap(ErrInvalidParameter, err.Error())
	}
	if _, err := ParseOutputMode(string(t.OutputMode)); err != nil {
		return err
	}
	return nil
}
