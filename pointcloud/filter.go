package pointcloud

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidRange is returned when a range filter interval is empty or not finite.
var ErrInvalidRange = errors.New("invalid filter range")

// Axis selects one coordinate of a point.
type Axis int

const (
	// AxisX selects the x coordinate.
	AxisX Axis = iota
	// AxisY selects the y coordinate.
	AxisY
	// AxisZ selects the z coordinate.
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return "unknown"
}

// ParseAxis parses a field name ("x", "y" or "z", case-insensitive) into an Axis.
func ParseAxis(name string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return AxisZ, errors.Errorf("unknown filter field name %q, expected one of x, y, z", name)
}

// Value returns the coordinate of p along the axis.
func (a Axis) Value(p Point) float64 {
	switch a {
	case AxisX:
		return p.P.X
	case AxisY:
		return p.P.Y
	default:
		return p.P.Z
	}
}

// Indices identifies a subset of a cloud's points by position. Each index appears at most once.
type Indices []int

// ValidateRange checks that [low, high] is a finite, non-empty interval.
func ValidateRange(low, high float64) error {
	if !isFinite(low) || !isFinite(high) {
		return errors.Wrapf(ErrInvalidRange, "bounds must be finite, got [%v, %v]", low, high)
	}
	if low > high {
		return errors.Wrapf(ErrInvalidRange, "low %v is greater than high %v", low, high)
	}
	return nil
}

// FilterRange returns the indices of the points whose coordinate along axis lies within the
// inclusive interval [low, high]. Points whose selected coordinate is not finite never pass.
// The result is in ascending order and is empty, not nil, when nothing passes.
func FilterRange(cloud *PointCloud, axis Axis, low, high float64) (Indices, error) {
	if err := ValidateRange(low, high); err != nil {
		return nil, err
	}
	indices := make(Indices, 0, cloud.Size())
	if cloud == nil {
		return indices, nil
	}
	for i, pt := range cloud.Points {
		v := axis.Value(pt)
		if !isFinite(v) {
			continue
		}
		if v >= low && v <= high {
			indices = append(indices, i)
		}
	}
	return indices, nil
}

// AllIndices returns the indices of every point of the cloud.
func AllIndices(cloud *PointCloud) Indices {
	indices := make(Indices, cloud.Size())
	for i := range indices {
		indices[i] = i
	}
	return indices
}
