// Package ros implements functionality that bridges the gap between cloudseg and ROS: the
// sensor_msgs/PointCloud2 message, its ROS1 wire serialization, conversion to and from
// point clouds, and reading recorded clouds out of rosbags.
package ros

import (
	"time"

	"github.com/pkg/errors"
)

// ErrMalformed is returned when a message cannot be decoded.
var ErrMalformed = errors.New("malformed point cloud message")

// PointField datatypes, as defined by sensor_msgs/PointField.
const (
	Int8    uint8 = 1
	Uint8   uint8 = 2
	Int16   uint8 = 3
	Uint16  uint8 = 4
	Int32   uint8 = 5
	Uint32  uint8 = 6
	Float32 uint8 = 7
	Float64 uint8 = 8
)

// DatatypeSize returns the size in bytes of one value of a PointField datatype, or 0 when the
// datatype is unknown.
func DatatypeSize(datatype uint8) uint32 {
	switch datatype {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// Header is std_msgs/Header.
type Header struct {
	Seq     uint32
	Stamp   time.Time
	FrameID string
}

// PointField is sensor_msgs/PointField: the layout of one named field within a point record.
type PointField struct {
	Name     string
	Offset   uint32
	Datatype uint8
	Count    uint32
}

// PointCloud2 is sensor_msgs/PointCloud2.
type PointCloud2 struct {
	Header      Header
	Height      uint32
	Width       uint32
	Fields      []PointField
	IsBigEndian bool
	PointStep   uint32
	RowStep     uint32
	Data        []byte
	IsDense     bool
}

// Field returns the field with the given name.
func (msg *PointCloud2) Field(name string) (PointField, bool) {
	for _, f := range msg.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return PointField{}, false
}
