package ros

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// maxArrayLength bounds the length prefixes accepted by Unmarshal.
const maxArrayLength = 1 << 30

type encoder struct {
	buf     bytes.Buffer
	scratch [8]byte
}

func (e *encoder) uint8(v uint8) {
	e.buf.WriteByte(v)
}

func (e *encoder) bool(v bool) {
	if v {
		e.uint8(1)
	} else {
		e.uint8(0)
	}
}

func (e *encoder) uint32(v uint32) {
	binary.LittleEndian.PutUint32(e.scratch[:4], v)
	e.buf.Write(e.scratch[:4])
}

func (e *encoder) bytes(v []byte) {
	e.uint32(uint32(len(v)))
	e.buf.Write(v)
}

func (e *encoder) string(v string) {
	e.bytes([]byte(v))
}

func (e *encoder) time(t time.Time) {
	if t.IsZero() {
		e.uint32(0)
		e.uint32(0)
		return
	}
	e.uint32(uint32(t.Unix()))
	e.uint32(uint32(t.Nanosecond()))
}

// Marshal serializes msg in the ROS1 wire format: little-endian scalars, strings and arrays
// prefixed by a uint32 length, times as seconds and nanoseconds.
func Marshal(msg *PointCloud2) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("cannot marshal a nil message")
	}
	if uint64(len(msg.Data)) > math.MaxUint32 || uint64(len(msg.Fields)) > math.MaxUint32 {
		return nil, errors.New("message too large for ROS1 serialization")
	}
	var e encoder
	e.buf.Grow(64 + len(msg.Header.FrameID) + 32*len(msg.Fields) + len(msg.Data))

	e.uint32(msg.Header.Seq)
	e.time(msg.Header.Stamp)
	e.string(msg.Header.FrameID)
	e.uint32(msg.Height)
	e.uint32(msg.Width)
	e.uint32(uint32(len(msg.Fields)))
	for _, f := range msg.Fields {
		e.string(f.Name)
		e.uint32(f.Offset)
		e.uint8(f.Datatype)
		e.uint32(f.Count)
	}
	e.bool(msg.IsBigEndian)
	e.uint32(msg.PointStep)
	e.uint32(msg.RowStep)
	e.bytes(msg.Data)
	e.bool(msg.IsDense)
	return e.buf.Bytes(), nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) take(n int, what string) ([]byte, error) {
	if n < 0 || len(d.data)-d.pos < n {
		return nil, errors.Wrapf(ErrMalformed, "truncated at offset %d reading %s", d.pos, what)
	}
	out := d.data[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) uint8(what string) (uint8, error) {
	b, err := d.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) bool(what string) (bool, error) {
	v, err := d.uint8(what)
	return v != 0, err
}

func (d *decoder) uint32(what string) (uint32, error) {
	b, err := d.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) length(what string) (int, error) {
	n, err := d.uint32(what)
	if err != nil {
		return 0, err
	}
	if n > maxArrayLength {
		return 0, errors.Wrapf(ErrMalformed, "%s length %d too large", what, n)
	}
	return int(n), nil
}

func (d *decoder) bytes(what string) ([]byte, error) {
	n, err := d.length(what)
	if err != nil {
		return nil, err
	}
	b, err := d.take(n, what)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (d *decoder) string(what string) (string, error) {
	b, err := d.bytes(what)
	return string(b), err
}

func (d *decoder) time(what string) (time.Time, error) {
	secs, err := d.uint32(what)
	if err != nil {
		return time.Time{}, err
	}
	nsecs, err := d.uint32(what)
	if err != nil {
		return time.Time{}, err
	}
	if secs == 0 && nsecs == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(secs), int64(nsecs)).UTC(), nil
}

// Unmarshal decodes a ROS1 serialized sensor_msgs/PointCloud2. Errors wrap ErrMalformed.
func Unmarshal(data []byte) (*PointCloud2, error) {
	d := decoder{data: data}
	msg := &PointCloud2{}
	var err error

	if msg.Header.Seq, err = d.uint32("header.seq"); err != nil {
		return nil, err
	}
	if msg.Header.Stamp, err = d.time("header.stamp"); err != nil {
		return nil, err
	}
	if msg.Header.FrameID, err = d.string("header.frame_id"); err != nil {
		return nil, err
	}
	if msg.Height, err = d.uint32("height"); err != nil {
		return nil, err
	}
	if msg.Width, err = d.uint32("width"); err != nil {
		return nil, err
	}
	numFields, err := d.length("fields")
	if err != nil {
		return nil, err
	}
	// each field takes at least 13 bytes on the wire
	if numFields*13 > len(data)-d.pos {
		return nil, errors.Wrapf(ErrMalformed, "%d fields do not fit in the message", numFields)
	}
	msg.Fields = make([]PointField, numFields)
	for i := range msg.Fields {
		f := &msg.Fields[i]
		if f.Name, err = d.string("field.name"); err != nil {
			return nil, err
		}
		if f.Offset, err = d.uint32("field.offset"); err != nil {
			return nil, err
		}
		if f.Datatype, err = d.uint8("field.datatype"); err != nil {
			return nil, err
		}
		if f.Count, err = d.uint32("field.count"); err != nil {
			return nil, err
		}
	}
	if msg.IsBigEndian, err = d.bool("is_bigendian"); err != nil {
		return nil, err
	}
	if msg.PointStep, err = d.uint32("point_step"); err != nil {
		return nil, err
	}
	if msg.RowStep, err = d.uint32("row_step"); err != nil {
		return nil, err
	}
	if msg.Data, err = d.bytes("data"); err != nil {
		return nil, err
	}
	if msg.IsDense, err = d.bool("is_dense"); err != nil {
		return nil, err
	}
	if d.pos != len(data) {
		return nil, errors.Wrapf(ErrMalformed, "%d trailing bytes", len(data)-d.pos)
	}
	return msg, nil
}
