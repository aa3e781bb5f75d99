package ros

import (
	"encoding/binary"
	"image/color"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/cloudseg/pointcloud"
)

// pointXYZRGBStep is the record size of a PCL PointXYZRGB: x, y, z, padding, rgb, padding.
const pointXYZRGBStep = 32

// XYZRGBFields is the field layout written by FromPointCloud.
var XYZRGBFields = []PointField{
	{Name: "x", Offset: 0, Datatype: Float32, Count: 1},
	{Name: "y", Offset: 4, Datatype: Float32, Count: 1},
	{Name: "z", Offset: 8, Datatype: Float32, Count: 1},
	{Name: "rgb", Offset: 16, Datatype: Float32, Count: 1},
}

type fieldReader struct {
	offset   uint32
	datatype uint8
	order    binary.ByteOrder
}

func (r fieldReader) float(record []byte) float64 {
	b := record[r.offset:]
	switch r.datatype {
	case Float64:
		return math.Float64frombits(r.order.Uint64(b))
	default:
		return float64(math.Float32frombits(r.order.Uint32(b)))
	}
}

func (r fieldReader) packed(record []byte) uint32 {
	return r.order.Uint32(record[r.offset:])
}

func (msg *PointCloud2) coordinateReader(name string, order binary.ByteOrder) (fieldReader, error) {
	f, ok := msg.Field(name)
	if !ok {
		return fieldReader{}, errors.Wrapf(ErrMalformed, "missing %q field", name)
	}
	if f.Datatype != Float32 && f.Datatype != Float64 {
		return fieldReader{}, errors.Wrapf(ErrMalformed, "field %q has unsupported datatype %d", name, f.Datatype)
	}
	if err := msg.checkFieldBounds(f); err != nil {
		return fieldReader{}, err
	}
	return fieldReader{offset: f.Offset, datatype: f.Datatype, order: order}, nil
}

func (msg *PointCloud2) colorReader(order binary.ByteOrder) (fieldReader, bool, error) {
	f, ok := msg.Field("rgb")
	if !ok {
		f, ok = msg.Field("rgba")
	}
	if !ok {
		return fieldReader{}, false, nil
	}
	if f.Datatype != Float32 && f.Datatype != Uint32 {
		return fieldReader{}, false, errors.Wrapf(ErrMalformed, "field %q has unsupported datatype %d", f.Name, f.Datatype)
	}
	if err := msg.checkFieldBounds(f); err != nil {
		return fieldReader{}, false, err
	}
	return fieldReader{offset: f.Offset, datatype: f.Datatype, order: order}, true, nil
}

func (msg *PointCloud2) checkFieldBounds(f PointField) error {
	if uint64(f.Offset)+uint64(DatatypeSize(f.Datatype)) > uint64(msg.PointStep) {
		return errors.Wrapf(ErrMalformed, "field %q at offset %d does not fit in point step %d", f.Name, f.Offset, msg.PointStep)
	}
	return nil
}

// Validate checks that the layout of msg is consistent with its data.
func (msg *PointCloud2) Validate() error {
	if msg == nil {
		return errors.Wrap(ErrMalformed, "nil message")
	}
	if msg.Width == 0 || msg.Height == 0 {
		return nil
	}
	if msg.PointStep == 0 {
		return errors.Wrap(ErrMalformed, "point step is zero")
	}
	if uint64(msg.RowStep) < uint64(msg.Width)*uint64(msg.PointStep) {
		return errors.Wrapf(ErrMalformed, "row step %d is shorter than %d points of %d bytes", msg.RowStep, msg.Width, msg.PointStep)
	}
	if uint64(len(msg.Data)) < uint64(msg.RowStep)*uint64(msg.Height) {
		return errors.Wrapf(ErrMalformed, "data holds %d bytes, expected %d rows of %d bytes", len(msg.Data), msg.Height, msg.RowStep)
	}
	return nil
}

// ToPointCloud decodes the points of msg. Coordinates must be FLOAT32 or FLOAT64 fields named
// x, y and z. Color is read from a packed rgb or rgba field when present and is black
// otherwise. Errors wrap ErrMalformed.
func ToPointCloud(msg *PointCloud2) (*pointcloud.PointCloud, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	header := pointcloud.Header{Seq: msg.Header.Seq, Stamp: msg.Header.Stamp, FrameID: msg.Header.FrameID}
	n := int(msg.Width) * int(msg.Height)
	if n == 0 {
		return pointcloud.New(header), nil
	}

	var order binary.ByteOrder = binary.LittleEndian
	if msg.IsBigEndian {
		order = binary.BigEndian
	}
	readers := make([]fieldReader, 3)
	for i, name := range []string{"x", "y", "z"} {
		r, err := msg.coordinateReader(name, order)
		if err != nil {
			return nil, err
		}
		readers[i] = r
	}
	rgb, hasColor, err := msg.colorReader(order)
	if err != nil {
		return nil, err
	}

	cloud := pointcloud.NewWithPrealloc(header, n)

	for row := uint32(0); row < msg.Height; row++ {
		rowStart := int(row) * int(msg.RowStep)
		for col := uint32(0); col < msg.Width; col++ {
			start := rowStart + int(col)*int(msg.PointStep)
			record := msg.Data[start : start+int(msg.PointStep)]
			pt := pointcloud.Point{
				P: pointcloud.NewVector(readers[0].float(record), readers[1].float(record), readers[2].float(record)),
				C: color.NRGBA{A: 255},
			}
			if hasColor {
				c := rgb.packed(record)
				pt.C = color.NRGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: 255}
			}
			cloud.Append(pt)
		}
	}
	return cloud, nil
}

// FromPointCloud encodes cloud as an unorganized PointCloud2 with the PCL PointXYZRGB layout.
func FromPointCloud(cloud *pointcloud.PointCloud) *PointCloud2 {
	n := cloud.Size()
	msg := &PointCloud2{
		Header:    Header{Seq: cloud.Header.Seq, Stamp: cloud.Header.Stamp, FrameID: cloud.Header.FrameID},
		Height:    1,
		Width:     uint32(n),
		Fields:    append([]PointField(nil), XYZRGBFields...),
		PointStep: pointXYZRGBStep,
		RowStep:   uint32(n * pointXYZRGBStep),
		Data:      make([]byte, n*pointXYZRGBStep),
		IsDense:   true,
	}
	le := binary.LittleEndian
	for i, pt := range cloud.Points {
		record := msg.Data[i*pointXYZRGBStep : (i+1)*pointXYZRGBStep]
		le.PutUint32(record[0:], math.Float32bits(float32(pt.P.X)))
		le.PutUint32(record[4:], math.Float32bits(float32(pt.P.Y)))
		le.PutUint32(record[8:], math.Float32bits(float32(pt.P.Z)))
		le.PutUint32(record[16:], 0xff<<24|uint32(pt.C.R)<<16|uint32(pt.C.G)<<8|uint32(pt.C.B))
		if !pt.IsFinite() {
			msg.IsDense = false
		}
	}
	return msg
}
