package pointcloud

import (
	"bufio"
	"encoding/binary"
	"image/color"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
	"go.uber.org/multierr"
)

// PCDType is the encoding of the DATA section of a PCD file.
type PCDType int

const (
	// PCDAscii stores one point per whitespace separated line.
	PCDAscii PCDType = iota
	// PCDBinary stores points as packed little-endian records.
	PCDBinary
	// PCDCompressed stores LZF-compressed binary data laid out one field at a time.
	PCDCompressed
)

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields []string
	size   []int
	typ    []pcdValType
	count  []int
	width  int
	height int
	points int
	data   PCDType

	// offsets of x, y, z and color within a point record, -1 when absent
	x, y, z, rgb int
}

func (h *pcdHeader) fieldIndex(name string) int {
	for i, f := range h.fields {
		if f == name {
			return i
		}
	}
	return -1
}

func parseInts(tokens []string, what string, n int) ([]int, error) {
	if len(tokens) != n {
		return nil, errors.Errorf("unexpected number of fields in %s line, expected %d got %d", what, n, len(tokens))
	}
	out := make([]int, len(tokens))
	for i, token := range tokens {
		v, err := strconv.Atoi(token)
		if err != nil || v <= 0 {
			return nil, errors.Errorf("invalid %s field %q", what, token)
		}
		out[i] = v
	}
	return out, nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = tokens
		header.x, header.y, header.z = header.fieldIndex("x"), header.fieldIndex("y"), header.fieldIndex("z")
		if header.x < 0 || header.y < 0 || header.z < 0 {
			return errors.Errorf("pcd fields %q must include x, y and z", value)
		}
		header.rgb = header.fieldIndex("rgb")
		if header.rgb < 0 {
			header.rgb = header.fieldIndex("rgba")
		}
	case "SIZE":
		header.size, err = parseInts(tokens, "SIZE", len(header.fields))
		if err != nil {
			return err
		}
		for i, s := range header.size {
			if s != 1 && s != 2 && s != 4 && s != 8 {
				return errors.Errorf("unsupported SIZE %d for field %s", s, header.fields[i])
			}
		}
	case "TYPE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.typ = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			switch t := pcdValType(token); t {
			case pcdValFloat, pcdValInt, pcdValUInt:
				header.typ[i] = t
			default:
				return errors.Errorf("invalid TYPE field %q", token)
			}
		}
	case "COUNT":
		header.count, err = parseInts(tokens, "COUNT", len(header.fields))
		if err != nil {
			return err
		}
		for _, i := range []int{header.x, header.y, header.z, header.rgb} {
			if i >= 0 && header.count[i] != 1 {
				return errors.Errorf("field %s must have COUNT 1", header.fields[i])
			}
		}
	case "WIDTH":
		header.width, err = strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		// the sensor pose is not applied to the points
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		header.points, err = strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %q", value)
		}
	}
	return nil
}

// ReadPCDFile reads a PCD file from disk. The returned cloud header carries frameID.
func ReadPCDFile(fn, frameID string) (cloud *PointCloud, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	cloud, err = ReadPCD(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", fn)
	}
	cloud.Header.FrameID = frameID
	return cloud, nil
}

// ReadPCD decodes an ascii, binary or binary_compressed PCD stream with x, y, z and an optional packed rgb field.
// binary_compressed data is LZF-decompressed first. Coordinates are in meters. Points without a
// color field are black.
func ReadPCD(inRaw io.Reader) (*PointCloud, error) {
	header := pcdHeader{rgb: -1}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return readPCDCompressed(in, header)
	}
}

func pcdIntToColor(c uint32) color.NRGBA {
	return color.NRGBA{R: uint8(0xFF & (c >> 16)), G: uint8(0xFF & (c >> 8)), B: uint8(0xFF & c), A: 255}
}

func (h *pcdHeader) point(values []float64, rgb uint32) Point {
	pt := Point{P: NewVector(values[h.x], values[h.y], values[h.z]), C: color.NRGBA{A: 255}}
	if h.rgb >= 0 {
		pt.C = pcdIntToColor(rgb)
	}
	return pt
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	pc := NewWithPrealloc(Header{}, header.points)
	tokenCount := 0
	for _, c := range header.count {
		tokenCount += c
	}
	values := make([]float64, len(header.fields))
	for i := 0; i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != tokenCount {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		var rgb uint32
		offset := 0
		for j := range header.fields {
			token := tokens[offset]
			offset += header.count[j]
			values[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
			if j == header.rgb {
				if header.typ[j] == pcdValFloat {
					rgb = math.Float32bits(float32(values[j]))
				} else {
					rgb = uint32(values[j])
				}
			}
		}
		pc.Append(header.point(values, rgb))
	}
	return pc, nil
}

func decodePCDValue(buf []byte, typ pcdValType) (float64, uint32) {
	le := binary.LittleEndian
	switch len(buf) {
	case 1:
		if typ == pcdValInt {
			return float64(int8(buf[0])), uint32(buf[0])
		}
		return float64(buf[0]), uint32(buf[0])
	case 2:
		v := le.Uint16(buf)
		if typ == pcdValInt {
			return float64(int16(v)), uint32(v)
		}
		return float64(v), uint32(v)
	case 4:
		v := le.Uint32(buf)
		switch typ {
		case pcdValFloat:
			return float64(math.Float32frombits(v)), v
		case pcdValInt:
			return float64(int32(v)), v
		default:
			return float64(v), v
		}
	default:
		v := le.Uint64(buf)
		switch typ {
		case pcdValFloat:
			return math.Float64frombits(v), uint32(v)
		case pcdValInt:
			return float64(int64(v)), uint32(v)
		default:
			return float64(v), uint32(v)
		}
	}
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	pc := NewWithPrealloc(Header{}, header.points)
	record := make([]byte, header.recordSize())
	values := make([]float64, len(header.fields))
	for i := 0; i < header.points; i++ {
		if _, err := io.ReadFull(in, record); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		var rgb uint32
		offset := 0
		for j := range header.fields {
			v, bits := decodePCDValue(record[offset:offset+header.size[j]], header.typ[j])
			values[j] = v
			if j == header.rgb {
				rgb = bits
			}
			offset += header.size[j] * header.count[j]
		}
		pc.Append(header.point(values, rgb))
	}
	return pc, nil
}

func (h *pcdHeader) recordSize() int {
	size := 0
	for j := range h.fields {
		size += h.size[j] * h.count[j]
	}
	return size
}

// readPCDCompressed reads the binary_compressed layout: two little-endian uint32 sizes followed by
// an LZF block which decompresses to every value of the first field, then of the second, and so on.
func readPCDCompressed(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	var sizes [2]uint32
	if err := binary.Read(in, binary.LittleEndian, &sizes); err != nil {
		return nil, errors.Wrap(err, "reading compressed block sizes")
	}
	compressedSize, uncompressedSize := int(sizes[0]), int(sizes[1])
	if expected := header.recordSize() * header.points; uncompressedSize != expected {
		return nil, errors.Errorf("uncompressed size %d does not match %d points of %d bytes",
			uncompressedSize, header.points, header.recordSize())
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return nil, errors.Wrap(err, "reading compressed block")
	}
	raw := make([]byte, uncompressedSize)
	if uncompressedSize > 0 {
		n, err := lzf.Decompress(compressed, raw)
		if err != nil {
			return nil, errors.Wrap(err, "decompressing pcd data")
		}
		if n != uncompressedSize {
			return nil, errors.Errorf("decompressed %d bytes, expected %d", n, uncompressedSize)
		}
	}

	pc := NewWithPrealloc(Header{}, header.points)
	fieldStart := make([]int, len(header.fields))
	start := 0
	for j := range header.fields {
		fieldStart[j] = start
		start += header.size[j] * header.count[j] * header.points
	}
	values := make([]float64, len(header.fields))
	for i := 0; i < header.points; i++ {
		var rgb uint32
		for j := range header.fields {
			stride := header.size[j] * header.count[j]
			offset := fieldStart[j] + i*stride
			v, bits := decodePCDValue(raw[offset:offset+header.size[j]], header.typ[j])
			values[j] = v
			if j == header.rgb {
				rgb = bits
			}
		}
		pc.Append(header.point(values, rgb))
	}
	return pc, nil
}
