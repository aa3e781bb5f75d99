package pointcloud

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lzf "github.com/zhuyie/golzf"
	"go.viam.com/test"
)

const asciiPCD = `# .PCD v0.7 - Point Cloud Data file format
VERSION 0.7
FIELDS x y z rgb
SIZE 4 4 4 4
TYPE F F F U
COUNT 1 1 1 1
WIDTH 3
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 3
DATA ascii
0.1 0.2 0.3 16711680
-1 0 2.5 65280
0 0 0 255
`

func TestReadPCDAscii(t *testing.T) {
	pc, err := ReadPCD(strings.NewReader(asciiPCD))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)
	test.That(t, pc.At(0).P, test.ShouldResemble, NewVector(0.1, 0.2, 0.3))
	test.That(t, pc.At(1).P, test.ShouldResemble, NewVector(-1, 0, 2.5))

	expected := [][]uint8{{255, 0, 0}, {0, 255, 0}, {0, 0, 255}}
	for i, rgb := range expected {
		r, g, b := pc.At(i).RGB255()
		test.That(t, []uint8{r, g, b}, test.ShouldResemble, rgb)
	}
}

func TestReadPCDBinary(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("VERSION .7\nFIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F F\nCOUNT 1 1 1 1\n" +
		"WIDTH 2\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA binary\n")
	write := func(x, y, z float32, rgb uint32) {
		for _, v := range []float32{x, y, z} {
			test.That(t, binary.Write(&buf, binary.LittleEndian, math.Float32bits(v)), test.ShouldBeNil)
		}
		test.That(t, binary.Write(&buf, binary.LittleEndian, rgb), test.ShouldBeNil)
	}
	write(1, 2, 3, 0x102030)
	write(-0.5, 0.25, 0, 0xffffff)

	pc, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	test.That(t, pc.At(0).P, test.ShouldResemble, NewVector(1, 2, 3))
	test.That(t, pc.At(1).P, test.ShouldResemble, NewVector(-0.5, 0.25, 0))
	r, g, b := pc.At(0).RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{0x10, 0x20, 0x30})
}

func TestReadPCDCompressed(t *testing.T) {
	// field-major layout: every x, then every y, then every z, then every rgb
	var raw bytes.Buffer
	for _, v := range []interface{}{
		[]float32{1, 4}, []float32{2, 5}, []float32{3, 6}, []uint32{0xff0000, 0x0000ff},
	} {
		test.That(t, binary.Write(&raw, binary.LittleEndian, v), test.ShouldBeNil)
	}
	compressed := make([]byte, raw.Len()*2+16)
	n, err := lzf.Compress(raw.Bytes(), compressed)
	test.That(t, err, test.ShouldBeNil)

	var buf bytes.Buffer
	buf.WriteString("VERSION .7\nFIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F U\nCOUNT 1 1 1 1\n" +
		"WIDTH 2\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA binary_compressed\n")
	test.That(t, binary.Write(&buf, binary.LittleEndian, []uint32{uint32(n), uint32(raw.Len())}), test.ShouldBeNil)
	buf.Write(compressed[:n])

	pc, err := ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	test.That(t, pc.At(0).P, test.ShouldResemble, NewVector(1, 2, 3))
	test.That(t, pc.At(1).P, test.ShouldResemble, NewVector(4, 5, 6))
	r, _, _ := pc.At(0).RGB255()
	test.That(t, r, test.ShouldEqual, uint8(255))
	_, _, b := pc.At(1).RGB255()
	test.That(t, b, test.ShouldEqual, uint8(255))
}

func TestReadPCDWithoutColor(t *testing.T) {
	data := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA ascii\n1 1 1"
	pc, err := ReadPCD(strings.NewReader(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 1)
	r, g, b := pc.At(0).RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{0, 0, 0})
}

func TestReadPCDErrors(t *testing.T) {
	for _, tc := range []struct {
		name, data, msg string
	}{
		{"version", "VERSION .5\n", "unsupported pcd version"},
		{"fields", "VERSION .7\nFIELDS a b c\n", "must include x, y and z"},
		{"order", "VERSION .7\nSIZE 4 4 4\n", "supposed to start with FIELDS"},
		{
			"points",
			"VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 3\n",
			"does not match",
		},
		{
			"compressed",
			"VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA binary_compressed\n" +
				"\x04\x00\x00\x00\x10\x00\x00\x00",
			"does not match",
		},
		{
			"short",
			"VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\nWIDTH 2\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 2\nDATA ascii\n1 2 3\n",
			"reading point 1",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadPCD(strings.NewReader(tc.data))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}
}

func TestReadPCDFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "cloud.pcd")
	test.That(t, os.WriteFile(fn, []byte(asciiPCD), 0o600), test.ShouldBeNil)

	pc, err := ReadPCDFile(fn, "camera_link")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)
	test.That(t, pc.Header.FrameID, test.ShouldEqual, "camera_link")

	_, err = ReadPCDFile(filepath.Join(t.TempDir(), "missing.pcd"), "")
	test.That(t, err, test.ShouldNotBeNil)
}
