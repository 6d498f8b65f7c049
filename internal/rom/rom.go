// Package rom parses NDI tool definition (.rom) files. These carry the
// rigid-body marker geometry uploaded to the measurement controller for
// passive and user-defined tools. The format is fixed-length little endian,
// 752 bytes, with a 16-bit additive checksum over everything after byte 6.
package rom

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

// FileSize is the fixed length of a tool definition file.
const FileSize = 752

const (
	magic          = "NDI"
	maxMarkers     = 20
	maxFaces       = 8
	checksumOffset = 6
)

// Vec is one marker or normal coordinate triple in millimetres.
type Vec struct {
	X, Y, Z float64
}

// Definition is a decoded tool definition.
type Definition struct {
	Checksum       uint16
	SubType        int
	MainType       int
	Revision       uint16
	SequenceNumber uint16
	Date           time.Time

	MinMarkerAngle int // degrees
	MarkerCount    int
	MinMarkers     int
	MinMarkerError float64

	Manufacturer string
	PartNumber   uint16
	MarkerType   int

	markers     [maxMarkers]Vec
	normals     [maxMarkers]Vec
	faces       [maxMarkers]int
	faceNormals [maxFaces]Vec
}

// HasMagic reports whether data begins with the definition file magic.
// Controllers also accept vendor-specific definition blobs without it; only
// files carrying the magic can be validated by this package.
func HasMagic(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

// ReadFile loads and parses one definition file.
func ReadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rom: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rom: %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a raw definition image. It verifies the magic, length and
// checksum, and bounds-checks the marker counts; everything else is taken
// as written.
func Parse(data []byte) (*Definition, error) {
	if len(data) < FileSize {
		return nil, fmt.Errorf("rom: file is %d bytes, need %d", len(data), FileSize)
	}
	if string(data[0:3]) != magic {
		return nil, fmt.Errorf("rom: bad magic %q", data[0:3])
	}
	d := &Definition{
		Checksum: u16(data, 4),
		SubType:  int(data[12]),
		MainType: int(data[15]),
		Revision: u16(data, 16),
	}
	if sum := ChecksumOf(data); sum != d.Checksum {
		return nil, fmt.Errorf("rom: checksum mismatch, stored %04X computed %04X", d.Checksum, sum)
	}

	d.SequenceNumber, d.Date = decodeSequenceAndDate(data[20:24])

	d.MinMarkerAngle = int(data[24])
	d.MarkerCount = int(data[28])
	d.MinMarkers = int(data[32])
	d.MinMarkerError = f32(data, 36)
	if d.MarkerCount < 3 || d.MarkerCount > maxMarkers {
		return nil, fmt.Errorf("rom: marker count %d out of range", d.MarkerCount)
	}
	if d.MinMarkers > d.MarkerCount {
		return nil, fmt.Errorf("rom: minimum markers %d exceeds marker count %d", d.MinMarkers, d.MarkerCount)
	}

	for i := 0; i < maxMarkers; i++ {
		d.markers[i] = vec(data, 72+12*i)
		d.normals[i] = vec(data, 312+12*i)
		d.faces[i] = int(data[613+i])
	}

	d.Manufacturer = strings.TrimRight(string(data[580:592]), "\x00 ")
	d.PartNumber = u16(data, 592)
	d.MarkerType = int(data[655])
	for i := 0; i < maxFaces; i++ {
		d.faceNormals[i] = vec(data, 656+12*i)
	}
	return d, nil
}

// ChecksumOf computes the additive checksum of a definition image: the sum
// of every byte after the checksum field, truncated to 16 bits.
func ChecksumOf(data []byte) uint16 {
	var sum uint32
	for _, b := range data[checksumOffset:] {
		sum += uint32(b)
	}
	return uint16(sum)
}

// decodeSequenceAndDate unpacks bytes 20 through 23. The sequence number is
// 10 bits split across the first two bytes. Days since January 1 are
// counted in 64-day blocks: the low 6 bits of the day count sit in byte 21
// shifted up past the sequence bits, the block number in the low 3 bits of
// byte 22. Byte 22 also carries the month (middle 4 bits, unused here) and
// the year's parity in its top bit; byte 23 counts years by twos from
// 1900.
func decodeSequenceAndDate(b []byte) (uint16, time.Time) {
	seq := uint16(b[0]) + 256*uint16(b[1]%4)
	days := int(b[2]%8)<<6 + int(b[1]>>2)
	year := 1900 + 2*int(b[3]) + int(b[2]>>7)
	date := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
	return seq, date
}

// Markers returns the populated marker positions.
func (d *Definition) Markers() []Vec {
	return d.markers[:d.MarkerCount]
}

// MarkerNormals returns the populated marker normals.
func (d *Definition) MarkerNormals() []Vec {
	return d.normals[:d.MarkerCount]
}

// MarkerFaces returns the face index assigned to each populated marker.
func (d *Definition) MarkerFaces() []int {
	return d.faces[:d.MarkerCount]
}

// FaceNormals returns all face normal slots. Unused faces are zero.
func (d *Definition) FaceNormals() []Vec {
	return d.faceNormals[:]
}

var mainTypeNames = map[int]string{
	0:  "Unknown",
	1:  "Reference",
	2:  "Pointer",
	3:  "Button Box",
	4:  "User Defined",
	5:  "Microscope",
	7:  "Calibration Block",
	8:  "Tool Docking Station",
	9:  "Isolation Box",
	10: "C-Arm Tracker",
	11: "Catheter",
	12: "GPIO Device",
	14: "Scan Reference",
}

var subTypeNames = map[int]string{
	0: "Removable Tip",
	1: "Fixed Tip",
	2: "Undefined",
}

var markerTypeNames = map[int]string{
	41: "Passive Sphere",
	49: "Passive Disc",
	57: "Radix Lens",
}

// MainTypeName returns the human name of the tool's main type.
func (d *Definition) MainTypeName() string {
	return lookupName(mainTypeNames, d.MainType)
}

// SubTypeName returns the human name of the tool's sub type.
func (d *Definition) SubTypeName() string {
	return lookupName(subTypeNames, d.SubType)
}

// MarkerTypeName returns the human name of the marker type.
func (d *Definition) MarkerTypeName() string {
	return lookupName(markerTypeNames, d.MarkerType)
}

func lookupName(names map[int]string, v int) string {
	if name, ok := names[v]; ok {
		return name
	}
	return fmt.Sprintf("type %d", v)
}

func u16(data []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(data[off : off+2])
}

func f32(data []byte, off int) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4])))
}

func vec(data []byte, off int) Vec {
	return Vec{X: f32(data, off), Y: f32(data, off+4), Z: f32(data, off+8)}
}
