package protocol

import "fmt"

// ChecksumSize is the width of the ASCII checksum field in a frame.
const ChecksumSize = 4

// oddParity holds the parity of each 4-bit value, indexed by the nibble.
var oddParity = [16]uint16{0, 1, 1, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0, 1, 1, 0}

// Checksum computes the 16-bit CRC used by NDI controllers over an ASCII
// payload. The algorithm is the vendor's parity-table variant of CRC-16/ARC;
// the bit manipulation order below matches the controller firmware exactly
// and must not be replaced with a table-driven equivalent.
//
// Known vectors: "INIT " -> 0x2824, "RESET" -> 0xBE6F, "OKAY" -> 0xA896.
func Checksum(payload []byte) uint16 {
	var crc uint16
	for _, b := range payload {
		t := (uint16(b) ^ (crc & 0xff)) & 0xff
		crc >>= 8
		if oddParity[t&0x0f]^oddParity[t>>4] != 0 {
			crc ^= 0xc001
		}
		t <<= 6
		crc ^= t
		t <<= 1
		crc ^= t
	}
	return crc
}

// ChecksumString formats the payload checksum as the 4 uppercase hex digits
// that appear on the wire.
func ChecksumString(payload []byte) string {
	return fmt.Sprintf("%04X", Checksum(payload))
}
