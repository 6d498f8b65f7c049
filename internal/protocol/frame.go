package protocol

import (
	"bytes"
	"fmt"
)

// Terminator ends every command and every reply.
const Terminator = '\r'

// Frame builds a checksummed wire frame from a command payload:
// payload + 4 hex CRC digits + CR. "BEEP 3" becomes "BEEP 3258E\r".
func Frame(payload string) []byte {
	frame := make([]byte, 0, len(payload)+ChecksumSize+1)
	frame = append(frame, payload...)
	frame = append(frame, ChecksumString([]byte(payload))...)
	frame = append(frame, Terminator)
	return frame
}

// FrameBare builds a frame without a checksum: payload + CR. The controller
// accepts both forms; the session sends only the bootstrap commands (COMM,
// INIT) bare, before the link has been proven.
func FrameBare(payload string) []byte {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, payload...)
	frame = append(frame, Terminator)
	return frame
}

// VerifyReply validates a raw reply frame and returns its payload.
//
// A reply is payload + 4 hex CRC digits + CR; the controller checksums every
// reply ("RESET" arrives as "RESETBE6F\r"). The terminator and checksum are
// stripped, the checksum recomputed over the rest and compared. Any
// structural defect or mismatch is a ProtocolError.
func VerifyReply(raw []byte) ([]byte, error) {
	if len(raw) == 0 || raw[len(raw)-1] != Terminator {
		return nil, &ProtocolError{Op: "reply", Detail: "missing CR terminator"}
	}
	body := raw[:len(raw)-1]
	if len(body) < ChecksumSize {
		return nil, &ProtocolError{Op: "reply", Detail: fmt.Sprintf("frame too short for checksum: %d bytes", len(body))}
	}
	payload := body[:len(body)-ChecksumSize]
	received := string(body[len(body)-ChecksumSize:])
	computed := ChecksumString(payload)
	if received != computed {
		return nil, &ProtocolError{
			Op:     "reply",
			Detail: fmt.Sprintf("checksum mismatch: received %q, computed %q for %q", received, computed, payload),
		}
	}
	return payload, nil
}

// IsErrorReply reports whether a verified payload is a controller error
// reply ("ERROR" + 2-hex code) and returns the code when it is.
func IsErrorReply(payload []byte) (code string, ok bool) {
	if len(payload) >= 7 && bytes.HasPrefix(payload, []byte("ERROR")) {
		return string(payload[5:7]), true
	}
	return "", false
}
