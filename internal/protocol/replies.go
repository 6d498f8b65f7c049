package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// OKAY is the controller's acknowledgement payload.
const OKAY = "OKAY"

// RESET is the payload the controller sends after a serial break.
const RESET = "RESET"

// ErrUnoccupied marks a PHINF reply for an allocated but empty port
// handle. Callers enumerating handles skip these rather than fail.
var ErrUnoccupied = errors.New("protocol: port handle is unoccupied")

// ParsePHSR decodes a PHSR reply: a 2-hex-digit handle count followed by
// one 5-character group per handle (2-character handle + 3 status characters
// this layer does not interpret).
func ParsePHSR(payload []byte) ([]string, error) {
	c := newCursor(payload)
	handles, err := parsePHSRBody(c)
	if err != nil {
		return nil, err
	}
	return handles, nil
}

func parsePHSRBody(c *cursor) ([]string, error) {
	count, err := c.hexUint("handle count", 2)
	if err != nil {
		return nil, err
	}
	handles := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		handle, err := c.takeString(fmt.Sprintf("handle %d", i), 2)
		if err != nil {
			return nil, err
		}
		if _, err := c.take(fmt.Sprintf("handle %d status", i), 3); err != nil {
			return nil, err
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

// ParsePHRQ decodes a PHRQ reply; the first two characters are the newly
// assigned port handle.
func ParsePHRQ(payload []byte) (string, error) {
	c := newCursor(payload)
	return c.takeString("port handle", 2)
}

// ToolInfo is the extended port handle information reported by PHINF with
// options 0025 (tool information + part number + port location).
type ToolInfo struct {
	ToolType       string // 8 chars; the leading 2 are the main type
	MainType       string
	ManufacturerID string
	ToolRevision   string
	SerialNumber   string
	Status         string
	PartNumber     string
	Channel        string // "01" marks the second channel of a dual 5-DoF sensor
}

// ParsePHINF decodes a PHINF 0025 reply. The layout is three fixed
// sections in option order: tool information (33 characters), part number
// (20) and port location (14, channel in the last 2).
func ParsePHINF(payload []byte) (*ToolInfo, error) {
	if strings.HasPrefix(string(payload), "UNOCCUPIED") {
		return nil, ErrUnoccupied
	}
	c := newCursor(payload)
	info := &ToolInfo{}
	var err error
	if info.ToolType, err = c.takeString("tool type", 8); err != nil {
		return nil, err
	}
	info.MainType = info.ToolType[:2]
	if info.ManufacturerID, err = c.takeString("manufacturer id", 12); err != nil {
		return nil, err
	}
	if info.ToolRevision, err = c.takeString("tool revision", 3); err != nil {
		return nil, err
	}
	if info.SerialNumber, err = c.takeString("serial number", 8); err != nil {
		return nil, err
	}
	if info.Status, err = c.takeString("port status", 2); err != nil {
		return nil, err
	}
	part, err := c.takeString("part number", 20)
	if err != nil {
		return nil, err
	}
	info.PartNumber = strings.TrimRight(part, " ")
	location, err := c.takeString("port location", 14)
	if err != nil {
		return nil, err
	}
	info.Channel = location[12:]
	return info, nil
}

// ParseVersion splits a VER reply into its trimmed non-empty lines. The
// first line carries the firmware revision string checked by the session's
// support gate.
func ParseVersion(payload []byte) []string {
	raw := strings.Split(string(payload), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
