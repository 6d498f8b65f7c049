package protocol

import "fmt"

// TXToolState classifies one tool group in a TX reply.
type TXToolState int

const (
	// TXToolVisible means a full pose record was reported.
	TXToolVisible TXToolState = iota
	// TXToolMissing means the tool is enabled but not currently seen.
	TXToolMissing
	// TXToolDisabled means the port handle is not enabled.
	TXToolDisabled
	// TXToolUnoccupied means the port handle has no tool.
	TXToolUnoccupied
)

func (s TXToolState) String() string {
	switch s {
	case TXToolVisible:
		return "visible"
	case TXToolMissing:
		return "missing"
	case TXToolDisabled:
		return "disabled"
	case TXToolUnoccupied:
		return "unoccupied"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TXTool is one per-handle group of a TX reply. Quaternion and Position are
// only meaningful when State is TXToolVisible; the implied decimal points
// are already applied (quaternion and RMS /10000, position /100 giving
// millimetres).
type TXTool struct {
	Handle      string
	State       TXToolState
	Quaternion  [4]float64 // W, X, Y, Z
	Position    [3]float64 // X, Y, Z
	ErrorRMS    float64
	PortStatus  string // 8 status characters, uninterpreted
	FrameNumber uint32
}

// StrayMarker is one marker not belonging to any tool. Visible is false
// when the controller flagged it out of the calibrated volume.
type StrayMarker struct {
	Visible  bool
	Position [3]float64
}

// TXReply is one decoded tracking frame.
type TXReply struct {
	Tools        []TXTool
	Strays       []StrayMarker
	SystemStatus string // trailing 4 characters, uninterpreted
}

// Status literals a tool group may carry instead of a pose record.
const (
	txMissing    = "MISSING"
	txDisabled   = "DISABLED"
	txUnoccupied = "UNOCCUPIED"
)

// ParseTX decodes a TX 0001 (strayMarkers false) or TX 1001 (true) reply:
// a 2-hex handle count, that many tool groups, the stray marker section
// when enabled, and 4 characters of system status. A malformed group aborts
// the remainder of the frame.
func ParseTX(payload []byte, strayMarkers bool) (*TXReply, error) {
	c := newCursor(payload)
	reply := &TXReply{}

	count, err := c.hexUint("handle count", 2)
	if err != nil {
		return nil, err
	}
	reply.Tools = make([]TXTool, 0, count)
	for i := 0; i < int(count); i++ {
		tool, err := parseTXTool(c)
		if err != nil {
			return nil, err
		}
		reply.Tools = append(reply.Tools, tool)
	}

	if strayMarkers {
		reply.Strays, err = parseStrayMarkers(c)
		if err != nil {
			return nil, err
		}
	}

	reply.SystemStatus, err = c.takeString("system status", 4)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// ParseTXStraysOnly decodes a TX 1000 reply, where tool groups shrink to a
// bare handle and line feed and only the stray section carries data.
func ParseTXStraysOnly(payload []byte) ([]StrayMarker, error) {
	c := newCursor(payload)

	count, err := c.hexUint("handle count", 2)
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		if _, err := c.take(fmt.Sprintf("handle %d", i), 2); err != nil {
			return nil, err
		}
		if err := c.expectByte(fmt.Sprintf("handle %d line feed", i), '\n'); err != nil {
			return nil, err
		}
	}

	strays, err := parseStrayMarkers(c)
	if err != nil {
		return nil, err
	}
	if _, err := c.takeString("system status", 4); err != nil {
		return nil, err
	}
	return strays, nil
}

func parseTXTool(c *cursor) (TXTool, error) {
	var tool TXTool
	handle, err := c.takeString("port handle", 2)
	if err != nil {
		return tool, err
	}
	tool.Handle = handle

	switch {
	case c.hasPrefix(txMissing):
		c.skipLiteral(txMissing)
		tool.State = TXToolMissing
		if tool.PortStatus, err = c.takeString("port status", 8); err != nil {
			return tool, err
		}
	case c.hasPrefix(txDisabled):
		c.skipLiteral(txDisabled)
		tool.State = TXToolDisabled
		if tool.PortStatus, err = c.takeString("port status", 8); err != nil {
			return tool, err
		}
	case c.hasPrefix(txUnoccupied):
		c.skipLiteral(txUnoccupied)
		tool.State = TXToolUnoccupied
		if tool.PortStatus, err = c.takeString("port status", 8); err != nil {
			return tool, err
		}
	default:
		tool.State = TXToolVisible
		for i, name := range [...]string{"q0", "qx", "qy", "qz"} {
			if tool.Quaternion[i], err = c.fixedPoint(name, 6, 10000); err != nil {
				return tool, err
			}
		}
		for i, name := range [...]string{"tx", "ty", "tz"} {
			if tool.Position[i], err = c.fixedPoint(name, 7, 100); err != nil {
				return tool, err
			}
		}
		if tool.ErrorRMS, err = c.fixedPoint("error rms", 6, 10000); err != nil {
			return tool, err
		}
		if tool.PortStatus, err = c.takeString("port status", 8); err != nil {
			return tool, err
		}
	}

	frame, err := c.hexUint("frame number", 8)
	if err != nil {
		return tool, err
	}
	tool.FrameNumber = uint32(frame)
	if err := c.expectByte("line feed", '\n'); err != nil {
		return tool, err
	}
	return tool, nil
}

// parseStrayMarkers decodes the stray section: a 2-hex marker count, an
// out-of-volume bitmap of ceil(count/4) characters, then the positions.
// Each bitmap character contributes the low nibble of its ASCII value,
// inverted (the wire bit means out-of-volume, stored as visibility), bits
// consumed most significant first. The first 4*ceil(count/4)-count bits are
// padding and discarded, so marker 0 follows the padding.
func parseStrayMarkers(c *cursor) ([]StrayMarker, error) {
	count, err := c.hexUint("stray count", 2)
	if err != nil {
		return nil, err
	}
	n := int(count)
	if n == 0 {
		return nil, nil
	}

	bitmapLen := (n + 3) / 4
	raw, err := c.take("out-of-volume bitmap", bitmapLen)
	if err != nil {
		return nil, err
	}
	visible := make([]bool, 0, 4*bitmapLen)
	for _, ch := range raw {
		nibble := ^ch & 0x0F
		for bit := 3; bit >= 0; bit-- {
			visible = append(visible, nibble&(1<<uint(bit)) != 0)
		}
	}
	padding := 4*bitmapLen - n

	markers := make([]StrayMarker, 0, n)
	for i := 0; i < n; i++ {
		var m StrayMarker
		for j, name := range [...]string{"mx", "my", "mz"} {
			if m.Position[j], err = c.fixedPoint(fmt.Sprintf("marker %d %s", i, name), 7, 100); err != nil {
				return nil, err
			}
		}
		m.Visible = visible[padding+i]
		markers = append(markers, m)
	}
	return markers, nil
}
