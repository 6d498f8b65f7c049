package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// cursor consumes fixed-width fields from a reply payload. Every take
// validates the remaining length first and fails closed with a ParseError
// naming the field, so malformed replies never turn into silent garbage or
// out-of-range reads.
type cursor struct {
	buf []byte
	off int
}

func newCursor(payload []byte) *cursor {
	return &cursor{buf: payload}
}

func (c *cursor) offset() int    { return c.off }
func (c *cursor) remaining() int { return len(c.buf) - c.off }

// take consumes exactly n bytes.
func (c *cursor) take(field string, n int) ([]byte, error) {
	if c.remaining() < n {
		return nil, &ParseError{
			Field:  field,
			Detail: fmt.Sprintf("need %d bytes at offset %d, have %d", n, c.off, c.remaining()),
		}
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// takeString consumes exactly n bytes as a string.
func (c *cursor) takeString(field string, n int) (string, error) {
	b, err := c.take(field, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// hexUint consumes n hex digits.
func (c *cursor) hexUint(field string, n int) (uint64, error) {
	s, err := c.takeString(field, n)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, &ParseError{Field: field, Detail: fmt.Sprintf("not hex: %q", s)}
	}
	return v, nil
}

// fixedPoint consumes a width-character signed decimal with an implied
// decimal point and divides by scale (6-char quaternion components are
// value/10000, 7-char positions value/100).
func (c *cursor) fixedPoint(field string, width int, scale float64) (float64, error) {
	s, err := c.takeString(field, width)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &ParseError{Field: field, Detail: fmt.Sprintf("not numeric: %q", s)}
	}
	return v / scale, nil
}

// hasPrefix reports whether the unconsumed payload starts with lit.
func (c *cursor) hasPrefix(lit string) bool {
	return c.remaining() >= len(lit) && string(c.buf[c.off:c.off+len(lit)]) == lit
}

// skipLiteral consumes lit, which hasPrefix must have matched.
func (c *cursor) skipLiteral(lit string) {
	c.off += len(lit)
}

// expectByte consumes one byte and requires it to equal want.
func (c *cursor) expectByte(field string, want byte) error {
	b, err := c.take(field, 1)
	if err != nil {
		return err
	}
	if b[0] != want {
		return &ParseError{Field: field, Detail: fmt.Sprintf("expected %q, received %q", want, b[0])}
	}
	return nil
}
