// Package transport provides the byte-level link a tracker session drives:
// a small open/read/write/break contract and its physical serial
// implementation.
package transport

import (
	"fmt"
	"time"

	"github.com/tracklab/nditracker/internal/protocol"
)

// Transport is the byte transport a session owns exclusively. Read returns
// (0, nil) when no data arrived within the port's poll slice; accumulating
// up to a deadline is the caller's job.
type Transport interface {
	Open(name string, s protocol.LinkSettings) error
	Close() error
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Reconfigure(s protocol.LinkSettings) error
	SendBreak(d time.Duration) error
	DiscardInput() error
}

// Error wraps a failure of the physical transport: open, write shortfall,
// reconfigure, break or close.
type Error struct {
	Op   string
	Port string
	Err  error
}

func (e *Error) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
