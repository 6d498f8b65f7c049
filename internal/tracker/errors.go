package tracker

import (
	"fmt"
	"time"
)

// TimeoutError reports that no frame terminator arrived within the read
// deadline. The command is still considered outstanding; callers must not
// send another until the transport has been drained.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tracker: %s: no response within %s", e.Op, e.Timeout)
}
