package grading

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks a grading failure caused by infrastructure (provider
// down, malformed output), never by the learner's answer. Callers must not
// record a failing attempt for it.
var ErrUnavailable = errors.New("grading unavailable")

// LockoutError is returned while a lockout window is active. It is an
// expected, user-visible state rather than an exceptional condition; Until
// lets the UI count down.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("attempts locked until %s", e.Until.Format(time.RFC3339))
}
