package shared

import "time"

// Clock abstracts time so due dates, expiry checks, and status timestamps are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now invokes the wrapped function.
func (f ClockFunc) Now() time.Time { return f() }
