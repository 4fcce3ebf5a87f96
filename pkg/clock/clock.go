package clock

import "time"

// Clock supplies the current time. Business rules take it explicitly so tests can pin "now".
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in Location (UTC when nil).
type System struct {
	Location *time.Location
}

// Now returns the current time in the configured location.
func (s System) Now() time.Time {
	if s.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(s.Location)
}

// Func adapts a function to Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }
