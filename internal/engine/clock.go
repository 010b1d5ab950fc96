package engine

import "time"

// Clock abstracts time.Now() to allow deterministic testing.
// It is used by the Reconciler and Handler to determine "now" and "today".
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current local time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// storeNow reads the clock at the precision PostgreSQL keeps (microseconds), so
// dates derived from it compare equal after a round-trip through the store.
func storeNow(c Clock) time.Time {
	if c == nil {
		c = RealClock{}
	}
	return c.Now().Truncate(time.Microsecond)
}
