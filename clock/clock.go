// Package clock provides the timestamps used to stamp timing intervals.
package clock

import "time"

// Millis is a point in time, counted in milliseconds since the Unix epoch.
type Millis int64

// A TimeTeller can tell the current time.
type TimeTeller interface {
	CurrentTime() Millis
}

// WallClock tells the wall-clock time. Readings are derived from the
// monotonic clock, so a WallClock never moves backwards even when the system
// clock is adjusted.
type WallClock struct {
	base time.Time
}

// NewWallClock creates a WallClock anchored at the current time.
func NewWallClock() *WallClock {
	return &WallClock{base: time.Now()}
}

// CurrentTime returns the current time.
func (c *WallClock) CurrentTime() Millis {
	return Millis(c.base.UnixMilli() + time.Since(c.base).Milliseconds())
}

// Duration converts a span in milliseconds to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}
