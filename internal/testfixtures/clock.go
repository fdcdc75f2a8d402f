package testfixtures

import (
	"sync"
	"time"
)

// Clock provides a controllable time source for tests. A clock created with
// a non-zero tick advances by that amount after every read, which gives
// measured durations a predictable non-zero value.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	tick    time.Duration
}

// NewClock returns a clock initialised to the supplied time. When start is the
// zero value, the shared ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// NewTickingClock returns a clock that advances by tick on every Now call.
func NewTickingClock(start time.Time, tick time.Duration) *Clock {
	c := NewClock(start)
	c.tick = tick
	return c
}

// Now returns the current instant and applies the tick, if any.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.tick)
	return now
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Advance moves the clock forward by the provided duration and returns the
// updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// Current returns the clock time without applying the tick.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
