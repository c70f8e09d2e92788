package indexing

import (
	"sync"
	"time"
)

// Clock supplies task creation timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// MonotonicClock wraps another clock and never returns the same or an
// earlier instant twice. Equal or regressing readings are bumped by 1ns.
type MonotonicClock struct {
	mu   sync.Mutex
	base Clock
	last time.Time
}

// NewMonotonicClock returns a MonotonicClock over base.
// A nil base uses SystemClock.
func NewMonotonicClock(base Clock) *MonotonicClock {
	if base == nil {
		base = SystemClock{}
	}
	return &MonotonicClock{base: base}
}

// Now returns a UTC timestamp strictly after every previous one.
func (c *MonotonicClock) Now() time.Time {
	now := c.base.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}
