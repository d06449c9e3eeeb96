package cache

import (
	"sync"
	"time"
)

// Clock supplies insertion timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// monotonicClock never returns a time before one it already returned,
// even if the wall clock steps back. Times are truncated to microseconds
// so every backend stores them exactly.
type monotonicClock struct {
	mu   sync.Mutex
	src  Clock
	last time.Time
}

func newMonotonicClock(src Clock) *monotonicClock {
	if src == nil {
		src = ClockFunc(time.Now)
	}
	return &monotonicClock{src: src}
}

func (c *monotonicClock) Now() time.Time {
	now := c.src.Now().UTC().Truncate(time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return now
}
