package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicClock(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	steps := []time.Time{
		base.Add(1500 * time.Nanosecond),
		base.Add(-time.Hour),
		base.Add(time.Second),
	}
	var i int
	c := newMonotonicClock(ClockFunc(func() time.Time {
		now := steps[i]
		i++
		return now
	}))

	first := c.Now()
	assert.Equal(t, base.Add(time.Microsecond), first)
	assert.Equal(t, first, c.Now())
	assert.Equal(t, base.Add(time.Second), c.Now())
}

func TestMonotonicClockDefaultsToWallClock(t *testing.T) {
	c := newMonotonicClock(nil)
	before := time.Now().Add(-time.Second)
	assert.True(t, c.Now().After(before))
}
