// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package fps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCounter_ReportsOncePerInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := NewWithClock(time.Second, clock.now)

	for range 59 {
		clock.advance(10 * time.Millisecond)
		_, ok := c.Tick()
		assert.False(t, ok)
	}

	clock.advance(410 * time.Millisecond)
	rate, ok := c.Tick()
	assert.True(t, ok)
	assert.InDelta(t, 60.0, rate, 0.001)

	clock.advance(10 * time.Millisecond)
	_, ok = c.Tick()
	assert.False(t, ok, "window restarts after a report")
}

func TestCounter_SlowFrames(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewWithClock(time.Second, clock.now)

	clock.advance(4 * time.Second)
	rate, ok := c.Tick()
	assert.True(t, ok)
	assert.InDelta(t, 0.25, rate, 0.0001)
}

func TestNewWithClock_DefaultsInterval(t *testing.T) {
	c := NewWithClock(0, time.Now)
	assert.Equal(t, DefaultInterval, c.interval)
}

func TestNew(t *testing.T) {
	c := New()
	_, ok := c.Tick()
	assert.False(t, ok)
}
