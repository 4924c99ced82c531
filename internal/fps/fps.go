// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package fps counts frames and reports a rate once per elapsed interval.
package fps

import "time"

// DefaultInterval is how often Counter reports a rate.
const DefaultInterval = time.Second

// Counter counts ticks. It is not safe for concurrent use; it belongs to
// one plugin instance and is only touched from OnFrame.
type Counter struct {
	interval time.Duration
	now      func() time.Time
	start    time.Time
	count    uint64
}

// New returns a counter reporting once per DefaultInterval.
func New() *Counter {
	return NewWithClock(DefaultInterval, time.Now)
}

// NewWithClock returns a counter with a custom interval and clock.
func NewWithClock(interval time.Duration, now func() time.Time) *Counter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Counter{interval: interval, now: now, start: now()}
}

// Tick records one frame. When at least one interval has elapsed since the
// last report it returns the frames per second over that window and
// starts a new one.
func (c *Counter) Tick() (float64, bool) {
	c.count++
	now := c.now()
	elapsed := now.Sub(c.start)
	if elapsed < c.interval {
		return 0, false
	}
	rate := float64(c.count) / elapsed.Seconds()
	c.count = 0
	c.start = now
	return rate, true
}
