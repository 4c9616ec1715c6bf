package clock

import (
	"context"
	"sync"
	"time"
)

// ManualClock only moves when told to. Ticks are delivered synchronously on
// the goroutine that calls Advance, which makes window behaviour deterministic
// in tests and replay tools.
type ManualClock struct {
	mu      sync.Mutex
	first   time.Time
	width   time.Duration
	current uint64
	fn      TickFunc
	stopped bool
}

// NewManualClock creates a clock positioned at tick 0 (time first)
func NewManualClock(first time.Time, width time.Duration) *ManualClock {
	return &ManualClock{first: first, width: width}
}

// Now returns first + ticks*width
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tickTime(c.first, c.width, c.current)
}

// Start registers fn and returns the current tick number
func (c *ManualClock) Start(_ context.Context, fn TickFunc) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fn != nil && !c.stopped {
		return 0, ErrAlreadyStarted
	}
	c.fn = fn
	c.stopped = false
	return c.current, nil
}

// Stop detaches the tick function. Later Advance calls only move time.
func (c *ManualClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

// Advance moves the clock forward n ticks, delivering each one
func (c *ManualClock) Advance(n int) {
	for i := 0; i < n; i++ {
		c.AdvanceTo(c.Current() + 1)
	}
}

// AdvanceTo jumps to tick number n and delivers a single tick for it. Ticks
// in between are skipped, as happens when a wall clock stalls.
func (c *ManualClock) AdvanceTo(n uint64) {
	c.mu.Lock()
	if n <= c.current {
		c.mu.Unlock()
		return
	}
	c.current = n
	tick := Tick{Number: n, Time: tickTime(c.first, c.width, n)}
	fn := c.fn
	if c.stopped {
		fn = nil
	}
	c.mu.Unlock()

	if fn != nil {
		fn(tick)
	}
}

// Current returns the last tick number
func (c *ManualClock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
