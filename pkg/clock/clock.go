// Package clock supplies the tick sources that drive window scheduling.
package clock

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyStarted is returned by Start when the clock is already ticking
var ErrAlreadyStarted = errors.New("clock already started")

// Tick is one step of a clock. Number counts tick widths since the first
// window start, so tick n begins at first + n*width.
type Tick struct {
	Number uint64
	Time   time.Time
}

// TickFunc receives ticks. Implementations may call it from any goroutine.
type TickFunc func(Tick)

// Clock is an injectable tick source
type Clock interface {
	// Now returns the clock's notion of current time
	Now() time.Time
	// Start begins delivering ticks to fn and returns the tick number the
	// clock is at when it starts.
	Start(ctx context.Context, fn TickFunc) (uint64, error)
	// Stop halts tick delivery. Safe to call more than once.
	Stop()
}

func tickTime(first time.Time, width time.Duration, n uint64) time.Time {
	return first.Add(time.Duration(n) * width)
}
