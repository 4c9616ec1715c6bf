package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/ethwallclock"
	"go.uber.org/atomic"
)

// WallClock ticks in real time. It reuses the beacon chain slot clock: slot n
// starts at first + n*width, and every slot change becomes a tick.
type WallClock struct {
	first time.Time
	width time.Duration
	chain *ethwallclock.EthereumBeaconChain

	running  atomic.Bool
	stopOnce sync.Once
	mu       sync.Mutex
}

// NewWallClock creates a wall clock whose slot 0 begins at first. ticksPerWindow
// becomes the slots-per-epoch value so epochs line up with windows.
func NewWallClock(first time.Time, width time.Duration, ticksPerWindow uint64) (*WallClock, error) {
	if width <= 0 {
		return nil, fmt.Errorf("tick width must be positive, got %s", width)
	}
	if ticksPerWindow == 0 {
		ticksPerWindow = 1
	}

	return &WallClock{
		first: first,
		width: width,
		chain: ethwallclock.NewEthereumBeaconChain(first, width, ticksPerWindow),
	}, nil
}

// Now returns the current wall time
func (c *WallClock) Now() time.Time {
	return time.Now()
}

// Start subscribes fn to slot changes and returns the current slot number.
// It fails if first lies in the future.
func (c *WallClock) Start(ctx context.Context, fn TickFunc) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.CompareAndSwap(false, true) {
		return 0, ErrAlreadyStarted
	}

	slot, _, err := c.chain.Now()
	if err != nil {
		c.running.Store(false)
		return 0, fmt.Errorf("wall clock not started: %w", err)
	}

	c.chain.OnSlotChanged(func(s ethwallclock.Slot) {
		if !c.running.Load() {
			return
		}
		fn(Tick{Number: s.Number(), Time: s.TimeWindow().Start()})
	})

	context.AfterFunc(ctx, c.Stop)

	return slot.Number(), nil
}

// Stop halts slot notifications
func (c *WallClock) Stop() {
	c.running.Store(false)
	c.stopOnce.Do(c.chain.Stop)
}

// SlotStart returns the start time of tick n
func (c *WallClock) SlotStart(n uint64) time.Time {
	slot := c.chain.Slots().FromNumber(n)
	return slot.TimeWindow().Start()
}
