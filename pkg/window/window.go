package window

import (
	"fmt"
	"time"

	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// Config describes tumbling processing-time windows made of whole ticks
type Config struct {
	// Start of the first window. Tick n begins at FirstWindow + n*TickWidth.
	FirstWindow time.Time
	WindowWidth time.Duration
	TickWidth   time.Duration
}

// Validate rejects widths that cannot produce whole-tick windows
func (c Config) Validate() error {
	if c.TickWidth <= 0 {
		return inerrors.ConfigError("window.tick_width", "must be positive, got %s", c.TickWidth)
	}
	if c.WindowWidth <= 0 {
		return inerrors.ConfigError("window.width", "must be positive, got %s", c.WindowWidth)
	}
	if c.WindowWidth%c.TickWidth != 0 {
		return inerrors.ConfigError("window.width", "%s is not a multiple of tick width %s", c.WindowWidth, c.TickWidth)
	}
	return nil
}

// TicksPerWindow returns WindowWidth/TickWidth. Only meaningful after Validate.
func (c Config) TicksPerWindow() uint64 {
	return uint64(c.WindowWidth / c.TickWidth)
}

// AlignTick returns the first tick of the window that contains tick n
func (c Config) AlignTick(n uint64) uint64 {
	k := c.TicksPerWindow()
	return n - n%k
}

// TickTime returns the start time of tick n
func (c Config) TickTime(n uint64) time.Time {
	return c.FirstWindow.Add(time.Duration(n) * c.TickWidth)
}

// TickAt returns the tick containing t. Times before the first window map to tick 0.
func (c Config) TickAt(t time.Time) uint64 {
	if t.Before(c.FirstWindow) {
		return 0
	}
	return uint64(t.Sub(c.FirstWindow) / c.TickWidth)
}

// Bounds builds the window with the given id starting at tick startTick
func (c Config) Bounds(id stream.WindowID, startTick uint64) stream.Window {
	start := c.TickTime(startTick)
	return stream.Window{
		ID:    id,
		Start: start,
		End:   start.Add(c.WindowWidth),
	}
}

func (c Config) String() string {
	return fmt.Sprintf("first=%s width=%s tick=%s", c.FirstWindow.Format(time.RFC3339Nano), c.WindowWidth, c.TickWidth)
}
