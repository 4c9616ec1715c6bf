package sink

import (
	"context"
	"sync"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// CollectorSink keeps every record in memory along with the window
// boundaries it saw. Used in tests and for embedding.
type CollectorSink struct {
	mu      sync.Mutex
	records []*stream.Record
	begun   []stream.WindowID
	ended   []stream.WindowID
	closed  bool
}

// NewCollectorSink creates an empty collector
func NewCollectorSink() *CollectorSink {
	return &CollectorSink{}
}

// Write appends record
func (c *CollectorSink) Write(_ context.Context, record *stream.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

// Flush is a no-op
func (c *CollectorSink) Flush(context.Context) error { return nil }

// Close marks the sink closed. Records stay readable.
func (c *CollectorSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// BeginWindow records the id of w
func (c *CollectorSink) BeginWindow(_ context.Context, w stream.Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begun = append(c.begun, w.ID)
	return nil
}

// EndWindow records the id of w
func (c *CollectorSink) EndWindow(_ context.Context, w stream.Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, w.ID)
	return nil
}

// Records returns a copy of everything written so far
func (c *CollectorSink) Records() []*stream.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*stream.Record(nil), c.records...)
}

// Windows returns the ids of the windows begun and ended so far
func (c *CollectorSink) Windows() (begun, ended []stream.WindowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stream.WindowID(nil), c.begun...), append([]stream.WindowID(nil), c.ended...)
}

// Closed reports whether Close was called
func (c *CollectorSink) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
