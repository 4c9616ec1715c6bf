package stream

import (
	"context"
	"time"
)

// WindowID identifies a processing window. Ids start at 0 and increase by one
// for every window the scheduler opens.
type WindowID uint64

// Message is a raw payload as read from an external source
type Message struct {
	Key        string            // Subject, channel, topic key or empty
	Payload    []byte            // Bytes exactly as received
	Headers    map[string]string // Source metadata
	Source     string            // Adapter name
	ReceivedAt time.Time         // Wall time the worker read it
}

// Record is a decoded message stamped with the window it was emitted in
type Record struct {
	ID         string
	Key        string
	Value      interface{}
	Headers    map[string]string
	Source     string
	ReceivedAt time.Time
	Window     WindowID
}

// Window is a half-open interval [Start, End) of processing time
type Window struct {
	ID    WindowID
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Sink consumes records emitted by the drain loop
type Sink interface {
	Write(ctx context.Context, record *Record) error
	Flush(ctx context.Context) error
	Close() error
}

// WindowListener is implemented by sinks that care about window boundaries
type WindowListener interface {
	BeginWindow(ctx context.Context, w Window) error
	EndWindow(ctx context.Context, w Window) error
}
