package ingestion

//go:generate mockgen -package mocks -destination mocks/mock_adapter.go github.com/therealutkarshpriyadarshi/inlet/pkg/ingestion Adapter

import (
	"context"
	"errors"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// ErrEndOfStream is returned by ReadNext once the source has no more data,
// for example after the remote end closed the connection
var ErrEndOfStream = errors.New("end of stream")

// ErrNotOpen is returned by ReadNext when Open has not succeeded
var ErrNotOpen = errors.New("adapter not open")

// Adapter is the protocol-specific shell around one external source. It owns
// authentication, subscription filters and reconnection; the worker only sees
// a stream of messages.
type Adapter interface {
	// Name identifies the adapter in logs and metrics
	Name() string
	// Open connects and subscribes
	Open(ctx context.Context) error
	// ReadNext blocks until a message arrives, ctx is cancelled, or the
	// source fails. It is only ever called from one goroutine.
	ReadNext(ctx context.Context) (*stream.Message, error)
	// Close releases the external handle and unblocks a pending ReadNext.
	// It may be called concurrently with ReadNext and more than once.
	Close() error
}

func headerMap(n int) map[string]string {
	return make(map[string]string, n)
}
