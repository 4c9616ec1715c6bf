package errors

import (
	"context"
	"sync"
	"time"
)

// FailedMessage is a drained payload that never became a record
type FailedMessage struct {
	Key        string            `json:"key"`
	Payload    []byte            `json:"payload"`
	Headers    map[string]string `json:"headers"`
	Source     string            `json:"source"`
	ReceivedAt time.Time         `json:"received_at"`
	Window     uint64            `json:"window"`

	FailureReason   string    `json:"failure_reason"`
	FailureCategory string    `json:"failure_category"`
	FailureTime     time.Time `json:"failure_time"`
}

// DeadLetterQueue keeps rejected payloads around for inspection
type DeadLetterQueue interface {
	// Write stores a failed message. Must not block the drain loop.
	Write(ctx context.Context, msg *FailedMessage) error
	// Read returns up to limit of the oldest retained messages
	Read(ctx context.Context, limit int) ([]*FailedMessage, error)
	// Count returns the number of retained messages
	Count(ctx context.Context) (int64, error)
	Close() error
}

// InMemoryDLQ retains the most recent maxSize failures, evicting the oldest
type InMemoryDLQ struct {
	mu      sync.RWMutex
	msgs    []*FailedMessage
	maxSize int
	evicted int64
}

// NewInMemoryDLQ creates a new in-memory DLQ. maxSize <= 0 means unbounded.
func NewInMemoryDLQ(maxSize int) *InMemoryDLQ {
	return &InMemoryDLQ{
		msgs:    make([]*FailedMessage, 0),
		maxSize: maxSize,
	}
}

// Write stores msg, evicting the oldest entry when full
func (dlq *InMemoryDLQ) Write(_ context.Context, msg *FailedMessage) error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.maxSize > 0 && len(dlq.msgs) >= dlq.maxSize {
		dlq.msgs[0] = nil
		dlq.msgs = dlq.msgs[1:]
		dlq.evicted++
	}

	dlq.msgs = append(dlq.msgs, msg)
	return nil
}

// Read returns up to limit of the oldest retained messages; limit <= 0 means all
func (dlq *InMemoryDLQ) Read(_ context.Context, limit int) ([]*FailedMessage, error) {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()

	if limit <= 0 || limit > len(dlq.msgs) {
		limit = len(dlq.msgs)
	}

	result := make([]*FailedMessage, limit)
	copy(result, dlq.msgs[:limit])
	return result, nil
}

// Count returns the number of retained messages
func (dlq *InMemoryDLQ) Count(_ context.Context) (int64, error) {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()
	return int64(len(dlq.msgs)), nil
}

// Evicted returns how many messages were pushed out by newer failures
func (dlq *InMemoryDLQ) Evicted() int64 {
	dlq.mu.RLock()
	defer dlq.mu.RUnlock()
	return dlq.evicted
}

// Close releases retained messages
func (dlq *InMemoryDLQ) Close() error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	dlq.msgs = nil
	return nil
}

// NullDLQ discards everything
type NullDLQ struct{}

// NewNullDLQ creates a new null DLQ
func NewNullDLQ() *NullDLQ {
	return &NullDLQ{}
}

func (dlq *NullDLQ) Write(context.Context, *FailedMessage) error { return nil }

func (dlq *NullDLQ) Read(context.Context, int) ([]*FailedMessage, error) {
	return []*FailedMessage{}, nil
}

func (dlq *NullDLQ) Count(context.Context) (int64, error) { return 0, nil }

func (dlq *NullDLQ) Close() error { return nil }
