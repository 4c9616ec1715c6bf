// Package buffer provides the bounded hand-off queue between an ingestion
// worker and the windowed drain loop.
package buffer

import (
	"errors"

	"go.uber.org/atomic"
)

// ErrInvalidCapacity is returned when a ring is requested with capacity <= 0
var ErrInvalidCapacity = errors.New("buffer capacity must be positive")

// ring is a lock-free single-producer single-consumer circular buffer.
// head is only advanced by the consumer and tail only by the producer.
type ring[T any] struct {
	head atomic.Uint64
	_    [56]byte // keep head and tail on separate cache lines
	tail atomic.Uint64
	_    [56]byte

	dropped  atomic.Uint64
	capacity uint64
	data     []T
}

// Producer is the write side of a ring. Exactly one goroutine may call Put.
type Producer[T any] struct {
	r *ring[T]
}

// Consumer is the read side of a ring. Exactly one goroutine may call Poll.
type Consumer[T any] struct {
	r *ring[T]
}

// New creates a ring with room for capacity items and returns its only
// producer and consumer handles.
func New[T any](capacity int) (*Producer[T], *Consumer[T], error) {
	if capacity <= 0 {
		return nil, nil, ErrInvalidCapacity
	}

	r := &ring[T]{
		capacity: uint64(capacity),
		data:     make([]T, capacity),
	}
	return &Producer[T]{r: r}, &Consumer[T]{r: r}, nil
}

// Put appends item if the ring has room. When the ring is full the item is
// rejected, the drop counter is incremented and false is returned.
func (p *Producer[T]) Put(item T) bool {
	r := p.r
	tail := r.tail.Load()
	head := r.head.Load()

	if tail-head >= r.capacity {
		r.dropped.Inc()
		return false
	}

	r.data[tail%r.capacity] = item
	r.tail.Store(tail + 1)
	return true
}

// Size returns the number of buffered items
func (p *Producer[T]) Size() int { return p.r.size() }

// Cap returns the fixed capacity
func (p *Producer[T]) Cap() int { return int(p.r.capacity) }

// Dropped returns how many items were rejected because the ring was full
func (p *Producer[T]) Dropped() uint64 { return p.r.dropped.Load() }

// Poll removes and returns the oldest item. ok is false when the ring is empty.
func (c *Consumer[T]) Poll() (item T, ok bool) {
	r := c.r
	head := r.head.Load()
	tail := r.tail.Load()

	if head >= tail {
		return item, false
	}

	idx := head % r.capacity
	item = r.data[idx]

	var zero T
	r.data[idx] = zero
	r.head.Store(head + 1)
	return item, true
}

// Discard drops every buffered item and returns how many were removed
func (c *Consumer[T]) Discard() int {
	n := 0
	for {
		if _, ok := c.Poll(); !ok {
			return n
		}
		n++
	}
}

// Size returns the number of buffered items
func (c *Consumer[T]) Size() int { return c.r.size() }

// Cap returns the fixed capacity
func (c *Consumer[T]) Cap() int { return int(c.r.capacity) }

// Dropped returns how many items were rejected because the ring was full
func (c *Consumer[T]) Dropped() uint64 { return c.r.dropped.Load() }

// Utilization returns occupancy as a ratio of capacity
func (c *Consumer[T]) Utilization() float64 {
	return float64(c.r.size()) / float64(c.r.capacity)
}

func (r *ring[T]) size() int {
	// head first: both indices only grow, so this never underflows
	head := r.head.Load()
	tail := r.tail.Load()

	n := tail - head
	if n > r.capacity {
		n = r.capacity
	}
	return int(n)
}
