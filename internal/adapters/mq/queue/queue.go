// Package queue is the bounded frame buffer between the video loop and
// live consumers. Enqueue never blocks; a full buffer drops the new frame.
package queue

import (
	"context"
	"sync"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/metrics"
)

const defaultCapacity = 1

// Frame is the payload flowing through the buffer.
type Frame = model.FrameResult

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a frame. Returns false if the buffer is full or closed.
	Enqueue(ctx context.Context, f Frame) bool

	// Dequeue returns the receive side of the buffer. It is closed by Close.
	Dequeue(ctx context.Context) <-chan Frame

	// Len returns the current number of buffered frames.
	Len(ctx context.Context) int

	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	frames   chan Frame
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a frame buffer. The default capacity is 1.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.frames = make(chan Frame, q.capacity)
	return q
}

// Enqueue adds a frame without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, f Frame) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("frame_buffer", "closed")
		return false
	}

	select {
	case q.frames <- f:
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.RecordFrameDropped()
		return false
	}
}

// Dequeue returns the buffer's channel.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan Frame {
	return q.frames
}

// Len returns the current number of buffered frames.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.frames)
}

// Close closes the buffer. Buffered frames can still be drained.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.frames)
	q.closed = true
	return nil
}

// IsClosed returns true if the buffer has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
