// Package queue carries point batches from the collectors to the
// delivery writer. It is the only structure in the pipeline shared by
// more than one goroutine.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
)

// DefaultCapacity is the default number of batches the queue buffers
// before producers block.
const DefaultCapacity = 256

// ErrFull is returned when a push waits out its backpressure timeout.
// The caller keeps its cursor unchanged and retries the same window on
// the next cycle, so nothing is lost.
var ErrFull = errors.New("queue: full")

// Queue is a bounded FIFO of batches with many producers and a single
// consumer. A batch enters and leaves as a unit. FIFO order holds per
// producer; no ordering is promised across producers.
type Queue struct {
	ch        chan model.Batch
	closeOnce sync.Once
}

// New creates a queue buffering up to capacity batches.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan model.Batch, capacity)}
}

// Push enqueues one batch, blocking up to wait when the queue is full.
// Returns ErrFull on timeout and the context error on cancellation.
func (q *Queue) Push(ctx context.Context, batch model.Batch, wait time.Duration) error {
	if len(batch) == 0 {
		return nil
	}
	select {
	case q.ch <- batch:
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case q.ch <- batch:
		return nil
	case <-timer.C:
		return ErrFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the receive side to the single consumer. The channel is
// closed by Close, after which the consumer drains what remains.
func (q *Queue) C() <-chan model.Batch {
	return q.ch
}

// Len returns the number of batches currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close marks the producer side finished. Safe to call once all
// producers have stopped; the consumer sees the close after draining.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}
