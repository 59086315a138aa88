// Package deliver drains the queue and persists point batches through
// the sink client, retrying transient failures with capped backoff.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arraybeat/arraybeat/internal/model"
	"github.com/arraybeat/arraybeat/internal/queue"
)

// Config wires the single writer.
type Config struct {
	Sink    model.SinkClient
	Queue   *queue.Queue
	Options model.WriteOptions

	// BatchSize caps the points per delivery attempt.
	BatchSize int

	// FlushInterval bounds how long a partial batch may sit before it
	// is delivered anyway, so low-volume periods still flush promptly.
	FlushInterval time.Duration

	// MaxPending bounds the batches parked for retry. At the cap the
	// writer stops draining the queue, which backpressures into the
	// collectors instead of buffering without bound.
	MaxPending int

	Retry Policy

	// MaxConsecutiveFailures treats that many retry-exhausted batches
	// in a row as total sink unavailability and terminates the run.
	// Zero disables the terminal condition.
	MaxConsecutiveFailures int

	// Report publishes progress snapshots; may be nil.
	Report func(model.WriterStats)

	Log *zap.Logger
}

// retryBatch is one batch parked after a transient failure.
type retryBatch struct {
	points model.Batch
	state  backoff
	due    time.Time
}

// Writer is the queue's single consumer. One stuck batch does not
// stall unrelated data: while a batch waits out its backoff the writer
// keeps draining the queue into the next batch, up to MaxPending.
type Writer struct {
	cfg Config
	log *zap.Logger

	current model.Batch
	dirty   time.Time // when the oldest point entered current
	pending []*retryBatch

	written     int64
	points      int64
	retries     int64
	dropped     int64
	consecutive int
}

// New creates the writer.
func New(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 4
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Writer{cfg: cfg, log: cfg.Log.Named("writer")}
}

// Run consumes the queue until it is closed and drained, or until ctx
// is cancelled. It returns an error only for the terminal condition:
// the sink unavailable beyond the consecutive-failure budget.
func (w *Writer) Run(ctx context.Context) error {
	defer w.publish()

	for {
		queueCh := w.cfg.Queue.C()
		if len(w.pending) >= w.cfg.MaxPending {
			// Retry backlog at the cap: stop draining until it clears.
			queueCh = nil
		}

		flushCh, stopFlush := w.flushTimer()
		retryCh, stopRetry := w.retryTimer()

		select {
		case batch, ok := <-queueCh:
			stopFlush()
			stopRetry()
			if !ok {
				return w.drain(ctx)
			}
			w.absorb(batch)
			if len(w.current) >= w.cfg.BatchSize {
				if err := w.flush(ctx); err != nil {
					return err
				}
			}

		case <-flushCh:
			stopRetry()
			if err := w.flush(ctx); err != nil {
				return err
			}

		case <-retryCh:
			stopFlush()
			if err := w.retryDue(ctx); err != nil {
				return err
			}

		case <-ctx.Done():
			stopFlush()
			stopRetry()
			w.logAbandoned()
			return nil
		}
		w.publish()
	}
}

// absorb folds a queued batch into the accumulating delivery batch.
func (w *Writer) absorb(batch model.Batch) {
	if len(w.current) == 0 {
		w.dirty = time.Now()
	}
	w.current = append(w.current, batch...)
}

// flushTimer arms a timer for the flush deadline of the current
// partial batch. The channel is nil (never fires) when nothing is
// buffered.
func (w *Writer) flushTimer() (<-chan time.Time, func()) {
	if len(w.current) == 0 {
		return nil, func() {}
	}
	d := time.Until(w.dirty.Add(w.cfg.FlushInterval))
	if d < 0 {
		d = 0
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// retryTimer arms a timer for the earliest due pending batch.
func (w *Writer) retryTimer() (<-chan time.Time, func()) {
	var earliest time.Time
	for _, rb := range w.pending {
		if earliest.IsZero() || rb.due.Before(earliest) {
			earliest = rb.due
		}
	}
	if earliest.IsZero() {
		return nil, func() {}
	}
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// flush delivers the accumulated batch once. Transient failures park
// it for retry; rejections drop it immediately.
func (w *Writer) flush(ctx context.Context) error {
	if len(w.current) == 0 {
		return nil
	}
	batch := w.current
	w.current = nil

	err := w.cfg.Sink.Write(ctx, batch, w.cfg.Options)
	switch {
	case err == nil:
		w.recordSuccess(batch)
		return nil

	case errors.Is(err, model.ErrSinkRejected):
		// Content problem, not availability: retrying cannot help and
		// it does not count toward the terminal condition.
		w.dropBatch(batch, 1, err)
		return nil

	default:
		rb := &retryBatch{points: batch, state: newBackoff(w.cfg.Retry)}
		return w.park(rb, err)
	}
}

// retryDue re-attempts every pending batch whose backoff has elapsed.
func (w *Writer) retryDue(ctx context.Context) error {
	now := time.Now()
	remaining := w.pending[:0]
	due := make([]*retryBatch, 0, len(w.pending))
	for _, rb := range w.pending {
		if rb.due.After(now) {
			remaining = append(remaining, rb)
		} else {
			due = append(due, rb)
		}
	}
	w.pending = remaining

	for _, rb := range due {
		w.retries++
		err := w.cfg.Sink.Write(ctx, rb.points, w.cfg.Options)
		switch {
		case err == nil:
			w.recordSuccess(rb.points)

		case errors.Is(err, model.ErrSinkRejected):
			w.dropBatch(rb.points, rb.state.attempts+1, err)

		default:
			if perr := w.park(rb, err); perr != nil {
				return perr
			}
		}
	}
	return nil
}

// park schedules the next retry for a batch, or drops it once the
// budget is exhausted. Returns the terminal error when too many
// batches in a row have been dropped this way.
func (w *Writer) park(rb *retryBatch, cause error) error {
	wait, ok := rb.state.next()
	if !ok {
		w.dropBatch(rb.points, rb.state.attempts, cause)
		w.consecutive++
		if w.cfg.MaxConsecutiveFailures > 0 && w.consecutive >= w.cfg.MaxConsecutiveFailures {
			return fmt.Errorf("sink unavailable: %d consecutive batches exhausted their retries: %w",
				w.consecutive, cause)
		}
		return nil
	}
	rb.due = time.Now().Add(wait)
	w.pending = append(w.pending, rb)
	w.log.Warn("delivery failed, batch parked for retry",
		zap.Int("points", len(rb.points)),
		zap.Int("attempt", rb.state.attempts),
		zap.Duration("retry_in", wait),
		zap.Error(cause))
	return nil
}

// drain runs after the queue closes: deliver what is buffered, then
// wait out the remaining retries until they resolve or ctx expires.
func (w *Writer) drain(ctx context.Context) error {
	if err := w.flush(ctx); err != nil {
		return err
	}
	for len(w.pending) > 0 {
		retryCh, stopRetry := w.retryTimer()
		select {
		case <-retryCh:
			if err := w.retryDue(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			stopRetry()
			w.logAbandoned()
			return nil
		}
	}
	return nil
}

func (w *Writer) recordSuccess(batch model.Batch) {
	w.written++
	w.points += int64(len(batch))
	w.consecutive = 0
}

// dropBatch reports a fatal delivery failure with enough context to
// replay the range manually via the initial start time flag.
func (w *Writer) dropBatch(batch model.Batch, attempts int, cause error) {
	w.dropped++
	first, last := batchTimeRange(batch)
	ferr := &model.FatalDeliveryError{
		Points:   len(batch),
		Attempts: attempts,
		First:    batch[0].Measurement,
		Err:      cause,
	}
	w.log.Error("dropping undeliverable batch",
		zap.Int("points", len(batch)),
		zap.Int("attempts", attempts),
		zap.Time("first_timestamp", first),
		zap.Time("last_timestamp", last),
		zap.Error(ferr))
}

func (w *Writer) logAbandoned() {
	if len(w.current) == 0 && len(w.pending) == 0 {
		return
	}
	n := len(w.current)
	for _, rb := range w.pending {
		n += len(rb.points)
	}
	w.log.Warn("shutdown deadline reached with undelivered points", zap.Int("points", n))
}

func (w *Writer) publish() {
	if w.cfg.Report == nil {
		return
	}
	w.cfg.Report(model.WriterStats{
		BatchesWritten: w.written,
		PointsWritten:  w.points,
		Retries:        w.retries,
		BatchesDropped: w.dropped,
		PendingRetries: len(w.pending),
	})
}

func batchTimeRange(batch model.Batch) (first, last time.Time) {
	for _, p := range batch {
		if first.IsZero() || p.Timestamp.Before(first) {
			first = p.Timestamp
		}
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
	}
	return first, last
}
