package model

import (
	"context"
	"time"
)

// SourceClient answers metric queries against one configured array.
// Implementations classify failures with the sentinel errors in this
// package so the collector can tell retryable outages from fatal ones.
type SourceClient interface {
	// Fetch returns the vendor rows for one metric family over one
	// window. A zero-resolution window requests current (snapshot)
	// values where the family supports no historical data.
	Fetch(ctx context.Context, family string, window Window) ([]Row, error)
}

// WriteOptions carry the per-write knobs every sink honors.
type WriteOptions struct {
	RetentionPolicy   string
	MeasurementPrefix string
}

// SinkClient persists point batches. Write failures are classified as
// ErrSinkTransient (retryable with backoff) or ErrSinkRejected (the
// batch itself is unacceptable and must not be retried).
type SinkClient interface {
	Write(ctx context.Context, batch Batch, opts WriteOptions) error

	// Ping verifies connectivity before the pipeline starts.
	Ping(ctx context.Context) error

	Close() error
}

// CollectorStats is a point-in-time snapshot of one collector's
// progress, published for the status API.
type CollectorStats struct {
	Source      string    `json:"source"`
	Family      string    `json:"family"`
	State       string    `json:"state"`
	CursorEnd   time.Time `json:"cursor_end"`
	Cycles      int64     `json:"cycles"`
	Points      int64     `json:"points"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// WriterStats is a snapshot of the delivery writer's progress.
type WriterStats struct {
	BatchesWritten int64 `json:"batches_written"`
	PointsWritten  int64 `json:"points_written"`
	Retries        int64 `json:"retries"`
	BatchesDropped int64 `json:"batches_dropped"`
	PendingRetries int   `json:"pending_retries"`
}
