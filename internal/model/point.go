package model

import "time"

// PointRecord is a single time-series sample produced by a collector.
// It is immutable once created; ownership passes to the delivery queue
// and then to the writer.
type PointRecord struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Timestamp   time.Time
}

// Batch is one collection cycle's worth of points for a single
// source and metric family. Batches move through the delivery queue
// as a unit so a cycle is enqueued all-or-nothing.
type Batch []PointRecord

// Window is a half-open [Start, End) time range plus the resolution
// used for one fetch against a source.
type Window struct {
	Start      time.Time
	End        time.Time
	Resolution time.Duration
}

// Span returns the covered duration of the window.
func (w Window) Span() time.Duration {
	return w.End.Sub(w.Start)
}

// Samples returns the number of samples a fetch over this window
// yields at the window's resolution.
func (w Window) Samples() int {
	if w.Resolution <= 0 {
		return 0
	}
	return int(w.Span() / w.Resolution)
}

// Row is one vendor response item, as a generic nested document.
// Family conversion functions know the layout for their endpoint.
type Row map[string]any
