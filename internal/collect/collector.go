// Package collect runs one collection loop per source and metric
// family. Each loop owns its cursor outright; no other goroutine ever
// reads or writes it, so scheduling needs no shared state.
package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arraybeat/arraybeat/internal/model"
	"github.com/arraybeat/arraybeat/internal/queue"
	"github.com/arraybeat/arraybeat/internal/resolution"
)

// Collector states reported to the status registry.
const (
	StateWaiting  = "waiting"
	StateFetching = "fetching"
	StateStopped  = "stopped"
	StateFailed   = "failed"
)

// Source is the scheduling identity of one configured array.
type Source struct {
	ID              string
	MetricsInterval time.Duration
	SpaceInterval   time.Duration
}

// Config wires one collector.
type Config struct {
	Source      Source
	Family      Family
	Preferred   time.Duration // configured resolution; 0 = family default
	SampleLimit int
	Client      model.SourceClient
	Queue       *queue.Queue
	PushTimeout time.Duration

	// InitialStart seeds the cursor for backfill after downtime.
	// Zero means one interval before the first cycle.
	InitialStart time.Time

	// Report publishes progress snapshots; may be nil.
	Report func(model.CollectorStats)

	Log *zap.Logger
}

// Collector repeatedly fetches one metric family from one source,
// converts the rows to points and hands them to the delivery queue.
// The cursor only advances after a window's batch is enqueued, so a
// recoverable failure re-fetches the same window on the next cycle and
// no range is ever skipped.
type Collector struct {
	cfg      Config
	interval time.Duration
	log      *zap.Logger

	cursor      time.Time
	retryWait   bool
	cycles      int64
	points      int64
	lastSuccess time.Time
	lastErr     string
}

// New creates a collector. The preferred resolution must belong to the
// family catalog; that is checked during config validation, before any
// collector is built.
func New(cfg Config) *Collector {
	interval := cfg.Source.MetricsInterval
	if cfg.Family.Tier == TierSpace {
		interval = cfg.Source.SpaceInterval
	}
	if cfg.Preferred == 0 {
		cfg.Preferred = cfg.Family.DefaultResolution()
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	log := cfg.Log.With(
		zap.String("source", cfg.Source.ID),
		zap.String("measurement", cfg.Family.Measurement),
	)
	return &Collector{cfg: cfg, interval: interval, log: log}
}

// Cursor returns the end of the last successfully enqueued window.
func (c *Collector) Cursor() time.Time {
	return c.cursor
}

// Run executes the collection loop until ctx is cancelled. It returns
// nil on clean shutdown and a fatal error when the source rejects
// authentication or request validation — the caller keeps the other
// collectors running either way.
func (c *Collector) Run(ctx context.Context) error {
	if c.cursor.IsZero() {
		if !c.cfg.InitialStart.IsZero() {
			c.cursor = c.cfg.InitialStart
			c.log.Info("seeded cursor for backfill", zap.Time("start", c.cursor))
		} else {
			c.cursor = time.Now().Add(-c.interval)
		}
	}

	for {
		if err := c.wait(ctx); err != nil {
			c.publish(StateStopped)
			return nil
		}

		c.publish(StateFetching)
		if err := c.cycle(ctx); err != nil {
			if model.IsFatalSource(err) {
				c.lastErr = err.Error()
				c.publish(StateFailed)
				c.log.Error("source failed fatally, stopping this collector", zap.Error(err))
				return fmt.Errorf("collector %s/%s: %w", c.cfg.Source.ID, c.cfg.Family.Measurement, err)
			}
			if ctx.Err() != nil {
				c.publish(StateStopped)
				return nil
			}
			// Recoverable: cursor untouched, same window next cycle.
			c.retryWait = true
			c.lastErr = err.Error()
			c.log.Warn("collection cycle failed, will retry next cycle", zap.Error(err))
		}
		c.cycles++
		c.publish(StateWaiting)
	}
}

// wait sleeps until one interval past the cursor (or past now-interval
// when the cursor is far behind, as during backfill, so catch-up
// cycles run back to back). A failed cycle always waits out a full
// interval first, even mid-backfill, so an unreachable array is polled
// at the configured rate instead of in a tight loop. Wakes immediately
// on cancellation.
func (c *Collector) wait(ctx context.Context) error {
	var d time.Duration
	if c.retryWait {
		c.retryWait = false
		d = c.interval
	} else {
		base := c.cursor
		now := time.Now()
		if now.Sub(base) > c.interval {
			base = now.Add(-c.interval)
		}
		d = time.Until(base.Add(c.interval))
	}
	if d <= 0 {
		// Still behind; only yield to cancellation.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cycle fetches all windows between the cursor and now. The cursor
// advances window by window, strictly in order, and only after the
// window's batch is enqueued.
func (c *Collector) cycle(ctx context.Context) error {
	now := time.Now()
	if !now.After(c.cursor) {
		return nil
	}

	windows, err := c.windows(now)
	if err != nil {
		return err
	}

	for _, w := range windows {
		rows, err := c.cfg.Client.Fetch(ctx, c.cfg.Family.Measurement, w)
		if err != nil {
			return fmt.Errorf("fetching window [%s, %s): %w",
				w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), err)
		}

		batch, dropped := c.cfg.Family.Convert(c.cfg.Source.ID, rows, now)
		for _, dropErr := range dropped {
			c.log.Warn("dropping malformed row", zap.Error(dropErr))
		}
		batch = c.stamp(batch)

		if err := c.pushBatch(ctx, batch, w); err != nil {
			return err
		}
		c.cursor = w.End
		c.points += int64(len(batch))
		c.lastSuccess = time.Now()
		c.lastErr = ""
	}
	return nil
}

func (c *Collector) windows(now time.Time) ([]model.Window, error) {
	if c.cfg.Family.Snapshot() {
		return []model.Window{{Start: c.cursor, End: now}}, nil
	}
	return resolution.Plan(c.cursor, now, now, c.cfg.Family.Catalog, c.cfg.Preferred, c.cfg.SampleLimit)
}

// pushBatch enqueues a full cycle's batch atomically. A saturated
// queue blocks up to the push timeout; timing out abandons the cycle
// with the cursor un-advanced so the window is retried next tick.
func (c *Collector) pushBatch(ctx context.Context, batch model.Batch, w model.Window) error {
	if len(batch) == 0 {
		return nil
	}
	err := c.cfg.Queue.Push(ctx, batch, c.cfg.PushTimeout)
	if errors.Is(err, queue.ErrFull) {
		c.log.Warn("delivery queue saturated, abandoning cycle",
			zap.Int("points", len(batch)),
			zap.Time("window_end", w.End))
		return fmt.Errorf("enqueue window ending %s: %w", w.End.Format(time.RFC3339), err)
	}
	return err
}

// stamp fills in the measurement name on the converted points.
func (c *Collector) stamp(batch model.Batch) model.Batch {
	for i := range batch {
		batch[i].Measurement = c.cfg.Family.Measurement
	}
	return batch
}

func (c *Collector) publish(state string) {
	if c.cfg.Report == nil {
		return
	}
	c.cfg.Report(model.CollectorStats{
		Source:      c.cfg.Source.ID,
		Family:      c.cfg.Family.Measurement,
		State:       state,
		CursorEnd:   c.cursor,
		Cycles:      c.cycles,
		Points:      c.points,
		LastSuccess: c.lastSuccess,
		LastError:   c.lastErr,
	})
}
