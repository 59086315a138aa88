package collect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
	"github.com/arraybeat/arraybeat/internal/queue"
	"github.com/stretchr/testify/require"
)

// fakeSource serves scripted responses per fetch call.
type fakeSource struct {
	mu      sync.Mutex
	calls   []model.Window
	rows    []model.Row
	errs    []error // consumed one per call; nil entries mean success
	callIdx int
}

func (f *fakeSource) Fetch(_ context.Context, _ string, w model.Window) ([]model.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, w)
	var err error
	if f.callIdx < len(f.errs) {
		err = f.errs[f.callIdx]
	}
	f.callIdx++
	if err != nil {
		return nil, err
	}
	return f.rows, nil
}

func (f *fakeSource) windows() []model.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Window, len(f.calls))
	copy(out, f.calls)
	return out
}

func perfRows(ts time.Time) []model.Row {
	return []model.Row{
		{"id": "vol-1", "name": "db01", "time": float64(ts.UnixMilli()), "reads_per_sec": float64(120)},
		{"id": "vol-2", "name": "db02", "time": float64(ts.UnixMilli()), "reads_per_sec": float64(80)},
	}
}

func testCollector(t *testing.T, src model.SourceClient, q *queue.Queue, initial time.Time) *Collector {
	t.Helper()
	return New(Config{
		Source: Source{
			ID:              "array-a",
			MetricsInterval: 10 * time.Millisecond,
			SpaceInterval:   10 * time.Millisecond,
		},
		Family:       Families["volumes_performance"],
		SampleLimit:  1000,
		Client:       src,
		Queue:        q,
		PushTimeout:  50 * time.Millisecond,
		InitialStart: initial,
	})
}

func runUntil(t *testing.T, c *Collector, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			cancel()
			t.Fatal("condition not reached in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-done)
}

func TestCollector_AdvancesCursorAfterEnqueue(t *testing.T) {
	src := &fakeSource{rows: perfRows(time.Now())}
	q := queue.New(16)
	start := time.Now().Add(-time.Minute)
	c := testCollector(t, src, q, start)

	runUntil(t, c, func() bool { return len(src.windows()) >= 1 })

	windows := src.windows()
	require.True(t, windows[0].Start.Equal(start), "first window starts at the backfill seed")
	require.True(t, c.Cursor().After(start), "cursor advanced after enqueue")

	batch := <-q.C()
	require.Len(t, batch, 2)
	require.Equal(t, "volumes_performance", batch[0].Measurement)
	require.Equal(t, "array-a", batch[0].Tags["host"])
}

func TestCollector_TransientErrorKeepsCursorAndWindow(t *testing.T) {
	src := &fakeSource{
		rows: perfRows(time.Now()),
		errs: []error{model.ErrSourceTimeout, model.ErrSourceConnection, nil},
	}
	q := queue.New(16)
	start := time.Now().Add(-time.Minute)
	c := testCollector(t, src, q, start)

	runUntil(t, c, func() bool { return len(src.windows()) >= 3 })

	windows := src.windows()
	// Every failed attempt re-fetches from the same un-advanced start.
	require.True(t, windows[0].Start.Equal(start))
	require.True(t, windows[1].Start.Equal(start), "cursor advanced despite transient failure")
	require.True(t, windows[2].Start.Equal(start), "cursor advanced despite transient failure")
}

func TestCollector_FailedCyclesArePacedByInterval(t *testing.T) {
	// An unreachable array with the cursor far behind must be polled at
	// the configured interval, not refetched back to back.
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = model.ErrSourceConnection
	}
	src := &fakeSource{errs: errs}
	q := queue.New(16)
	c := testCollector(t, src, q, time.Now().Add(-10*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	// 200ms at a 10ms interval allows ~20 attempts; leave generous
	// slack for scheduling, but catch any tight loop outright.
	attempts := len(src.windows())
	require.GreaterOrEqual(t, attempts, 1)
	require.LessOrEqual(t, attempts, 40, "failed cycles retried without waiting out the interval")
}

func TestCollector_FatalSourceErrorStopsRun(t *testing.T) {
	src := &fakeSource{errs: []error{model.ErrSourceAuth}}
	q := queue.New(16)
	c := testCollector(t, src, q, time.Now().Add(-time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Run(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrSourceAuth)
}

func TestCollector_BackpressureAbandonsCycle(t *testing.T) {
	src := &fakeSource{rows: perfRows(time.Now())}
	q := queue.New(1)
	// Fill the queue so every push times out.
	require.NoError(t, q.Push(context.Background(), model.Batch{{Measurement: "x"}}, time.Millisecond))

	start := time.Now().Add(-time.Minute)
	c := testCollector(t, src, q, start)

	runUntil(t, c, func() bool { return len(src.windows()) >= 2 })

	// The cycle was abandoned, not silently dropped: the cursor stayed
	// put and the same window was refetched.
	windows := src.windows()
	require.True(t, windows[1].Start.Equal(start))
	require.True(t, c.Cursor().Equal(start))
}

func TestCollector_ReportsStats(t *testing.T) {
	src := &fakeSource{rows: perfRows(time.Now())}
	q := queue.New(16)

	var mu sync.Mutex
	var last model.CollectorStats
	c := New(Config{
		Source:       Source{ID: "array-a", MetricsInterval: 10 * time.Millisecond, SpaceInterval: 10 * time.Millisecond},
		Family:       Families["volumes_performance"],
		Client:       src,
		Queue:        q,
		PushTimeout:  50 * time.Millisecond,
		InitialStart: time.Now().Add(-time.Minute),
		Report: func(s model.CollectorStats) {
			mu.Lock()
			last = s
			mu.Unlock()
		},
	})

	runUntil(t, c, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Points >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "array-a", last.Source)
	require.Equal(t, "volumes_performance", last.Family)
}
