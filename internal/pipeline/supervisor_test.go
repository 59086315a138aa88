package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arraybeat/arraybeat/internal/collect"
	"github.com/arraybeat/arraybeat/internal/deliver"
	"github.com/arraybeat/arraybeat/internal/model"
	"github.com/arraybeat/arraybeat/internal/queue"
)

// fakeSource serves one row per fetch, or a fixed error.
type fakeSource struct {
	mu      sync.Mutex
	err     error
	fetches int
}

func (f *fakeSource) Fetch(ctx context.Context, family string, w model.Window) ([]model.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return []model.Row{{
		"id":   "v1",
		"name": "vol1",
		"time": w.Start.UnixMilli(),
		"r":    1.0,
	}}, nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// fakeSink records the points it receives.
type fakeSink struct {
	mu     sync.Mutex
	err    error
	points int
	writes int
}

func (f *fakeSink) Write(ctx context.Context, batch model.Batch, opts model.WriteOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.err != nil {
		return f.err
	}
	f.points += len(batch)
	return nil
}

func (f *fakeSink) Ping(ctx context.Context) error { return nil }
func (f *fakeSink) Close() error                   { return nil }

func (f *fakeSink) pointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.points
}

func newCollector(t *testing.T, source string, client model.SourceClient, q *queue.Queue, reg *Registry) *collect.Collector {
	t.Helper()
	return collect.New(collect.Config{
		Source: collect.Source{
			ID:              source,
			MetricsInterval: 20 * time.Millisecond,
			SpaceInterval:   20 * time.Millisecond,
		},
		Family:      collect.Families["volumes_performance"],
		SampleLimit: 1000,
		Client:      client,
		Queue:       q,
		PushTimeout: 50 * time.Millisecond,
		Report:      reg.CollectorReport(),
	})
}

func newSupervisor(t *testing.T, sink model.SinkClient, q *queue.Queue, reg *Registry, collectors ...*collect.Collector) *Supervisor {
	t.Helper()
	w := deliver.New(deliver.Config{
		Sink:                   sink,
		Queue:                  q,
		BatchSize:              100,
		FlushInterval:          10 * time.Millisecond,
		Retry:                  deliver.Policy{Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond, MaxRetries: 1},
		MaxConsecutiveFailures: 2,
		Report:                 reg.WriterReport(),
	})
	return New(Config{
		Collectors:      collectors,
		Writer:          w,
		Queue:           q,
		ShutdownTimeout: time.Second,
	})
}

func TestSupervisor_DeliversEndToEnd(t *testing.T) {
	q := queue.New(16)
	reg := NewRegistry(q.Len)
	sink := &fakeSink{}
	src := &fakeSource{}
	sup := newSupervisor(t, sink, q, reg, newCollector(t, "fa-1", src, q, reg))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sink.pointCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	st := reg.Snapshot()
	require.Len(t, st.Collectors, 1)
	require.Equal(t, "fa-1", st.Collectors[0].Source)
	require.Greater(t, st.Writer.PointsWritten, int64(0))
}

func TestSupervisor_FatalSourceDoesNotStopOthers(t *testing.T) {
	q := queue.New(16)
	reg := NewRegistry(q.Len)
	sink := &fakeSink{}
	bad := &fakeSource{err: model.ErrSourceAuth}
	good := &fakeSource{}
	sup := newSupervisor(t, sink, q, reg,
		newCollector(t, "fa-bad", bad, q, reg),
		newCollector(t, "fa-good", good, q, reg))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// The bad source fails on its first cycle; the good one must keep
	// collecting well past that.
	require.Eventually(t, func() bool {
		return bad.fetchCount() >= 1 && good.fetchCount() >= 3 && sink.pointCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	err := <-done
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrSourceAuth)
}

func TestSupervisor_DrainsQueueOnShutdown(t *testing.T) {
	q := queue.New(16)
	reg := NewRegistry(q.Len)
	sink := &fakeSink{}
	src := &fakeSource{}
	sup := newSupervisor(t, sink, q, reg, newCollector(t, "fa-1", src, q, reg))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return src.fetchCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Zero(t, q.Len())
}

func TestSupervisor_WriterTerminalStopsPipeline(t *testing.T) {
	q := queue.New(16)
	reg := NewRegistry(q.Len)
	sink := &fakeSink{err: model.ErrSinkTransient}
	src := &fakeSource{}
	sup := newSupervisor(t, sink, q, reg, newCollector(t, "fa-1", src, q, reg))

	// No cancellation: the run must end on its own once the sink has
	// exhausted enough consecutive batches.
	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		require.Error(t, err)
		require.ErrorIs(t, err, model.ErrSinkTransient)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not terminate on sink unavailability")
	}
}

func TestRegistry_SnapshotSorted(t *testing.T) {
	reg := NewRegistry(nil)
	report := reg.CollectorReport()
	report(model.CollectorStats{Source: "b", Family: "volumes_space"})
	report(model.CollectorStats{Source: "a", Family: "volumes_space"})
	report(model.CollectorStats{Source: "a", Family: "arrays_space"})

	st := reg.Snapshot()
	require.Len(t, st.Collectors, 3)
	require.Equal(t, "a", st.Collectors[0].Source)
	require.Equal(t, "arrays_space", st.Collectors[0].Family)
	require.Equal(t, "a", st.Collectors[1].Source)
	require.Equal(t, "volumes_space", st.Collectors[1].Family)
	require.Equal(t, "b", st.Collectors[2].Source)
}
