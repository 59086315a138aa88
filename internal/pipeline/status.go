package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
)

// Status is the full pipeline snapshot served by the HTTP API.
type Status struct {
	StartedAt  time.Time              `json:"started_at"`
	Uptime     string                 `json:"uptime"`
	QueueDepth int                    `json:"queue_depth"`
	Collectors []model.CollectorStats `json:"collectors"`
	Writer     model.WriterStats      `json:"writer"`
}

// Registry collects progress snapshots from the collectors and the
// writer. Each goroutine publishes through its own Report callback;
// readers get a consistent copy under the lock.
type Registry struct {
	mu         sync.Mutex
	startedAt  time.Time
	collectors map[string]model.CollectorStats
	writer     model.WriterStats
	queueDepth func() int
}

// NewRegistry creates a registry. queueDepth may be nil.
func NewRegistry(queueDepth func() int) *Registry {
	return &Registry{
		startedAt:  time.Now(),
		collectors: make(map[string]model.CollectorStats),
		queueDepth: queueDepth,
	}
}

// CollectorReport returns the Report callback for one collector.
func (r *Registry) CollectorReport() func(model.CollectorStats) {
	return func(s model.CollectorStats) {
		r.mu.Lock()
		r.collectors[s.Source+"/"+s.Family] = s
		r.mu.Unlock()
	}
}

// WriterReport returns the Report callback for the writer.
func (r *Registry) WriterReport() func(model.WriterStats) {
	return func(s model.WriterStats) {
		r.mu.Lock()
		r.writer = s
		r.mu.Unlock()
	}
}

// Snapshot returns the current pipeline status, collectors sorted by
// source then family for stable API output.
func (r *Registry) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	collectors := make([]model.CollectorStats, 0, len(r.collectors))
	for _, s := range r.collectors {
		collectors = append(collectors, s)
	}
	sort.Slice(collectors, func(i, j int) bool {
		if collectors[i].Source != collectors[j].Source {
			return collectors[i].Source < collectors[j].Source
		}
		return collectors[i].Family < collectors[j].Family
	})

	st := Status{
		StartedAt:  r.startedAt,
		Uptime:     time.Since(r.startedAt).Round(time.Second).String(),
		Collectors: collectors,
		Writer:     r.writer,
	}
	if r.queueDepth != nil {
		st.QueueDepth = r.queueDepth()
	}
	return st
}
