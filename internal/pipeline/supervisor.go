// Package pipeline ties the collectors, the queue and the writer into
// one supervised lifecycle with a graceful drain on shutdown.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arraybeat/arraybeat/internal/collect"
	"github.com/arraybeat/arraybeat/internal/deliver"
	"github.com/arraybeat/arraybeat/internal/queue"
)

// DefaultShutdownTimeout bounds the post-cancel drain.
const DefaultShutdownTimeout = 10 * time.Second

// Config wires the supervisor.
type Config struct {
	Collectors []*collect.Collector
	Writer     *deliver.Writer
	Queue      *queue.Queue

	// ShutdownTimeout bounds how long the writer may keep draining
	// after the collectors have stopped.
	ShutdownTimeout time.Duration

	Log *zap.Logger
}

// Supervisor runs all collectors and the writer. A collector that
// fails fatally is recorded and the rest keep running; a terminal
// writer error takes the whole pipeline down. On cancellation the
// collectors stop first, the queue closes, and the writer drains what
// remains within the shutdown timeout.
type Supervisor struct {
	cfg Config
	log *zap.Logger
}

// New creates a supervisor.
func New(cfg Config) *Supervisor {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, log: cfg.Log.Named("pipeline")}
}

// Run blocks until ctx is cancelled, every collector has returned, or
// the writer hits its terminal condition. The returned error joins any
// fatal collector errors with the writer's; nil means a clean run.
func (s *Supervisor) Run(ctx context.Context) error {
	// Collectors and writer get independent lifetimes: the collectors
	// stop on the first cancel, the writer only after the drain.
	cctx, stopCollectors := context.WithCancel(context.Background())
	defer stopCollectors()
	wctx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- s.cfg.Writer.Run(wctx)
	}()

	// A plain group, not WithContext: one collector's fatal error must
	// not cancel its siblings.
	var cg errgroup.Group
	for _, c := range s.cfg.Collectors {
		cg.Go(func() error { return c.Run(cctx) })
	}
	collectorsDone := make(chan error, 1)
	go func() {
		collectorsDone <- cg.Wait()
	}()

	var collectErr, writeErr error
	select {
	case <-ctx.Done():
		s.log.Info("shutdown requested, stopping collectors")
		stopCollectors()
		collectErr = <-collectorsDone

	case collectErr = <-collectorsDone:
		// Every collector has returned on its own; nothing more will be
		// produced, so drain and exit.
		s.log.Warn("all collectors have stopped")

	case writeErr = <-writerDone:
		s.log.Error("writer terminated, stopping pipeline", zap.Error(writeErr))
		stopCollectors()
		collectErr = <-collectorsDone
		s.cfg.Queue.Close()
		return errors.Join(collectErr, writeErr)
	}

	// Closing the queue lets the writer see end-of-input and drain the
	// buffered batches plus any parked retries.
	s.cfg.Queue.Close()

	drain := time.NewTimer(s.cfg.ShutdownTimeout)
	defer drain.Stop()
	select {
	case writeErr = <-writerDone:
	case <-drain.C:
		s.log.Warn("drain deadline reached, abandoning undelivered batches",
			zap.Duration("timeout", s.cfg.ShutdownTimeout))
		stopWriter()
		writeErr = <-writerDone
	}

	return errors.Join(collectErr, writeErr)
}
