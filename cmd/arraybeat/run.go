package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arraybeat/arraybeat/internal/collect"
	"github.com/arraybeat/arraybeat/internal/config"
	"github.com/arraybeat/arraybeat/internal/deliver"
	"github.com/arraybeat/arraybeat/internal/httpapi"
	"github.com/arraybeat/arraybeat/internal/model"
	"github.com/arraybeat/arraybeat/internal/pipeline"
	"github.com/arraybeat/arraybeat/internal/queue"
	"github.com/arraybeat/arraybeat/internal/sink/duckstore"
	"github.com/arraybeat/arraybeat/internal/sink/influx"
	"github.com/arraybeat/arraybeat/internal/source/flasharray"
)

const pingTimeout = 15 * time.Second

// runDaemon wires the pipeline from the validated config and runs it
// until a signal arrives or it fails terminally.
func runDaemon(cfg config.Config, log *zap.Logger, initialStart time.Time) error {
	sink, opts, err := buildSink(cfg, log)
	if err != nil {
		return err
	}
	defer sink.Close()

	q := queue.New(cfg.Queue.Size)
	registry := pipeline.NewRegistry(q.Len)

	collectors, err := buildCollectors(cfg, q, registry, initialStart, log)
	if err != nil {
		return err
	}
	if len(collectors) == 0 {
		return fmt.Errorf("no collectors to run: every configured array is disabled")
	}

	writer := deliver.New(deliver.Config{
		Sink:          sink,
		Queue:         q,
		Options:       opts,
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		MaxPending:    cfg.Writer.MaxPending,
		Retry: deliver.Policy{
			Initial:    cfg.Writer.RetryInitial,
			Max:        cfg.Writer.RetryMax,
			MaxRetries: cfg.Writer.MaxRetries,
		},
		MaxConsecutiveFailures: cfg.Writer.MaxConsecutiveFailures,
		Report:                 registry.WriterReport(),
		Log:                    log,
	})

	if cfg.API.Enabled {
		apiServer := httpapi.NewServer(cfg.API.Addr, registry)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer apiServer.Stop()
		log.Info("status API listening", zap.String("addr", cfg.API.Addr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		log.Info("received signal, shutting down gracefully (send again to force)",
			zap.String("signal", sig.String()))
		cancel()

		// Shutdown deadline starts now - not at boot.
		deadline := time.NewTimer(pipeline.DefaultShutdownTimeout + 5*time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			log.Warn("force shutdown, undelivered data may be lost")
		case <-deadline.C:
			log.Warn("shutdown timed out, forcing exit")
		}
		os.Exit(1)
	}()

	log.Info("pipeline starting",
		zap.Int("collectors", len(collectors)),
		zap.String("sink", cfg.Sink))

	sup := pipeline.New(pipeline.Config{
		Collectors: collectors,
		Writer:     writer,
		Queue:      q,
		Log:        log,
	})
	return sup.Run(ctx)
}

// buildSink constructs the configured sink and verifies it is
// reachable before any collector starts.
func buildSink(cfg config.Config, log *zap.Logger) (model.SinkClient, model.WriteOptions, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	switch cfg.Sink {
	case "influxdb":
		client := influx.New(influx.Config{
			Host:     cfg.InfluxDB.Host,
			Port:     cfg.InfluxDB.Port,
			SSL:      cfg.InfluxDB.SSL,
			User:     cfg.InfluxDB.User,
			Password: cfg.InfluxDB.Password,
			Database: cfg.InfluxDB.Database,
		})
		if err := client.Ping(ctx); err != nil {
			return nil, model.WriteOptions{}, fmt.Errorf("could not connect to InfluxDB at %s: %w", cfg.InfluxDB.Host, err)
		}
		if v, err := client.Version(ctx); err == nil && v != "" {
			log.Info("connected to InfluxDB", zap.String("version", v))
		}
		return client, model.WriteOptions{
			RetentionPolicy:   cfg.InfluxDB.RetentionPolicy,
			MeasurementPrefix: cfg.MeasurementPrefix,
		}, nil

	case "duckdb":
		store, err := duckstore.Open(cfg.DuckDB.Path)
		if err != nil {
			return nil, model.WriteOptions{}, fmt.Errorf("opening DuckDB store: %w", err)
		}
		log.Info("opened DuckDB store", zap.String("path", cfg.DuckDB.Path))
		return store, model.WriteOptions{
			MeasurementPrefix: cfg.MeasurementPrefix,
		}, nil

	default:
		// Unreachable after validation.
		return nil, model.WriteOptions{}, model.Configf("sink", "unknown sink %q", cfg.Sink)
	}
}

// buildCollectors creates one collector per enabled array and allowed
// metric family.
func buildCollectors(cfg config.Config, q *queue.Queue, registry *pipeline.Registry, initialStart time.Time, log *zap.Logger) ([]*collect.Collector, error) {
	var collectors []*collect.Collector
	for _, a := range cfg.Arrays {
		if a.Disable {
			log.Warn("array disabled, skipping", zap.String("host", a.ID()))
			continue
		}

		client, err := flasharray.New(flasharray.Config{
			Host:               a.Host,
			User:               a.User,
			ClientID:           a.ClientID,
			KeyID:              a.KeyID,
			Issuer:             a.Issuer,
			PrivateKey:         a.PrivateKey,
			PrivateKeyFile:     a.PrivateKeyFile,
			PrivateKeyPassword: a.PrivateKeyPassword,
		})
		if err != nil {
			return nil, err
		}

		source := collect.Source{
			ID:              a.ID(),
			MetricsInterval: a.MetricsInterval,
			SpaceInterval:   a.SpaceInterval,
		}
		for _, name := range a.Collectors {
			collectors = append(collectors, collect.New(collect.Config{
				Source:       source,
				Family:       collect.Families[name],
				Preferred:    cfg.Resolution(name),
				SampleLimit:  cfg.SampleLimit,
				Client:       client,
				Queue:        q,
				PushTimeout:  cfg.Queue.PushTimeout,
				InitialStart: initialStart,
				Report:       registry.CollectorReport(),
				Log:          log,
			}))
		}
	}
	return collectors, nil
}
