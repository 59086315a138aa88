package duckstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arraybeat/arraybeat/internal/model"
)

// Write appends a batch of points in a single transaction. If the
// batch fails as a whole it is retried record-by-record to salvage as
// much as possible; only a batch with nothing salvageable is rejected.
func (s *Store) Write(ctx context.Context, batch model.Batch, opts model.WriteOptions) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertTx(ctx, batch, opts.MeasurementPrefix)
	if err == nil {
		return nil
	}

	var failed int
	for _, p := range batch {
		if rerr := s.insertTx(ctx, model.Batch{p}, opts.MeasurementPrefix); rerr != nil {
			failed++
		}
	}
	if failed == len(batch) {
		return fmt.Errorf("%w: no point in the batch was insertable: %v", model.ErrSinkRejected, err)
	}
	return nil
}

func (s *Store) insertTx(ctx context.Context, batch model.Batch, prefix string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", model.ErrSinkTransient, err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO points (timestamp, measurement, tags, fields) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", model.ErrSinkTransient, err)
	}
	defer stmt.Close()

	for _, p := range batch {
		tagsJSON, err := json.Marshal(p.Tags)
		if err != nil {
			return fmt.Errorf("%w: marshaling tags: %v", model.ErrSinkRejected, err)
		}
		fieldsJSON, err := json.Marshal(p.Fields)
		if err != nil {
			return fmt.Errorf("%w: marshaling fields: %v", model.ErrSinkRejected, err)
		}
		if _, err := stmt.ExecContext(ctx,
			p.Timestamp, prefix+p.Measurement, string(tagsJSON), string(fieldsJSON),
		); err != nil {
			return fmt.Errorf("point insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", model.ErrSinkTransient, err)
	}
	committed = true
	return nil
}
