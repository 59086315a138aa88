// Package duckstore is the local DuckDB sink: an embedded analytical
// store for environments without an InfluxDB. Unlike InfluxDB, the
// points table is append-only — a duplicate window resent after a
// crash shows up twice and must be deduplicated at query time.
package duckstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// Store manages the DuckDB database connection.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex
	dbPath       string
	queryTimeout time.Duration
}

// Open opens or creates the points database. An empty path uses an
// in-memory database, which tests rely on.
func Open(dbPath string) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		queryTimeout: 30 * time.Second,
	}, nil
}

// Ping verifies the database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PointCount returns the number of stored points.
func (s *Store) PointCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM points").Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
