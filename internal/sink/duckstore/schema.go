package duckstore

import (
	"database/sql"
	"fmt"
)

// schemaSteps is the ordered history of the points schema. Every step
// applied to a database is recorded in schema_migrations, so reopening
// an existing file only runs the steps it has not seen.
var schemaSteps = []struct {
	version int
	name    string
	ddl     string
}{
	{1, "points", `
		CREATE TABLE IF NOT EXISTS points (
		    timestamp   TIMESTAMP NOT NULL,
		    measurement VARCHAR NOT NULL,
		    tags        JSON NOT NULL,
		    fields      JSON NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_points_measurement_time
		    ON points (measurement, timestamp);
	`},
}

// migrateSchema brings the points schema up to the latest version.
func migrateSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var applied sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&applied); err != nil {
		return fmt.Errorf("reading points schema version: %w", err)
	}

	for _, step := range schemaSteps {
		if applied.Valid && step.version <= int(applied.Int64) {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("points schema step %d (%s): %w", step.version, step.name, err)
		}
		if _, err := tx.Exec(step.ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("points schema step %d (%s): %w", step.version, step.name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", step.version, step.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording points schema step %d: %w", step.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("points schema step %d (%s): %w", step.version, step.name, err)
		}
	}

	return nil
}
