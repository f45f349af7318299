package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Archive layout versions, kept in PRAGMA user_version:
//
//	1: markers(instance_id, outcome) index for Summary
//	2: instances(scenario, seq) index; one archive holds many runs of a scenario
const currentSchemaVersion = 2

// Store archives bridge runs: instances, retired markers, teardown reports
// and vector snapshots.
//
// A Store is also the archive's Sequencer: Next continues from the highest
// seq already on disk, so runs appended to an existing archive never reuse
// a position.
type Store struct {
	db  *sql.DB
	seq atomic.Int64
}

// Open opens the archive at path, creating it if needed, and brings its
// layout up to date. Reopening an archive leaves its contents untouched.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database %s: %w", path, err)
	}

	// The recorder writes from the consumer goroutine while trace readers
	// share the handle; sqlite serialises writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db}
	last, err := s.lastSeq(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	s.seq.Store(last)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Next returns the next archive-wide seq.
func (s *Store) Next() int64 {
	return s.seq.Add(1)
}

// lastSeq is the highest seq recorded in any table.
func (s *Store) lastSeq(ctx context.Context) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(seq), 0) FROM instances),
			(SELECT COALESCE(MAX(seq), 0) FROM markers),
			(SELECT COALESCE(MAX(seq), 0) FROM teardowns),
			(SELECT COALESCE(MAX(seq), 0) FROM vectors)
		)
	`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return last, nil
}

// Archives are small and rewritten rarely, so NORMAL sync under WAL is
// enough; the busy timeout covers a trace reading while a run writes.
func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations walks user_version forward one step at a time.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	steps := []func(*sql.DB) error{migrateToV1, migrateToV2}
	for v := version; v < len(steps); v++ {
		if err := steps[v](db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_markers_outcome
		ON markers(instance_id, outcome)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_instances_scenario
		ON instances(scenario, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// verifyPragma reports a mismatch between a pragma and want.
func (s *Store) verifyPragma(name, want string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != want {
		return fmt.Errorf("%s = %q, expected %q", name, value, want)
	}
	return nil
}
