// Package store persists answer keys and evaluation results. It runs on
// embedded SQLite by default and on Postgres when pointed at one.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Store struct {
	db     *sql.DB
	driver Driver
}

// Open opens the database and ensures the schema exists. An empty DSN
// gets a sensible default per driver.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "file:gradescan.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/gradescan?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres. Queries here are
// written in SQLite style.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) migrate(ctx context.Context) error {
	var schema string
	switch s.driver {
	case DriverPostgres:
		schema = schemaPostgres
	default:
		schema = schemaSQLite
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS answer_keys (
  id TEXT PRIMARY KEY,
  source_file TEXT NOT NULL,
  total_questions INTEGER NOT NULL,
  negative_marking REAL NOT NULL DEFAULT 0,
  key_json TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  key_id TEXT NOT NULL REFERENCES answer_keys(id),
  file_name TEXT NOT NULL,
  entry_number TEXT NOT NULL DEFAULT '',
  student_name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  provider TEXT NOT NULL DEFAULT '',
  total_score REAL NOT NULL DEFAULT 0,
  max_score REAL NOT NULL DEFAULT 0,
  outcome_json TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_job ON results(job_id);
CREATE INDEX IF NOT EXISTS idx_results_entry ON results(entry_number);

CREATE TABLE IF NOT EXISTS processed_files (
  content_hash TEXT PRIMARY KEY,
  file_name TEXT NOT NULL,
  job_id TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS answer_keys (
  id TEXT PRIMARY KEY,
  source_file TEXT NOT NULL,
  total_questions INTEGER NOT NULL,
  negative_marking DOUBLE PRECISION NOT NULL DEFAULT 0,
  key_json TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  key_id TEXT NOT NULL REFERENCES answer_keys(id),
  file_name TEXT NOT NULL,
  entry_number TEXT NOT NULL DEFAULT '',
  student_name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  provider TEXT NOT NULL DEFAULT '',
  total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  max_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  outcome_json TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_job ON results(job_id);
CREATE INDEX IF NOT EXISTS idx_results_entry ON results(entry_number);

CREATE TABLE IF NOT EXISTS processed_files (
  content_hash TEXT PRIMARY KEY,
  file_name TEXT NOT NULL,
  job_id TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
