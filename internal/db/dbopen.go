// Package db is C7's persistence layer: an embedded SQLite database with
// write-ahead logging and foreign keys enforced, safe for multi-reader,
// single-writer access via a serializing write mutex. Its pragma
// sequence and Open shape follow the dbopen idiom from the wider
// example corpus (foreign_keys/journal_mode/busy_timeout/synchronous
// applied by EXEC right after sql.Open, with an explicit Ping to
// surface connection failures immediately rather than on first query).
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS  = 10_000
	synchronousOff = "NORMAL"
)

// DB wraps a database/sql handle plus the write mutex that serializes
// writers, per spec.md §4.7.
type DB struct {
	sql   *sql.DB
	wmu   sync.Mutex
}

// Open opens (and migrates) the SQLite database at path. Passing
// ":memory:" opens an in-memory database for tests.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("db: mkdir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: apply schema: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	return &DB{sql: sqlDB}, nil
}

func applyPragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		fmt.Sprintf("PRAGMA synchronous = %s", synchronousOff),
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("db: %s: %w", p, err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.sql.Close()
}
