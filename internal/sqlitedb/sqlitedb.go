// Package sqlitedb opens SQLite databases (modernc.org/sqlite, pure Go) and
// applies versioned, idempotent schema migrations. The session journal and
// the retrieval corpus both build on it.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// DefaultBusyTimeout is the milliseconds to wait on a busy lock.
const DefaultBusyTimeout = 5000

// Options configures Open.
type Options struct {
	// WAL enables WAL journal mode for concurrent readers. Nil means true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Zero means
	// DefaultBusyTimeout.
	BusyTimeout int `yaml:"busy_timeout"`
}

// WALEnabled reports whether WAL mode is requested.
func (o Options) WALEnabled() bool {
	return o.WAL == nil || *o.WAL
}

// Validate reports invalid options.
func (o Options) Validate() error {
	if o.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must be non-negative, got %d", o.BusyTimeout)
	}
	return nil
}

// Open opens (creating if needed) the database at path. The pool is limited
// to one connection: SQLite serializes writers and the PRAGMAs apply per
// connection.
func Open(ctx context.Context, path string, opts Options) (*sql.DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	busy := opts.BusyTimeout
	if busy == 0 {
		busy = DefaultBusyTimeout
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy),
		"PRAGMA foreign_keys=ON",
	}
	if opts.WALEnabled() {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return db, nil
}

// Migration is one schema version: its statements run in order inside a
// single transaction.
type Migration struct {
	Version    int
	Statements []string
}

// Migrate brings component's schema up to the latest migration. Versions
// are tracked per component in a shared schema_version table, so several
// components can live in one file.
func Migrate(ctx context.Context, db *sql.DB, component string, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		component TEXT    NOT NULL,
		version   INTEGER NOT NULL,
		PRIMARY KEY (component, version)
	)`); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version WHERE component = ?", component,
	).Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read %s schema version: %w", component, err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(ctx, db, component, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, component string, m Migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin migration: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate %s to v%d: %w\nstatement: %s", component, m.Version, err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (component, version) VALUES (?, ?)", component, m.Version,
	); err != nil {
		return fmt.Errorf("sqlite: record %s schema version: %w", component, err)
	}
	return tx.Commit()
}

// Version returns the applied schema version of component, zero if none.
func Version(ctx context.Context, db *sql.DB, component string) (int, error) {
	var v int
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version WHERE component = ?", component,
	).Scan(&v)
	return v, err
}
