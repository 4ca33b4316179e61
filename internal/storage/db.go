// Package storage owns the canonical SQLite database for chunkd.
//
// The chunk, url, and project tables in this database are the source of truth;
// the ANN index is a derived artifact rebuilt from the chunk table. The pure-Go
// modernc.org/sqlite driver is used so no CGO is required.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrClosed is returned when using a closed database.
var ErrClosed = errors.New("database is closed")

// DB wraps the SQLite connection pool.
type DB struct {
	sql    *sql.DB
	logger *zap.Logger
	closed atomic.Bool
}

// Open opens (creating if necessary) the chunkd database at path and runs
// schema migration. Paths starting with "~" are expanded to the home directory.
func Open(ctx context.Context, path string, logger *zap.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	expanded, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	// WAL keeps readers unblocked during writes; busy_timeout waits for locks
	// instead of failing immediately. modernc.org/sqlite takes pragmas as
	// _pragma=name(value) pairs, applied to every pooled connection; the
	// mattn-style _journal_mode=... form is silently ignored by this driver.
	dsn := fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		expanded)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reading journal mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		_ = db.Close()
		return nil, fmt.Errorf("journal mode is %q, want wal", journalMode)
	}

	d := &DB{sql: db, logger: logger}
	if err := d.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Info("database opened", zap.String("path", expanded))
	return d, nil
}

// SQL returns the underlying database handle.
func (d *DB) SQL() *sql.DB {
	return d.sql
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic. The transaction inherits cancellation from ctx: a cancelled
// context rolls back, so a batch is either fully applied or not at all.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if d.closed.Load() {
		return ErrClosed
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Close closes the database. Safe to call concurrently with in-flight
// requests; later calls are no-ops.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.logger.Info("database closed")
	return d.sql.Close()
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
