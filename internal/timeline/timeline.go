// Package timeline is MeowDiff's relational index of records, ordered by
// project and time, with prev-pointer chains and a latest-snapshot table.
// It owns the single writer connection described in spec.md §4.2/§5; all
// commits go through Index.WithWriteTx.
package timeline

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/anthropic/meowdiff/internal/meowdiff"
)

// Index wraps the timeline SQLite database: one write connection behind
// a mutex, reads served from the same *sql.DB (WAL allows concurrent
// readers while the single writer holds its transaction).
type Index struct {
	db      *sql.DB
	dbPath  string
	writeMu sync.Mutex
}

// Open opens (or creates) the timeline database at dbPath, verifies WAL
// mode, runs PRAGMA integrity_check, and applies pending migrations.
func Open(dbPath string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("timeline: open: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("timeline: check journal mode: %w", err)
	}
	if journalMode != "wal" {
		_ = db.Close()
		return nil, fmt.Errorf("timeline: expected WAL journal mode, got %q", journalMode)
	}

	var integrityResult string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", meowdiff.ErrIntegrityCheckFailed, err)
	}
	if integrityResult != "ok" {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s", meowdiff.ErrIntegrityCheckFailed, integrityResult)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("timeline: run migrations: %w", err)
	}

	// The writer is single-connection by policy (guarded by writeMu); cap
	// the pool so sqlite's own locking cannot be bypassed by a careless
	// concurrent read racing a write at the driver level.
	db.SetMaxOpenConns(4)

	return &Index{db: db, dbPath: dbPath}, nil
}

// Close closes the underlying database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// DBSizeBytes returns the on-disk size of the timeline database file, for
// the IPC status command.
func (idx *Index) DBSizeBytes() (int64, error) {
	info, err := os.Stat(idx.dbPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// DB returns the underlying *sql.DB for read-only queries in the
// Query/Restore API. Writers must go through WithWriteTx.
func (idx *Index) DB() *sql.DB {
	return idx.db
}

// WithWriteTx runs fn inside a single serialized write transaction,
// retrying once on a transient lock-contention error per spec.md §4.2.
// A second failure is surfaced wrapped in ErrStorageError.
func (idx *Index) WithWriteTx(fn func(tx *sql.Tx) error) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = idx.runTx(fn)
		if lastErr == nil {
			return nil
		}
		if !isTransientLockErr(lastErr) {
			break
		}
	}
	return fmt.Errorf("%w: %v", meowdiff.ErrStorageError, lastErr)
}

func (idx *Index) runTx(fn func(tx *sql.Tx) error) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isTransientLockErr reports whether err looks like SQLite's busy/locked
// error so the single retry in WithWriteTx is only spent on contention,
// not on genuine constraint or logic failures.
func isTransientLockErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{"database is locked", "SQLITE_BUSY", "busy"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
