// Package sqlite implements the healer storage interface on SQLite.
//
// The database file is shared between the daemon and its worker
// processes: WAL mode plus a busy timeout keep the workers' single-row
// terminal-status updates safe against the daemon's transactions.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/types"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is the SQLite-backed storage implementation.
type Store struct {
	db   *sql.DB
	path string
}

var _ storage.Store = (*Store)(nil)

// ConnString builds the DSN for a healer database file. Transactions use
// BEGIN IMMEDIATE so concurrent writers serialize up front instead of
// deadlocking on lock upgrade.
func ConnString(path string) string {
	return "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(wal)" +
		"&_pragma=foreign_keys(on)"
}

// New opens (creating if necessary) the database at path and ensures the
// schema exists.
func New(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", ConnString(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Reset drops and recreates every table. THIS IS DESTRUCTIVE; it backs the
// one-shot bootstrap command and nothing else.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, dropSchema); err != nil {
		return fmt.Errorf("dropping schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("recreating schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// UnderlyingDB returns the raw *sql.DB. Tests use it to inspect rows the
// storage API does not expose.
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// isUniqueConstraintError checks if err is a UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// now returns the timestamp written into created_at/last_updated columns.
// Second precision keeps round-trips through SQLite stable.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// storeTx implements storage.Tx on a live *sql.Tx.
type storeTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*storeTx)(nil)

func (t *storeTx) CreateSession(ctx context.Context, sess *types.Session) error {
	return insertSession(ctx, t.tx, sess)
}

func (t *storeTx) SetSessionStatus(ctx context.Context, id int64, status types.SessionStatus, workerPID *int) error {
	return setSessionStatus(ctx, t.tx, id, status, workerPID)
}

// RunInTransaction executes fn inside a single database transaction.
// A returned error or panic rolls the transaction back; nil commits.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&storeTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// execer lets the session helpers run against either *sql.DB or *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
