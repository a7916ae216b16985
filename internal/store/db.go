package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the local mirror: the on-device SQLite database the UI reads from.
//
// Every write goes through Tx, which holds a process-wide mutex for the
// whole transaction so that multi-row writes from the realtime listener,
// the channel sync and the outbox dispatcher never interleave. Reads do
// not take the mutex and see the last committed state.
type DB struct {
	*sql.DB
	mu sync.Mutex
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}

// Tx is a write transaction handed to the function passed to DB.Tx.
type Tx struct {
	tx *sql.Tx
}

// Tx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise; partial writes are never visible.
func (db *DB) Tx(ctx context.Context, fn func(*Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ErrNotFound is returned by writes that target a row the mirror does not have.
var ErrNotFound = errors.New("not found")
