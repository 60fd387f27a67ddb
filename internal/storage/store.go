// Package storage is the SQLite persistence layer. All tables are
// club-scoped; every query filters by club_id so tenants never see each
// other's records.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Store struct {
	db      *sql.DB
	queries *Queries
}

// New opens (creating if necessary) the SQLite database at dbPath, runs
// the embedded migrations, and returns a ready store. WAL mode keeps
// readers unblocked by the single writer.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:      db,
		queries: NewQueries(db),
	}, nil
}

// Queries returns the store's query set bound to the connection pool.
// Reads that need no transactional consistency go through here.
func (s *Store) Queries() *Queries {
	return s.queries
}

// DB exposes the underlying handle for callers that manage their own
// statements (tests, mostly).
func (s *Store) DB() *sql.DB {
	return s.db
}

// InTx runs fn inside a single transaction. Any error from fn rolls the
// whole transaction back; partial writes are never visible.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(NewQueries(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.ErrorContext(ctx, "Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
