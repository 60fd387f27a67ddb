package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so every query can run
// standalone or inside a transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries bundles all SQL access over a single DBTX.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// IsUniqueViolation reports whether err is a SQLite unique-constraint
// failure. Uniqueness conflicts are part of the store's contract (one
// active year, one subscription per member, idempotency keys).
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return err == sql.ErrNoRows
}

func timeToDB(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timeFromDB(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
