package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IdempotencyRecord is a stored request key. Status is nil while the
// wrapped operation is still in flight.
type IdempotencyRecord struct {
	Key          string
	ActorID      string
	Status       *int
	ResponseBody string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// InsertIdempotencyPlaceholder claims a key for the actor. The primary
// key on (key, actor_id) makes this the single synchronization point:
// a unique violation means another request holds the key.
func (q *Queries) InsertIdempotencyPlaceholder(ctx context.Context, key, actorID string, now, expiresAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, actor_id, status, response_body, created_at, expires_at)
		VALUES (?, ?, NULL, '', ?, ?)`,
		key, actorID, timeToDB(now), timeToDB(expiresAt))
	if err != nil {
		return fmt.Errorf("insert idempotency placeholder: %w", err)
	}
	return nil
}

// GetIdempotencyRecord returns the record for (key, actor), ignoring
// expired entries.
func (q *Queries) GetIdempotencyRecord(ctx context.Context, key, actorID string, now time.Time) (IdempotencyRecord, error) {
	var (
		rec      IdempotencyRecord
		status   sql.NullInt64
		cre, exp sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT key, actor_id, status, response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE key = ? AND actor_id = ? AND expires_at > ?`,
		key, actorID, timeToDB(now)).
		Scan(&rec.Key, &rec.ActorID, &status, &rec.ResponseBody, &cre, &exp)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if status.Valid {
		s := int(status.Int64)
		rec.Status = &s
	}
	rec.CreatedAt = timeFromDB(cre)
	rec.ExpiresAt = timeFromDB(exp)
	return rec, nil
}

// StoreIdempotencyResponse records the final response for a key.
func (q *Queries) StoreIdempotencyResponse(ctx context.Context, key, actorID string, status int, responseBody string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE idempotency_keys SET status = ?, response_body = ?
		WHERE key = ? AND actor_id = ?`,
		status, responseBody, key, actorID)
	if err != nil {
		return fmt.Errorf("store idempotency response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteIdempotencyRecord removes a key so a clean retry can claim it.
func (q *Queries) DeleteIdempotencyRecord(ctx context.Context, key, actorID string) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE key = ? AND actor_id = ?`,
		key, actorID); err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

// DeleteExpiredIdempotencyRecord removes a key only if it is past its
// retention window. A concurrent reclaimer may have already replaced
// the row with a fresh one; the expiry condition leaves that row alone
// and the caller's re-insert then hits the unique violation.
func (q *Queries) DeleteExpiredIdempotencyRecord(ctx context.Context, key, actorID string, now time.Time) error {
	if _, err := q.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key = ? AND actor_id = ? AND expires_at <= ?`,
		key, actorID, timeToDB(now)); err != nil {
		return fmt.Errorf("delete expired idempotency record: %w", err)
	}
	return nil
}

// PurgeExpiredIdempotencyKeys deletes keys past their retention window
// and returns how many were removed.
func (q *Queries) PurgeExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at <= ?`, timeToDB(now))
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
