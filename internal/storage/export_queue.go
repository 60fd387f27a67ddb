package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ExportItem is one queued year-report export.
type ExportItem struct {
	ID        int64
	ClubID    string
	YearID    string
	Status    string
	Attempts  int64
	LastError string
	CreatedAt time.Time
}

// EnqueueExport queues a closed year for report export.
func (q *Queries) EnqueueExport(ctx context.Context, clubID, yearID string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO export_queue (club_id, year_id, status, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?)`,
		clubID, yearID, timeToDB(now), timeToDB(now))
	if err != nil {
		return fmt.Errorf("enqueue export: %w", err)
	}
	return nil
}

// DequeuePendingExports returns up to limit pending items, oldest first.
func (q *Queries) DequeuePendingExports(ctx context.Context, limit int64) ([]ExportItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, club_id, year_id, status, attempts, COALESCE(last_error, ''), created_at
		FROM export_queue
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue exports: %w", err)
	}
	defer rows.Close()

	var items []ExportItem
	for rows.Next() {
		var (
			item ExportItem
			cre  sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.ClubID, &item.YearID, &item.Status,
			&item.Attempts, &item.LastError, &cre); err != nil {
			return nil, fmt.Errorf("scan export item: %w", err)
		}
		item.CreatedAt = timeFromDB(cre)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q *Queries) setExportStatus(ctx context.Context, id int64, status string, now time.Time) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE export_queue SET status = ?, updated_at = ? WHERE id = ?`,
		status, timeToDB(now), id); err != nil {
		return fmt.Errorf("set export status %s: %w", status, err)
	}
	return nil
}

func (q *Queries) MarkExportProcessing(ctx context.Context, id int64, now time.Time) error {
	return q.setExportStatus(ctx, id, "processing", now)
}

func (q *Queries) MarkExportComplete(ctx context.Context, id int64, now time.Time) error {
	return q.setExportStatus(ctx, id, "completed", now)
}

// MarkExportFailed marks an item permanently failed with its last error.
func (q *Queries) MarkExportFailed(ctx context.Context, id int64, lastError string, now time.Time) error {
	if _, err := q.db.ExecContext(ctx, `
		UPDATE export_queue SET status = 'failed', last_error = ?, updated_at = ? WHERE id = ?`,
		lastError, timeToDB(now), id); err != nil {
		return fmt.Errorf("mark export failed: %w", err)
	}
	return nil
}

// RequeueExport returns a failed attempt to pending with the attempt
// counter bumped.
func (q *Queries) RequeueExport(ctx context.Context, id int64, lastError string, now time.Time) error {
	if _, err := q.db.ExecContext(ctx, `
		UPDATE export_queue
		SET status = 'pending', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`,
		lastError, timeToDB(now), id); err != nil {
		return fmt.Errorf("requeue export: %w", err)
	}
	return nil
}

// CleanupCompletedExports removes completed items older than cutoff.
func (q *Queries) CleanupCompletedExports(ctx context.Context, cutoff time.Time) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM export_queue WHERE status = 'completed' AND updated_at < ?`,
		timeToDB(cutoff)); err != nil {
		return fmt.Errorf("cleanup completed exports: %w", err)
	}
	return nil
}
