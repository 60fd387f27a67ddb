package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chanda/internal/core"
)

const yearColumns = `id, club_id, name, start_date, end_date, frequency,
	total_installments, amount_cents, opening_cents, closing_cents,
	is_active, is_closed, created_at, updated_at`

func (q *Queries) scanYear(row interface{ Scan(...any) error }) (core.Year, error) {
	var (
		y                    core.Year
		start, end, cre, upd sql.NullString
		freq                 string
	)
	err := row.Scan(&y.ID, &y.ClubID, &y.Name, &start, &end, &freq,
		&y.TotalInstallments, &y.AmountPerInstallment.Cents,
		&y.OpeningBalance.Cents, &y.ClosingBalance.Cents,
		&y.IsActive, &y.IsClosed, &cre, &upd)
	if err != nil {
		return core.Year{}, err
	}
	y.Frequency = core.Frequency(freq)
	y.StartDate = timeFromDB(start)
	y.EndDate = timeFromDB(end)
	y.CreatedAt = timeFromDB(cre)
	y.UpdatedAt = timeFromDB(upd)
	return y, nil
}

// CreateYear inserts a new year. The partial unique index on
// (club_id) WHERE is_active AND NOT is_closed enforces the one-active
// invariant at the store level.
func (q *Queries) CreateYear(ctx context.Context, y core.Year) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO years (`+yearColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		y.ID, y.ClubID, y.Name, timeToDB(y.StartDate), timeToDB(y.EndDate),
		string(y.Frequency), y.TotalInstallments, y.AmountPerInstallment.Cents,
		y.OpeningBalance.Cents, y.ClosingBalance.Cents,
		y.IsActive, y.IsClosed, timeToDB(y.CreatedAt), timeToDB(y.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert year: %w", err)
	}
	return nil
}

// GetYear returns the year scoped to the club.
func (q *Queries) GetYear(ctx context.Context, clubID, yearID string) (core.Year, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+yearColumns+` FROM years WHERE club_id = ? AND id = ?`,
		clubID, yearID)
	return q.scanYear(row)
}

// GetActiveYear returns the club's active, non-closed year.
func (q *Queries) GetActiveYear(ctx context.Context, clubID string) (core.Year, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+yearColumns+` FROM years
		WHERE club_id = ? AND is_active = 1 AND is_closed = 0`,
		clubID)
	return q.scanYear(row)
}

// GetLatestYear returns the club's most recently created year.
func (q *Queries) GetLatestYear(ctx context.Context, clubID string) (core.Year, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+yearColumns+` FROM years
		WHERE club_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		clubID)
	return q.scanYear(row)
}

// ListYears returns all years of a club, newest first.
func (q *Queries) ListYears(ctx context.Context, clubID string) ([]core.Year, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+yearColumns+` FROM years
		WHERE club_id = ?
		ORDER BY created_at DESC, id DESC`,
		clubID)
	if err != nil {
		return nil, fmt.Errorf("list years: %w", err)
	}
	defer rows.Close()

	var years []core.Year
	for rows.Next() {
		y, err := q.scanYear(rows)
		if err != nil {
			return nil, fmt.Errorf("scan year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// UpdateYearSettings persists new schedule settings on an open year.
func (q *Queries) UpdateYearSettings(ctx context.Context, clubID, yearID string, freq core.Frequency, totalInstallments int, amount core.Money, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE years
		SET frequency = ?, total_installments = ?, amount_cents = ?, updated_at = ?
		WHERE club_id = ? AND id = ? AND is_closed = 0`,
		string(freq), totalInstallments, amount.Cents, timeToDB(now), clubID, yearID)
	if err != nil {
		return fmt.Errorf("update year settings: %w", err)
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

// RetireYear flips a year to inactive and closed with the given frozen
// closing balance. Used both by the explicit close operation and the
// implicit close when a successor is created.
func (q *Queries) RetireYear(ctx context.Context, clubID, yearID string, closing core.Money, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE years
		SET is_active = 0, is_closed = 1, closing_cents = ?, updated_at = ?
		WHERE club_id = ? AND id = ? AND is_closed = 0`,
		closing.Cents, timeToDB(now), clubID, yearID)
	if err != nil {
		return fmt.Errorf("retire year: %w", err)
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
