package storage

import (
	"context"
	"fmt"
)

// The four balance sums. Each applies the same filters everywhere:
// soft-deleted records never count, expenses only when approved.

func (q *Queries) SumPaidInstallments(ctx context.Context, clubID, yearID string) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(i.amount_expected_cents), 0)
		FROM installments i
		JOIN subscriptions s ON s.id = i.subscription_id
		WHERE s.club_id = ? AND s.year_id = ? AND i.paid = 1`,
		clubID, yearID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum paid installments: %w", err)
	}
	return sum, nil
}

func (q *Queries) SumMemberFees(ctx context.Context, clubID, yearID string) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM member_fees
		WHERE club_id = ? AND year_id = ? AND is_deleted = 0`,
		clubID, yearID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum member fees: %w", err)
	}
	return sum, nil
}

func (q *Queries) SumDonations(ctx context.Context, clubID, yearID string) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM donations
		WHERE club_id = ? AND year_id = ? AND is_deleted = 0`,
		clubID, yearID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum donations: %w", err)
	}
	return sum, nil
}

func (q *Queries) SumApprovedExpenses(ctx context.Context, clubID, yearID string) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM expenses
		WHERE club_id = ? AND year_id = ? AND is_deleted = 0 AND status = 'approved'`,
		clubID, yearID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum approved expenses: %w", err)
	}
	return sum, nil
}
