package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chanda/internal/core"
)

// CreateSubscription inserts the subscription row and its installment
// schedule. The UNIQUE (year_id, member_id) constraint rejects a second
// subscription for the same member.
func (q *Queries) CreateSubscription(ctx context.Context, sub core.Subscription, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, club_id, year_id, member_id,
			total_paid_cents, total_due_cents, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ClubID, sub.YearID, sub.MemberID,
		sub.TotalPaid.Cents, sub.TotalDue.Cents, sub.Version, timeToDB(now))
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return q.insertInstallments(ctx, sub.ID, sub.Installments)
}

func (q *Queries) insertInstallments(ctx context.Context, subID string, installments []core.Installment) error {
	for _, ins := range installments {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO installments (subscription_id, seq,
				amount_expected_cents, amount_paid_cents, paid, paid_at, collected_by)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			subID, ins.Seq, ins.AmountExpected.Cents, ins.AmountPaid.Cents,
			ins.Paid, timeToDB(ins.PaidAt), ins.CollectedBy)
		if err != nil {
			return fmt.Errorf("insert installment %d: %w", ins.Seq, err)
		}
	}
	return nil
}

// GetSubscription loads a subscription and its ordered schedule.
func (q *Queries) GetSubscription(ctx context.Context, clubID, subID string) (core.Subscription, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, club_id, year_id, member_id, total_paid_cents, total_due_cents, version
		FROM subscriptions WHERE club_id = ? AND id = ?`,
		clubID, subID)
	return q.scanSubscription(ctx, row)
}

// GetSubscriptionByMember loads the (year, member) subscription.
func (q *Queries) GetSubscriptionByMember(ctx context.Context, clubID, yearID, memberID string) (core.Subscription, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, club_id, year_id, member_id, total_paid_cents, total_due_cents, version
		FROM subscriptions WHERE club_id = ? AND year_id = ? AND member_id = ?`,
		clubID, yearID, memberID)
	return q.scanSubscription(ctx, row)
}

func (q *Queries) scanSubscription(ctx context.Context, row *sql.Row) (core.Subscription, error) {
	var sub core.Subscription
	err := row.Scan(&sub.ID, &sub.ClubID, &sub.YearID, &sub.MemberID,
		&sub.TotalPaid.Cents, &sub.TotalDue.Cents, &sub.Version)
	if err != nil {
		return core.Subscription{}, err
	}
	sub.Installments, err = q.loadInstallments(ctx, sub.ID)
	if err != nil {
		return core.Subscription{}, err
	}
	return sub, nil
}

func (q *Queries) loadInstallments(ctx context.Context, subID string) ([]core.Installment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT seq, amount_expected_cents, amount_paid_cents, paid, paid_at, collected_by
		FROM installments WHERE subscription_id = ? ORDER BY seq`,
		subID)
	if err != nil {
		return nil, fmt.Errorf("load installments: %w", err)
	}
	defer rows.Close()

	var installments []core.Installment
	for rows.Next() {
		var (
			ins       core.Installment
			paidAt    sql.NullString
			collector sql.NullString
		)
		if err := rows.Scan(&ins.Seq, &ins.AmountExpected.Cents, &ins.AmountPaid.Cents,
			&ins.Paid, &paidAt, &collector); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		ins.PaidAt = timeFromDB(paidAt)
		ins.CollectedBy = collector.String
		installments = append(installments, ins)
	}
	return installments, rows.Err()
}

// ListSubscriptionsByYear returns every subscription of a year with its
// schedule loaded.
func (q *Queries) ListSubscriptionsByYear(ctx context.Context, clubID, yearID string) ([]core.Subscription, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, club_id, year_id, member_id, total_paid_cents, total_due_cents, version
		FROM subscriptions WHERE club_id = ? AND year_id = ? ORDER BY created_at, id`,
		clubID, yearID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []core.Subscription
	for rows.Next() {
		var sub core.Subscription
		if err := rows.Scan(&sub.ID, &sub.ClubID, &sub.YearID, &sub.MemberID,
			&sub.TotalPaid.Cents, &sub.TotalDue.Cents, &sub.Version); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].Installments, err = q.loadInstallments(ctx, subs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// ReplaceSchedule rewrites a subscription's installment list and cached
// totals in one compare-and-swap guarded by the version column. Returns
// sql.ErrNoRows when the version moved underneath the caller.
func (q *Queries) ReplaceSchedule(ctx context.Context, sub core.Subscription, expectedVersion int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET total_paid_cents = ?, total_due_cents = ?, version = version + 1
		WHERE id = ? AND club_id = ? AND version = ?`,
		sub.TotalPaid.Cents, sub.TotalDue.Cents, sub.ID, sub.ClubID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update subscription totals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM installments WHERE subscription_id = ?`, sub.ID); err != nil {
		return fmt.Errorf("clear installments: %w", err)
	}
	return q.insertInstallments(ctx, sub.ID, sub.Installments)
}

// CountPaidInstallments returns how many installments were paid across
// the year's subscriptions.
func (q *Queries) CountPaidInstallments(ctx context.Context, clubID, yearID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM installments i
		JOIN subscriptions s ON s.id = i.subscription_id
		WHERE s.club_id = ? AND s.year_id = ? AND i.paid = 1`,
		clubID, yearID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count paid installments: %w", err)
	}
	return n, nil
}

// MaxPaidSeq returns the highest paid sequence number across the year's
// subscriptions, 0 when nothing is paid.
func (q *Queries) MaxPaidSeq(ctx context.Context, clubID, yearID string) (int, error) {
	var n sql.NullInt64
	err := q.db.QueryRowContext(ctx, `
		SELECT MAX(i.seq)
		FROM installments i
		JOIN subscriptions s ON s.id = i.subscription_id
		WHERE s.club_id = ? AND s.year_id = ? AND i.paid = 1`,
		clubID, yearID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max paid seq: %w", err)
	}
	return int(n.Int64), nil
}
