package storage

import (
	"context"
	"database/sql"
	"fmt"

	"chanda/internal/core"
)

func (q *Queries) CreateMemberFee(ctx context.Context, f core.MemberFee) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO member_fees (id, club_id, year_id, member_id, description, amount_cents, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ClubID, f.YearID, f.MemberID, f.Description, f.Amount.Cents, f.IsDeleted, timeToDB(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert member fee: %w", err)
	}
	return nil
}

func (q *Queries) CreateDonation(ctx context.Context, d core.Donation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO donations (id, club_id, year_id, donor_name, amount_cents, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ClubID, d.YearID, d.DonorName, d.Amount.Cents, d.IsDeleted, timeToDB(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

func (q *Queries) CreateExpense(ctx context.Context, e core.Expense) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO expenses (id, club_id, year_id, description, amount_cents, status, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ClubID, e.YearID, e.Description, e.Amount.Cents, string(e.Status), e.IsDeleted, timeToDB(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

func (q *Queries) softDelete(ctx context.Context, table, clubID, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE `+table+` SET is_deleted = 1 WHERE club_id = ? AND id = ? AND is_deleted = 0`,
		clubID, id)
	if err != nil {
		return fmt.Errorf("soft delete from %s: %w", table, err)
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

func (q *Queries) SoftDeleteMemberFee(ctx context.Context, clubID, id string) error {
	return q.softDelete(ctx, "member_fees", clubID, id)
}

func (q *Queries) SoftDeleteDonation(ctx context.Context, clubID, id string) error {
	return q.softDelete(ctx, "donations", clubID, id)
}

func (q *Queries) SoftDeleteExpense(ctx context.Context, clubID, id string) error {
	return q.softDelete(ctx, "expenses", clubID, id)
}

// SetExpenseStatus moves a pending expense to approved or rejected.
// Returns sql.ErrNoRows when the expense is missing, deleted, or no
// longer pending.
func (q *Queries) SetExpenseStatus(ctx context.Context, clubID, id string, status core.ExpenseStatus) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE expenses SET status = ?
		WHERE club_id = ? AND id = ? AND is_deleted = 0 AND status = 'pending'`,
		string(status), clubID, id)
	if err != nil {
		return fmt.Errorf("set expense status: %w", err)
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

// GetExpense returns a non-deleted expense scoped to the club.
func (q *Queries) GetExpense(ctx context.Context, clubID, id string) (core.Expense, error) {
	var (
		e      core.Expense
		status string
		cre    sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, club_id, year_id, description, amount_cents, status, is_deleted, created_at
		FROM expenses WHERE club_id = ? AND id = ? AND is_deleted = 0`,
		clubID, id).
		Scan(&e.ID, &e.ClubID, &e.YearID, &e.Description,
			&e.Amount.Cents, &status, &e.IsDeleted, &cre)
	if err != nil {
		return core.Expense{}, err
	}
	e.Status = core.ExpenseStatus(status)
	e.CreatedAt = timeFromDB(cre)
	return e, nil
}

func (q *Queries) ListExpenses(ctx context.Context, clubID, yearID string) ([]core.Expense, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, club_id, year_id, description, amount_cents, status, is_deleted, created_at
		FROM expenses WHERE club_id = ? AND year_id = ? AND is_deleted = 0
		ORDER BY created_at, id`,
		clubID, yearID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		var (
			e      core.Expense
			status string
			cre    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ClubID, &e.YearID, &e.Description,
			&e.Amount.Cents, &status, &e.IsDeleted, &cre); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.Status = core.ExpenseStatus(status)
		e.CreatedAt = timeFromDB(cre)
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (q *Queries) ListDonations(ctx context.Context, clubID, yearID string) ([]core.Donation, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, club_id, year_id, donor_name, amount_cents, is_deleted, created_at
		FROM donations WHERE club_id = ? AND year_id = ? AND is_deleted = 0
		ORDER BY created_at, id`,
		clubID, yearID)
	if err != nil {
		return nil, fmt.Errorf("list donations: %w", err)
	}
	defer rows.Close()

	var donations []core.Donation
	for rows.Next() {
		var (
			d   core.Donation
			cre sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.ClubID, &d.YearID, &d.DonorName,
			&d.Amount.Cents, &d.IsDeleted, &cre); err != nil {
			return nil, fmt.Errorf("scan donation: %w", err)
		}
		d.CreatedAt = timeFromDB(cre)
		donations = append(donations, d)
	}
	return donations, rows.Err()
}

func (q *Queries) ListMemberFees(ctx context.Context, clubID, yearID string) ([]core.MemberFee, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, club_id, year_id, member_id, description, amount_cents, is_deleted, created_at
		FROM member_fees WHERE club_id = ? AND year_id = ? AND is_deleted = 0
		ORDER BY created_at, id`,
		clubID, yearID)
	if err != nil {
		return nil, fmt.Errorf("list member fees: %w", err)
	}
	defer rows.Close()

	var fees []core.MemberFee
	for rows.Next() {
		var (
			f   core.MemberFee
			cre sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.ClubID, &f.YearID, &f.MemberID,
			&f.Description, &f.Amount.Cents, &f.IsDeleted, &cre); err != nil {
			return nil, fmt.Errorf("scan member fee: %w", err)
		}
		f.CreatedAt = timeFromDB(cre)
		fees = append(fees, f)
	}
	return fees, rows.Err()
}
