package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chanda/internal/audit"
	"chanda/internal/core"
	"chanda/internal/storage"
)

// RecordService manages the flat transaction records: member fees,
// donations, and expenses. All are soft-deleted, never removed, so the
// audit history survives while balances exclude them.
type RecordService struct {
	store *storage.Store
	audit *audit.Publisher
	now   func() time.Time
}

func NewRecordService(store *storage.Store, auditPub *audit.Publisher) *RecordService {
	return &RecordService{
		store: store,
		audit: auditPub,
		now:   time.Now,
	}
}

// requireOpenYear loads the year and rejects writes against closed ones.
func (s *RecordService) requireOpenYear(ctx context.Context, q *storage.Queries, clubID, yearID string) error {
	year, err := q.GetYear(ctx, clubID, yearID)
	if err != nil {
		if storage.IsNotFound(err) {
			return core.Validationf("year %s not found", yearID)
		}
		return core.WrapStore(err, "load year")
	}
	if year.IsClosed {
		return core.Conflictf("year %s is closed", yearID)
	}
	return nil
}

func (s *RecordService) AddMemberFee(ctx context.Context, principal core.Principal, yearID, memberID, description string, amount core.Money) (core.MemberFee, error) {
	fee := core.MemberFee{
		ID:          uuid.NewString(),
		ClubID:      principal.ClubID,
		YearID:      yearID,
		MemberID:    memberID,
		Description: description,
		Amount:      amount,
		CreatedAt:   s.now().UTC(),
	}
	if memberID == "" {
		return core.MemberFee{}, core.Validationf("member id is required")
	}
	if err := fee.Validate(); err != nil {
		return core.MemberFee{}, core.WrapValidation(err, "invalid member fee")
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := s.requireOpenYear(ctx, q, principal.ClubID, yearID); err != nil {
			return err
		}
		if err := q.CreateMemberFee(ctx, fee); err != nil {
			return core.WrapStore(err, "create member fee")
		}
		return nil
	})
	if err != nil {
		return core.MemberFee{}, err
	}

	s.emit(ctx, audit.NewEvent(audit.ActionRecordCreated, principal.ID, principal.ClubID,
		"member fee "+fee.ID, fee.Amount.String()))
	return fee, nil
}

func (s *RecordService) AddDonation(ctx context.Context, principal core.Principal, yearID, donorName string, amount core.Money) (core.Donation, error) {
	donation := core.Donation{
		ID:        uuid.NewString(),
		ClubID:    principal.ClubID,
		YearID:    yearID,
		DonorName: donorName,
		Amount:    amount,
		CreatedAt: s.now().UTC(),
	}
	if err := donation.Validate(); err != nil {
		return core.Donation{}, core.WrapValidation(err, "invalid donation")
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := s.requireOpenYear(ctx, q, principal.ClubID, yearID); err != nil {
			return err
		}
		if err := q.CreateDonation(ctx, donation); err != nil {
			return core.WrapStore(err, "create donation")
		}
		return nil
	})
	if err != nil {
		return core.Donation{}, err
	}

	s.emit(ctx, audit.NewEvent(audit.ActionRecordCreated, principal.ID, principal.ClubID,
		"donation "+donation.ID, donation.Amount.String()))
	return donation, nil
}

// AddExpense records a new expense in pending state. It only counts
// against the balance once approved.
func (s *RecordService) AddExpense(ctx context.Context, principal core.Principal, yearID, description string, amount core.Money) (core.Expense, error) {
	expense := core.Expense{
		ID:          uuid.NewString(),
		ClubID:      principal.ClubID,
		YearID:      yearID,
		Description: description,
		Amount:      amount,
		Status:      core.ExpensePending,
		CreatedAt:   s.now().UTC(),
	}
	if err := expense.Validate(); err != nil {
		return core.Expense{}, core.WrapValidation(err, "invalid expense")
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		if err := s.requireOpenYear(ctx, q, principal.ClubID, yearID); err != nil {
			return err
		}
		if err := q.CreateExpense(ctx, expense); err != nil {
			return core.WrapStore(err, "create expense")
		}
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	s.emit(ctx, audit.NewEvent(audit.ActionRecordCreated, principal.ID, principal.ClubID,
		"expense "+expense.ID, expense.Amount.String()))
	return expense, nil
}

// ReviewExpense approves or rejects a pending expense. The expense's
// year must still be open: approving after close would shift the
// recomputed balance away from the frozen one.
func (s *RecordService) ReviewExpense(ctx context.Context, principal core.Principal, expenseID string, status core.ExpenseStatus) error {
	if status != core.ExpenseApproved && status != core.ExpenseRejected {
		return core.Validationf("review status must be approved or rejected")
	}

	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		expense, err := q.GetExpense(ctx, principal.ClubID, expenseID)
		if err != nil {
			if storage.IsNotFound(err) {
				return core.Validationf("expense %s not found", expenseID)
			}
			return core.WrapStore(err, "load expense")
		}
		if err := s.requireOpenYear(ctx, q, principal.ClubID, expense.YearID); err != nil {
			return err
		}
		if err := q.SetExpenseStatus(ctx, principal.ClubID, expenseID, status); err != nil {
			if storage.IsNotFound(err) {
				return core.Conflictf("expense %s is not pending", expenseID)
			}
			return core.WrapStore(err, "review expense")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, audit.NewEvent(audit.ActionExpenseReviewed, principal.ID, principal.ClubID,
		"expense "+expenseID, string(status)))

	slog.InfoContext(ctx, "Expense reviewed",
		"club_id", principal.ClubID,
		"expense_id", expenseID,
		"status", string(status))
	return nil
}

// YearRecords bundles a year's non-deleted records for display.
type YearRecords struct {
	Fees      []core.MemberFee
	Donations []core.Donation
	Expenses  []core.Expense
}

// ListRecords returns a year's fees, donations and expenses, omitting
// soft-deleted ones.
func (s *RecordService) ListRecords(ctx context.Context, principal core.Principal, yearID string) (YearRecords, error) {
	q := s.store.Queries()
	if _, err := q.GetYear(ctx, principal.ClubID, yearID); err != nil {
		if storage.IsNotFound(err) {
			return YearRecords{}, core.Validationf("year %s not found", yearID)
		}
		return YearRecords{}, core.WrapStore(err, "load year")
	}

	var (
		recs YearRecords
		err  error
	)
	if recs.Fees, err = q.ListMemberFees(ctx, principal.ClubID, yearID); err != nil {
		return YearRecords{}, core.WrapStore(err, "list member fees")
	}
	if recs.Donations, err = q.ListDonations(ctx, principal.ClubID, yearID); err != nil {
		return YearRecords{}, core.WrapStore(err, "list donations")
	}
	if recs.Expenses, err = q.ListExpenses(ctx, principal.ClubID, yearID); err != nil {
		return YearRecords{}, core.WrapStore(err, "list expenses")
	}
	return recs, nil
}

func (s *RecordService) DeleteMemberFee(ctx context.Context, principal core.Principal, id string) error {
	return s.softDelete(ctx, principal, "member fee", id,
		s.store.Queries().SoftDeleteMemberFee)
}

func (s *RecordService) DeleteDonation(ctx context.Context, principal core.Principal, id string) error {
	return s.softDelete(ctx, principal, "donation", id,
		s.store.Queries().SoftDeleteDonation)
}

func (s *RecordService) DeleteExpense(ctx context.Context, principal core.Principal, id string) error {
	return s.softDelete(ctx, principal, "expense", id,
		s.store.Queries().SoftDeleteExpense)
}

func (s *RecordService) softDelete(ctx context.Context, principal core.Principal, kind, id string, del func(context.Context, string, string) error) error {
	if err := del(ctx, principal.ClubID, id); err != nil {
		if storage.IsNotFound(err) {
			return core.Validationf("%s %s not found", kind, id)
		}
		return core.WrapStore(err, "soft delete "+kind)
	}
	s.emit(ctx, audit.NewEvent(audit.ActionRecordDeleted, principal.ID, principal.ClubID,
		kind+" "+id, ""))
	return nil
}

func (s *RecordService) emit(ctx context.Context, e audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "Failed to publish audit event",
			"action", e.Action, "error", err)
	}
}
