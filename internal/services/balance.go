// Package services implements the ledger's operations: year lifecycle,
// balance aggregation, payment recording, and transaction records.
package services

import (
	"context"

	"chanda/internal/core"
	"chanda/internal/storage"
)

// ComputeBalance sums the year's four income/expense sources and
// returns opening + (paid installments + fees + donations) - approved
// expenses, all in cents.
//
// The four sums are independent and order-free; callers needing a
// consistent snapshot pass a transactional query set. Failures surface
// as computation-kind errors; a balance derived from a failed
// aggregation must never be persisted.
func ComputeBalance(ctx context.Context, q *storage.Queries, clubID, yearID string, opening core.Money) (core.Money, error) {
	if _, err := q.GetYear(ctx, clubID, yearID); err != nil {
		if storage.IsNotFound(err) {
			return core.Money{}, core.WrapComputation(err, "year "+yearID+" does not resolve")
		}
		return core.Money{}, core.WrapComputation(err, "resolve year")
	}
	sum, err := aggregate(ctx, q, clubID, yearID, opening)
	if err != nil {
		return core.Money{}, err
	}
	return sum.Balance, nil
}

// Summarize builds the full aggregated view of a year.
func Summarize(ctx context.Context, q *storage.Queries, year core.Year) (core.YearSummary, error) {
	sum, err := aggregate(ctx, q, year.ClubID, year.ID, year.OpeningBalance)
	if err != nil {
		return core.YearSummary{}, err
	}
	sum.Year = year
	if year.IsClosed && year.ClosingBalance.Cents != sum.Balance.Cents {
		sum.Warnings = append(sum.Warnings,
			"frozen closing balance "+year.ClosingBalance.String()+
				" does not match recomputed balance "+sum.Balance.String())
	}
	return sum, nil
}

func aggregate(ctx context.Context, q *storage.Queries, clubID, yearID string, opening core.Money) (core.YearSummary, error) {
	paid, err := q.SumPaidInstallments(ctx, clubID, yearID)
	if err != nil {
		return core.YearSummary{}, core.WrapComputation(err, "sum paid installments")
	}
	fees, err := q.SumMemberFees(ctx, clubID, yearID)
	if err != nil {
		return core.YearSummary{}, core.WrapComputation(err, "sum member fees")
	}
	donations, err := q.SumDonations(ctx, clubID, yearID)
	if err != nil {
		return core.YearSummary{}, core.WrapComputation(err, "sum donations")
	}
	expenses, err := q.SumApprovedExpenses(ctx, clubID, yearID)
	if err != nil {
		return core.YearSummary{}, core.WrapComputation(err, "sum approved expenses")
	}

	return core.YearSummary{
		PaidSubs:        core.Money{Cents: paid},
		Fees:            core.Money{Cents: fees},
		Donations:       core.Money{Cents: donations},
		ApprovedExpense: core.Money{Cents: expenses},
		Balance:         core.Money{Cents: opening.Cents + paid + fees + donations - expenses},
	}, nil
}
