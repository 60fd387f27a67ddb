package core

import (
	"errors"
	"time"
)

var (
	ErrInstallmentPaid     = errors.New("installment already paid")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrScheduleForfeit     = errors.New("removing the schedule forfeits paid history")
)

// NewSchedule generates count fresh unpaid installments at amount,
// numbered 1..count. A frequency of None yields an empty schedule.
func NewSchedule(freq Frequency, count int, amount Money) []Installment {
	if freq == None || count <= 0 {
		return nil
	}
	installments := make([]Installment, count)
	for i := range installments {
		installments[i] = Installment{
			Seq:            i + 1,
			AmountExpected: amount,
		}
	}
	return installments
}

// AdjustSchedule reshapes the subscription's installment list for new
// year settings and recomputes the cached totals.
//
// Rules:
//   - freq None empties the list. Irreversible; the caller must have
//     confirmed the forfeit (ErrScheduleForfeit when paid history exists
//     and confirmForfeit is false).
//   - an empty list with a recurring freq gets count fresh installments.
//   - growing appends unpaid installments continuing the numbering;
//     shrinking truncates the tail, which must contain no paid entries.
//   - every remaining installment, paid or not, takes the new expected
//     amount. AmountPaid keeps what was actually collected.
func (s *Subscription) AdjustSchedule(freq Frequency, count int, amount Money, confirmForfeit bool) error {
	if !freq.Valid() {
		return ErrInvalidFrequency
	}
	if freq == None {
		if s.HasPaidInstallment() && !confirmForfeit {
			return ErrScheduleForfeit
		}
		s.Installments = nil
		s.recomputeTotals()
		return nil
	}
	if count <= 0 {
		return errors.New("installment count must be positive for a recurring frequency")
	}
	if err := amount.Validate(); err != nil {
		return err
	}

	switch {
	case len(s.Installments) == 0:
		s.Installments = NewSchedule(freq, count, amount)
	case count > len(s.Installments):
		for seq := len(s.Installments) + 1; seq <= count; seq++ {
			s.Installments = append(s.Installments, Installment{
				Seq:            seq,
				AmountExpected: amount,
			})
		}
	case count < len(s.Installments):
		for _, ins := range s.Installments[count:] {
			if ins.Paid {
				return ErrInstallmentPaid
			}
		}
		s.Installments = s.Installments[:count]
	}

	// The new rate applies to the whole schedule, including already-paid
	// entries; the cached totals follow the expected amounts.
	for i := range s.Installments {
		s.Installments[i].AmountExpected = amount
	}
	s.recomputeTotals()
	return nil
}

// MarkPaid records payment of the installment with the given sequence
// number and recomputes the cached totals.
func (s *Subscription) MarkPaid(seq int, collectedBy string, at time.Time) error {
	for i := range s.Installments {
		if s.Installments[i].Seq != seq {
			continue
		}
		if s.Installments[i].Paid {
			return ErrInstallmentPaid
		}
		s.Installments[i].Paid = true
		s.Installments[i].PaidAt = at
		s.Installments[i].AmountPaid = s.Installments[i].AmountExpected
		s.Installments[i].CollectedBy = collectedBy
		s.recomputeTotals()
		return nil
	}
	return ErrInstallmentNotFound
}

// recomputeTotals rebuilds TotalPaid and TotalDue from the installment
// list. The two are always written together.
func (s *Subscription) recomputeTotals() {
	var paid, due int64
	for _, ins := range s.Installments {
		if ins.Paid {
			paid += ins.AmountExpected.Cents
		} else {
			due += ins.AmountExpected.Cents
		}
	}
	s.TotalPaid = Money{Cents: paid}
	s.TotalDue = Money{Cents: due}
}
