package core

import (
	"errors"
	"testing"
	"time"
)

func newTestSub(count int, amountCents int64) *Subscription {
	return &Subscription{
		ID:           "sub-1",
		ClubID:       "club-1",
		YearID:       "year-1",
		MemberID:     "member-1",
		Installments: NewSchedule(Weekly, count, Money{Cents: amountCents}),
		TotalDue:     Money{Cents: int64(count) * amountCents},
	}
}

func TestNewSchedule(t *testing.T) {
	ins := NewSchedule(Weekly, 4, Money{Cents: 50})
	if len(ins) != 4 {
		t.Fatalf("expected 4 installments, got %d", len(ins))
	}
	for i, in := range ins {
		if in.Seq != i+1 || in.AmountExpected.Cents != 50 || in.Paid {
			t.Fatalf("installment %d malformed: %+v", i, in)
		}
	}
	if got := NewSchedule(None, 4, Money{Cents: 50}); got != nil {
		t.Fatalf("frequency none should yield no schedule, got %d", len(got))
	}
}

func TestMarkPaid(t *testing.T) {
	sub := newTestSub(4, 50)
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := sub.MarkPaid(2, "collector-1", at); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if sub.TotalPaid.Cents != 50 || sub.TotalDue.Cents != 150 {
		t.Fatalf("totals paid=%d due=%d", sub.TotalPaid.Cents, sub.TotalDue.Cents)
	}
	ins := sub.Installments[1]
	if !ins.Paid || !ins.PaidAt.Equal(at) || ins.AmountPaid.Cents != 50 || ins.CollectedBy != "collector-1" {
		t.Fatalf("installment not updated: %+v", ins)
	}

	if err := sub.MarkPaid(2, "collector-1", at); !errors.Is(err, ErrInstallmentPaid) {
		t.Fatalf("double pay expected ErrInstallmentPaid, got %v", err)
	}
	if err := sub.MarkPaid(9, "collector-1", at); !errors.Is(err, ErrInstallmentNotFound) {
		t.Fatalf("expected ErrInstallmentNotFound, got %v", err)
	}
}

func TestAdjustScheduleGrow(t *testing.T) {
	sub := newTestSub(4, 50)
	if err := sub.MarkPaid(1, "c", time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := sub.AdjustSchedule(Weekly, 6, Money{Cents: 75}, false); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if len(sub.Installments) != 6 {
		t.Fatalf("expected 6 installments, got %d", len(sub.Installments))
	}
	for i, ins := range sub.Installments {
		if ins.Seq != i+1 {
			t.Fatalf("sequence broken at %d: %+v", i, ins)
		}
		if ins.AmountExpected.Cents != 75 {
			t.Fatalf("expected amount not rewritten at seq %d", ins.Seq)
		}
	}
	// Paid entry keeps its paid state and collected amount.
	first := sub.Installments[0]
	if !first.Paid || first.AmountPaid.Cents != 50 {
		t.Fatalf("paid history corrupted: %+v", first)
	}
	// Cached totals follow the new expected amounts.
	if sub.TotalPaid.Cents != 75 || sub.TotalDue.Cents != 5*75 {
		t.Fatalf("totals paid=%d due=%d", sub.TotalPaid.Cents, sub.TotalDue.Cents)
	}
}

func TestAdjustScheduleShrink(t *testing.T) {
	sub := newTestSub(6, 50)
	if err := sub.MarkPaid(2, "c", time.Now()); err != nil {
		t.Fatal(err)
	}

	// Shrinking below the highest paid seq is rejected.
	if err := sub.AdjustSchedule(Weekly, 1, Money{Cents: 50}, false); !errors.Is(err, ErrInstallmentPaid) {
		t.Fatalf("expected ErrInstallmentPaid, got %v", err)
	}
	if len(sub.Installments) != 6 {
		t.Fatalf("failed shrink must not mutate, got %d installments", len(sub.Installments))
	}

	// Shrinking above it succeeds and preserves the paid entry.
	if err := sub.AdjustSchedule(Weekly, 3, Money{Cents: 50}, false); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if len(sub.Installments) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(sub.Installments))
	}
	if !sub.Installments[1].Paid {
		t.Fatal("paid installment lost")
	}
	if sub.TotalPaid.Cents != 50 || sub.TotalDue.Cents != 100 {
		t.Fatalf("totals paid=%d due=%d", sub.TotalPaid.Cents, sub.TotalDue.Cents)
	}
}

func TestAdjustScheduleFromEmpty(t *testing.T) {
	sub := &Subscription{ID: "sub-1"}
	if err := sub.AdjustSchedule(Monthly, 12, Money{Cents: 200}, false); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if len(sub.Installments) != 12 || sub.TotalDue.Cents != 2400 || sub.TotalPaid.Cents != 0 {
		t.Fatalf("fresh schedule malformed: %d installments, due=%d", len(sub.Installments), sub.TotalDue.Cents)
	}
}

func TestAdjustScheduleToNone(t *testing.T) {
	sub := newTestSub(4, 50)
	if err := sub.MarkPaid(1, "c", time.Now()); err != nil {
		t.Fatal(err)
	}

	// Dropping a schedule with paid history needs explicit confirmation.
	if err := sub.AdjustSchedule(None, 0, Money{}, false); !errors.Is(err, ErrScheduleForfeit) {
		t.Fatalf("expected ErrScheduleForfeit, got %v", err)
	}

	if err := sub.AdjustSchedule(None, 0, Money{}, true); err != nil {
		t.Fatalf("confirmed adjust: %v", err)
	}
	if len(sub.Installments) != 0 || sub.TotalPaid.Cents != 0 || sub.TotalDue.Cents != 0 {
		t.Fatalf("schedule not emptied: %+v", sub)
	}
}

func TestAdjustScheduleValidation(t *testing.T) {
	sub := newTestSub(4, 50)
	if err := sub.AdjustSchedule("daily", 4, Money{Cents: 50}, false); !errors.Is(err, ErrInvalidFrequency) {
		t.Fatalf("expected ErrInvalidFrequency, got %v", err)
	}
	if err := sub.AdjustSchedule(Weekly, 0, Money{Cents: 50}, false); err == nil {
		t.Fatal("zero count with recurring frequency must fail")
	}
	if err := sub.AdjustSchedule(Weekly, 4, Money{Cents: 0}, false); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
