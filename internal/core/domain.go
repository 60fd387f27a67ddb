package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	None    Frequency = "none"
)

const (
	ExpensePending  ExpenseStatus = "pending"
	ExpenseApproved ExpenseStatus = "approved"
	ExpenseRejected ExpenseStatus = "rejected"
)

type (
	// Frequency is the installment cadence of a festival year.
	Frequency string

	// ExpenseStatus is the approval state of an expense. Only approved,
	// non-deleted expenses count against the balance.
	ExpenseStatus string

	// Principal is the authenticated actor supplied by the auth layer.
	// The ledger trusts it and scopes every query by ClubID.
	Principal struct {
		ID     string
		ClubID string
		Role   string
	}

	// Year is one fund-collection cycle for a club. At most one
	// non-closed year per club may be active at a time, and closing
	// is a one-way transition.
	Year struct {
		ID                   string
		ClubID               string
		Name                 string
		StartDate            time.Time
		EndDate              time.Time
		Frequency            Frequency
		TotalInstallments    int
		AmountPerInstallment Money
		OpeningBalance       Money
		ClosingBalance       Money // meaningful only once IsClosed
		IsActive             bool
		IsClosed             bool
		CreatedAt            time.Time
		UpdatedAt            time.Time
	}

	// Installment is one scheduled payment obligation within a
	// subscription. AmountPaid records what was actually collected at
	// payment time; AmountExpected may be rewritten by later schedule
	// adjustments.
	Installment struct {
		Seq            int
		AmountExpected Money
		AmountPaid     Money
		Paid           bool
		PaidAt         time.Time
		CollectedBy    string
	}

	// Subscription holds one member's installment schedule for a year.
	// TotalPaid and TotalDue are cached sums over the installment list
	// and must always be recomputed together.
	Subscription struct {
		ID           string
		ClubID       string
		YearID       string
		MemberID     string
		Installments []Installment
		TotalPaid    Money
		TotalDue     Money
		Version      int64
	}

	// MemberFee is an ad-hoc charge against a member, outside the
	// installment schedule.
	MemberFee struct {
		ID          string
		ClubID      string
		YearID      string
		MemberID    string
		Description string
		Amount      Money
		IsDeleted   bool
		CreatedAt   time.Time
	}

	Donation struct {
		ID        string
		ClubID    string
		YearID    string
		DonorName string
		Amount    Money
		IsDeleted bool
		CreatedAt time.Time
	}

	Expense struct {
		ID          string
		ClubID      string
		YearID      string
		Description string
		Amount      Money
		Status      ExpenseStatus
		IsDeleted   bool
		CreatedAt   time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidDates     = errors.New("end date must be after start date")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyDescription = errors.New("empty description")
)

func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Monthly, None:
		return true
	}
	return false
}

func (s ExpenseStatus) Valid() bool {
	switch s {
	case ExpensePending, ExpenseApproved, ExpenseRejected:
		return true
	}
	return false
}

func (y Year) Validate() error {
	if len(strings.TrimSpace(y.Name)) == 0 {
		return ErrEmptyName
	}
	if len(y.Name) > 120 {
		return errors.New("name too long (max 120 characters)")
	}
	if y.StartDate.IsZero() || y.EndDate.IsZero() {
		return errors.New("start and end dates are required")
	}
	if !y.EndDate.After(y.StartDate) {
		return ErrInvalidDates
	}
	if !y.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if y.TotalInstallments < 0 {
		return errors.New("total installments cannot be negative")
	}
	if y.Frequency != None {
		if y.TotalInstallments == 0 {
			return errors.New("total installments required for a recurring frequency")
		}
		if err := y.AmountPerInstallment.Validate(); err != nil {
			return err
		}
	}
	if y.OpeningBalance.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (f MemberFee) Validate() error {
	if len(strings.TrimSpace(f.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(f.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return f.Amount.Validate()
}

func (d Donation) Validate() error {
	if len(strings.TrimSpace(d.DonorName)) == 0 {
		return errors.New("empty donor name")
	}
	return d.Amount.Validate()
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if !e.Status.Valid() {
		return errors.New("invalid expense status")
	}
	return e.Amount.Validate()
}

// HighestPaidSeq returns the largest sequence number with a paid
// installment, or 0 when nothing is paid.
func (s Subscription) HighestPaidSeq() int {
	highest := 0
	for _, ins := range s.Installments {
		if ins.Paid && ins.Seq > highest {
			highest = ins.Seq
		}
	}
	return highest
}

// HasPaidInstallment reports whether any installment has been paid.
func (s Subscription) HasPaidInstallment() bool {
	return s.HighestPaidSeq() > 0
}
