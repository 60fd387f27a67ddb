package core

// YearSummary is the aggregated financial view of one year.
type YearSummary struct {
	Year            Year
	PaidSubs        Money
	Fees            Money
	Donations       Money
	ApprovedExpense Money
	Balance         Money
	// Warnings carry financial-integrity findings, e.g. a frozen closing
	// balance that no longer matches a recomputation. Surfaced, never
	// silently corrected.
	Warnings []string
}

// Income returns the total income side of the summary.
func (s YearSummary) Income() Money {
	return Money{Cents: s.PaidSubs.Cents + s.Fees.Cents + s.Donations.Cents}
}
