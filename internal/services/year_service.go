package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chanda/internal/audit"
	"chanda/internal/core"
	"chanda/internal/storage"
)

// YearService is the state machine governing a club's festival-year
// sequence. Every transition runs inside one store transaction; a
// failure at any step leaves no partial state behind.
type YearService struct {
	store *storage.Store
	audit *audit.Publisher
	now   func() time.Time
}

func NewYearService(store *storage.Store, auditPub *audit.Publisher) *YearService {
	return &YearService{
		store: store,
		audit: auditPub,
		now:   time.Now,
	}
}

// CreateYearInput carries the settings for a new festival year.
type CreateYearInput struct {
	Name                 string
	StartDate            time.Time
	EndDate              time.Time
	Frequency            core.Frequency
	TotalInstallments    int
	AmountPerInstallment core.Money

	// ManualOpeningBalance seeds the first year of a club. Ignored when
	// a predecessor exists; its computed closing balance wins.
	ManualOpeningBalance core.Money
}

// Create opens a new year for the club. Atomically: any currently
// active year (or, failing that, the most recently created one) is
// closed with a freshly computed closing balance, and that balance
// carries forward as the new year's opening balance.
func (s *YearService) Create(ctx context.Context, principal core.Principal, in CreateYearInput) (core.Year, error) {
	now := s.now().UTC()
	year := core.Year{
		ID:                   uuid.NewString(),
		ClubID:               principal.ClubID,
		Name:                 in.Name,
		StartDate:            in.StartDate,
		EndDate:              in.EndDate,
		Frequency:            in.Frequency,
		TotalInstallments:    in.TotalInstallments,
		AmountPerInstallment: in.AmountPerInstallment,
		OpeningBalance:       in.ManualOpeningBalance,
		IsActive:             true,
		IsClosed:             false,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := year.Validate(); err != nil {
		return core.Year{}, core.WrapValidation(err, "invalid year settings")
	}

	var closedPredecessor string
	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		pred, found, err := s.findPredecessor(ctx, q, principal.ClubID)
		if err != nil {
			return err
		}
		if found {
			opening, err := s.settlePredecessor(ctx, q, pred, now)
			if err != nil {
				return err
			}
			year.OpeningBalance = opening
			if !pred.IsClosed {
				closedPredecessor = pred.ID
			}
		}

		if err := q.CreateYear(ctx, year); err != nil {
			if storage.IsUniqueViolation(err) {
				return core.Conflictf("another active year exists for this club")
			}
			return core.WrapStore(err, "create year")
		}
		return nil
	})
	if err != nil {
		return core.Year{}, err
	}

	s.emit(ctx, audit.NewEvent(audit.ActionYearCreated, principal.ID, principal.ClubID,
		"year "+year.ID, "opening balance "+year.OpeningBalance.String()))
	if closedPredecessor != "" {
		s.emit(ctx, audit.NewEvent(audit.ActionYearClosed, principal.ID, principal.ClubID,
			"year "+closedPredecessor, "closed implicitly by successor "+year.ID))
	}

	slog.InfoContext(ctx, "Festival year created",
		"club_id", principal.ClubID,
		"year_id", year.ID,
		"opening_cents", year.OpeningBalance.Cents,
		"predecessor", closedPredecessor)

	return year, nil
}

// findPredecessor locates the year whose balance carries forward: the
// active one, or the most recently created one when a close already
// happened out-of-band.
func (s *YearService) findPredecessor(ctx context.Context, q *storage.Queries, clubID string) (core.Year, bool, error) {
	pred, err := q.GetActiveYear(ctx, clubID)
	if err == nil {
		return pred, true, nil
	}
	if !storage.IsNotFound(err) {
		return core.Year{}, false, core.WrapStore(err, "find active year")
	}

	pred, err = q.GetLatestYear(ctx, clubID)
	if err == nil {
		return pred, true, nil
	}
	if !storage.IsNotFound(err) {
		return core.Year{}, false, core.WrapStore(err, "find latest year")
	}
	return core.Year{}, false, nil
}

// settlePredecessor freezes the predecessor's closing balance and
// returns it. An already-closed predecessor keeps its frozen value.
func (s *YearService) settlePredecessor(ctx context.Context, q *storage.Queries, pred core.Year, now time.Time) (core.Money, error) {
	if pred.IsClosed {
		return pred.ClosingBalance, nil
	}

	closing, err := ComputeBalance(ctx, q, pred.ClubID, pred.ID, pred.OpeningBalance)
	if err != nil {
		return core.Money{}, err
	}
	if err := q.RetireYear(ctx, pred.ClubID, pred.ID, closing, now); err != nil {
		if storage.IsNotFound(err) {
			return core.Money{}, core.Conflictf("year transition raced with a concurrent request")
		}
		return core.Money{}, core.WrapStore(err, "retire predecessor year")
	}
	if err := q.EnqueueExport(ctx, pred.ClubID, pred.ID, now); err != nil {
		return core.Money{}, core.WrapStore(err, "enqueue report export")
	}
	return closing, nil
}

// UpdateYearSettingsInput carries new schedule settings for an open year.
type UpdateYearSettingsInput struct {
	Frequency            core.Frequency
	TotalInstallments    int
	AmountPerInstallment core.Money

	// ConfirmForfeit acknowledges that switching the frequency to none
	// discards the installment schedule irreversibly.
	ConfirmForfeit bool
}

// UpdateSettings changes an open year's cadence settings and reshapes
// every subscription's schedule to match, all in one transaction.
func (s *YearService) UpdateSettings(ctx context.Context, principal core.Principal, yearID string, in UpdateYearSettingsInput) (core.Year, error) {
	if !in.Frequency.Valid() {
		return core.Year{}, core.WrapValidation(core.ErrInvalidFrequency, string(in.Frequency))
	}
	if in.Frequency != core.None {
		if in.TotalInstallments <= 0 {
			return core.Year{}, core.Validationf("total installments must be positive for frequency %s", in.Frequency)
		}
		if err := in.AmountPerInstallment.Validate(); err != nil {
			return core.Year{}, core.WrapValidation(err, "amount per installment")
		}
	}

	now := s.now().UTC()
	var (
		year     core.Year
		adjusted int
	)
	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		var err error
		year, err = q.GetYear(ctx, principal.ClubID, yearID)
		if err != nil {
			if storage.IsNotFound(err) {
				return core.Validationf("year %s not found", yearID)
			}
			return core.WrapStore(err, "load year")
		}
		if year.IsClosed {
			return core.Conflictf("year %s is closed", yearID)
		}

		paidCount, err := q.CountPaidInstallments(ctx, principal.ClubID, yearID)
		if err != nil {
			return core.WrapComputation(err, "count paid installments")
		}
		if in.Frequency != year.Frequency && paidCount > 0 {
			return core.Conflictf("cannot change frequency after installments were collected")
		}
		if in.Frequency == core.None && year.Frequency != core.None && !in.ConfirmForfeit {
			return core.Conflictf("switching frequency to none discards the schedule; confirmation required")
		}

		maxPaid, err := q.MaxPaidSeq(ctx, principal.ClubID, yearID)
		if err != nil {
			return core.WrapComputation(err, "find highest paid installment")
		}
		if in.Frequency != core.None && in.TotalInstallments < maxPaid {
			return core.Conflictf("cannot shrink installments to %d: installment %d is already paid",
				in.TotalInstallments, maxPaid)
		}

		subs, err := q.ListSubscriptionsByYear(ctx, principal.ClubID, yearID)
		if err != nil {
			return core.WrapStore(err, "list subscriptions")
		}
		for i := range subs {
			sub := subs[i]
			version := sub.Version
			if err := sub.AdjustSchedule(in.Frequency, in.TotalInstallments, in.AmountPerInstallment, in.ConfirmForfeit); err != nil {
				if errors.Is(err, core.ErrInstallmentPaid) || errors.Is(err, core.ErrScheduleForfeit) {
					return core.WrapConflict(err, "adjust schedule for subscription "+sub.ID)
				}
				return core.WrapValidation(err, "adjust schedule for subscription "+sub.ID)
			}
			if err := q.ReplaceSchedule(ctx, sub, version); err != nil {
				if storage.IsNotFound(err) {
					return core.Conflictf("subscription %s changed concurrently", sub.ID)
				}
				return core.WrapStore(err, "persist adjusted schedule")
			}
			adjusted++
		}

		if err := q.UpdateYearSettings(ctx, principal.ClubID, yearID, in.Frequency, in.TotalInstallments, in.AmountPerInstallment, now); err != nil {
			if storage.IsNotFound(err) {
				return core.Conflictf("year %s was closed concurrently", yearID)
			}
			return core.WrapStore(err, "persist year settings")
		}

		year.Frequency = in.Frequency
		year.TotalInstallments = in.TotalInstallments
		year.AmountPerInstallment = in.AmountPerInstallment
		year.UpdatedAt = now
		return nil
	})
	if err != nil {
		return core.Year{}, err
	}

	s.emit(ctx, audit.NewEvent(audit.ActionYearUpdated, principal.ID, principal.ClubID,
		"year "+yearID, "settings changed"))
	if adjusted > 0 {
		s.emit(ctx, audit.NewEvent(audit.ActionScheduleChanged, principal.ID, principal.ClubID,
			"year "+yearID, "schedules adjusted"))
	}

	slog.InfoContext(ctx, "Year settings updated",
		"club_id", principal.ClubID,
		"year_id", yearID,
		"frequency", string(in.Frequency),
		"installments", in.TotalInstallments,
		"subscriptions_adjusted", adjusted)

	return year, nil
}

// Close finalizes a year exactly once: it computes the final balance,
// freezes it, and queues the year report for export. There is no
// reopen.
func (s *YearService) Close(ctx context.Context, principal core.Principal, yearID string) (core.Year, error) {
	now := s.now().UTC()
	var year core.Year
	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		var err error
		year, err = q.GetYear(ctx, principal.ClubID, yearID)
		if err != nil {
			if storage.IsNotFound(err) {
				return core.Validationf("year %s not found", yearID)
			}
			return core.WrapStore(err, "load year")
		}
		if year.IsClosed {
			return core.Conflictf("year %s is already closed", yearID)
		}

		closing, err := ComputeBalance(ctx, q, principal.ClubID, yearID, year.OpeningBalance)
		if err != nil {
			return err
		}
		if err := q.RetireYear(ctx, principal.ClubID, yearID, closing, now); err != nil {
			if storage.IsNotFound(err) {
				return core.Conflictf("year %s was closed concurrently", yearID)
			}
			return core.WrapStore(err, "retire year")
		}
		if err := q.EnqueueExport(ctx, principal.ClubID, yearID, now); err != nil {
			return core.WrapStore(err, "enqueue report export")
		}

		year.IsActive = false
		year.IsClosed = true
		year.ClosingBalance = closing
		year.UpdatedAt = now
		return nil
	})
	if err != nil {
		return core.Year{}, err
	}

	s.emit(ctx, audit.NewEvent(audit.ActionYearClosed, principal.ID, principal.ClubID,
		"year "+yearID, "closing balance "+year.ClosingBalance.String()))

	slog.InfoContext(ctx, "Festival year closed",
		"club_id", principal.ClubID,
		"year_id", yearID,
		"closing_cents", year.ClosingBalance.Cents)

	return year, nil
}

// Report returns the aggregated financial view of a year, with
// integrity warnings when a frozen balance disagrees with a
// recomputation.
func (s *YearService) Report(ctx context.Context, principal core.Principal, yearID string) (core.YearSummary, error) {
	q := s.store.Queries()
	year, err := q.GetYear(ctx, principal.ClubID, yearID)
	if err != nil {
		if storage.IsNotFound(err) {
			return core.YearSummary{}, core.Validationf("year %s not found", yearID)
		}
		return core.YearSummary{}, core.WrapStore(err, "load year")
	}
	return Summarize(ctx, q, year)
}

// ListYears returns the club's years, newest first.
func (s *YearService) ListYears(ctx context.Context, principal core.Principal) ([]core.Year, error) {
	years, err := s.store.Queries().ListYears(ctx, principal.ClubID)
	if err != nil {
		return nil, core.WrapStore(err, "list years")
	}
	return years, nil
}

func (s *YearService) emit(ctx context.Context, e audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, e); err != nil {
		// Best-effort: the transition already committed.
		slog.WarnContext(ctx, "Failed to publish audit event",
			"action", e.Action, "error", err)
	}
}
