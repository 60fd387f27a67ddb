package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"chanda/internal/audit"
	"chanda/internal/core"
	"chanda/internal/idempotency"
	"chanda/internal/storage"
)

// PaymentService records installment payments and manages
// subscriptions. Payment recording is the retry-prone path, so it runs
// under the idempotency guard.
type PaymentService struct {
	store *storage.Store
	guard *idempotency.Guard
	audit *audit.Publisher
	now   func() time.Time
}

func NewPaymentService(store *storage.Store, guard *idempotency.Guard, auditPub *audit.Publisher) *PaymentService {
	return &PaymentService{
		store: store,
		guard: guard,
		audit: auditPub,
		now:   time.Now,
	}
}

// CreateSubscription enrolls a member into a year's installment
// schedule. One subscription per (year, member); duplicates conflict.
func (s *PaymentService) CreateSubscription(ctx context.Context, principal core.Principal, yearID, memberID string) (core.Subscription, error) {
	if memberID == "" {
		return core.Subscription{}, core.Validationf("member id is required")
	}

	now := s.now().UTC()
	var sub core.Subscription
	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		year, err := q.GetYear(ctx, principal.ClubID, yearID)
		if err != nil {
			if storage.IsNotFound(err) {
				return core.Validationf("year %s not found", yearID)
			}
			return core.WrapStore(err, "load year")
		}
		if year.IsClosed {
			return core.Conflictf("year %s is closed", yearID)
		}

		sub = core.Subscription{
			ID:           uuid.NewString(),
			ClubID:       principal.ClubID,
			YearID:       yearID,
			MemberID:     memberID,
			Installments: core.NewSchedule(year.Frequency, year.TotalInstallments, year.AmountPerInstallment),
			Version:      1,
		}
		var due int64
		for _, ins := range sub.Installments {
			due += ins.AmountExpected.Cents
		}
		sub.TotalDue = core.Money{Cents: due}

		if err := q.CreateSubscription(ctx, sub, now); err != nil {
			if storage.IsUniqueViolation(err) {
				return core.Conflictf("member %s already has a subscription for this year", memberID)
			}
			return core.WrapStore(err, "create subscription")
		}
		return nil
	})
	if err != nil {
		return core.Subscription{}, err
	}

	s.emit(ctx, audit.NewEvent(audit.ActionSubCreated, principal.ID, principal.ClubID,
		"subscription "+sub.ID, "member "+memberID))

	slog.InfoContext(ctx, "Subscription created",
		"club_id", principal.ClubID,
		"year_id", yearID,
		"subscription_id", sub.ID,
		"installments", len(sub.Installments))

	return sub, nil
}

// FindSubscription resolves a member's subscription in a year, for
// callers that know the member but not the subscription id.
func (s *PaymentService) FindSubscription(ctx context.Context, principal core.Principal, yearID, memberID string) (core.Subscription, error) {
	if yearID == "" {
		return core.Subscription{}, core.Validationf("year id is required")
	}
	if memberID == "" {
		return core.Subscription{}, core.Validationf("member id is required")
	}
	sub, err := s.store.Queries().GetSubscriptionByMember(ctx, principal.ClubID, yearID, memberID)
	if err != nil {
		if storage.IsNotFound(err) {
			return core.Subscription{}, core.Validationf("member %s has no subscription in year %s", memberID, yearID)
		}
		return core.Subscription{}, core.WrapStore(err, "load subscription")
	}
	return sub, nil
}

// RecordPaymentInput identifies the installment being collected.
type RecordPaymentInput struct {
	SubscriptionID string
	Seq            int
	IdempotencyKey string
}

// PaymentReceipt is the stored response body for a recorded payment.
type PaymentReceipt struct {
	SubscriptionID string `json:"subscription_id"`
	Seq            int    `json:"seq"`
	AmountCents    int64  `json:"amount_cents"`
	TotalPaidCents int64  `json:"total_paid_cents"`
	TotalDueCents  int64  `json:"total_due_cents"`
	PaidAt         string `json:"paid_at"`
}

// RecordPayment marks one installment paid, with at-most-once effect
// per idempotency key. Replayed reports whether the response came from
// the idempotency store rather than a fresh execution.
func (s *PaymentService) RecordPayment(ctx context.Context, principal core.Principal, in RecordPaymentInput) (idempotency.Response, bool, error) {
	if in.SubscriptionID == "" {
		return idempotency.Response{}, false, core.Validationf("subscription id is required")
	}
	if in.Seq <= 0 {
		return idempotency.Response{}, false, core.Validationf("installment sequence must be positive")
	}

	resp, replayed, err := s.guard.Do(ctx, in.IdempotencyKey, principal.ID, func(ctx context.Context) (idempotency.Response, error) {
		return s.recordPayment(ctx, principal, in)
	})
	if replayed {
		slog.InfoContext(ctx, "Payment request replayed from idempotency store",
			"club_id", principal.ClubID,
			"subscription_id", in.SubscriptionID,
			"key", in.IdempotencyKey)
	}
	return resp, replayed, err
}

// recordPayment is the guarded operation: one transaction that marks
// the installment paid and rewrites the cached totals together.
func (s *PaymentService) recordPayment(ctx context.Context, principal core.Principal, in RecordPaymentInput) (idempotency.Response, error) {
	now := s.now().UTC()
	var receipt PaymentReceipt
	err := s.store.InTx(ctx, func(q *storage.Queries) error {
		sub, err := q.GetSubscription(ctx, principal.ClubID, in.SubscriptionID)
		if err != nil {
			if storage.IsNotFound(err) {
				return core.Validationf("subscription %s not found", in.SubscriptionID)
			}
			return core.WrapStore(err, "load subscription")
		}

		year, err := q.GetYear(ctx, principal.ClubID, sub.YearID)
		if err != nil {
			return core.WrapStore(err, "load year")
		}
		if year.IsClosed {
			return core.Conflictf("year %s is closed", year.ID)
		}

		version := sub.Version
		if err := sub.MarkPaid(in.Seq, principal.ID, now); err != nil {
			switch {
			case errors.Is(err, core.ErrInstallmentPaid):
				return core.WrapConflict(err, "installment already collected")
			case errors.Is(err, core.ErrInstallmentNotFound):
				return core.Validationf("installment %d not found", in.Seq)
			default:
				return core.WrapValidation(err, "mark installment paid")
			}
		}

		// Version CAS serializes concurrent payments against the same
		// subscription; a lost race rolls back without side effects.
		if err := q.ReplaceSchedule(ctx, sub, version); err != nil {
			if storage.IsNotFound(err) {
				return core.Conflictf("subscription %s changed concurrently, retry", sub.ID)
			}
			return core.WrapStore(err, "persist payment")
		}

		receipt = PaymentReceipt{
			SubscriptionID: sub.ID,
			Seq:            in.Seq,
			AmountCents:    installmentAmount(sub, in.Seq),
			TotalPaidCents: sub.TotalPaid.Cents,
			TotalDueCents:  sub.TotalDue.Cents,
			PaidAt:         now.Format(time.RFC3339),
		}
		return nil
	})
	if err != nil {
		return idempotency.Response{}, err
	}

	s.emit(ctx, audit.NewEvent(audit.ActionPaymentRecorded, principal.ID, principal.ClubID,
		"subscription "+in.SubscriptionID,
		"installment "+core.FormatCents(receipt.AmountCents)))

	slog.InfoContext(ctx, "Payment recorded",
		"club_id", principal.ClubID,
		"subscription_id", in.SubscriptionID,
		"seq", in.Seq,
		"amount_cents", receipt.AmountCents)

	body, err := json.Marshal(receipt)
	if err != nil {
		return idempotency.Response{}, core.WrapComputation(err, "encode receipt")
	}
	return idempotency.Response{Status: http.StatusCreated, Body: body}, nil
}

func installmentAmount(sub core.Subscription, seq int) int64 {
	for _, ins := range sub.Installments {
		if ins.Seq == seq {
			return ins.AmountPaid.Cents
		}
	}
	return 0
}

func (s *PaymentService) emit(ctx context.Context, e audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "Failed to publish audit event",
			"action", e.Action, "error", err)
	}
}
