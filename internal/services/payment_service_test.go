package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanda/internal/core"
)

func TestPaymentService_CreateSubscription(t *testing.T) {
	_, years, payments, _ := newTestServices(t)
	principal := testPrincipal()
	ctx := context.Background()

	year, err := years.Create(ctx, principal, monthlyYearInput("2026"))
	require.NoError(t, err)

	sub, err := payments.CreateSubscription(ctx, principal, year.ID, "member-1")
	require.NoError(t, err)
	assert.Len(t, sub.Installments, 10)
	assert.Equal(t, int64(50000), sub.TotalDue.Cents)
	assert.Zero(t, sub.TotalPaid.Cents)

	// One subscription per member per year.
	_, err = payments.CreateSubscription(ctx, principal, year.ID, "member-1")
	assert.True(t, core.IsConflict(err))

	_, err = payments.CreateSubscription(ctx, principal, "no-such-year", "member-2")
	assert.True(t, core.IsValidation(err))

	_, err = payments.CreateSubscription(ctx, principal, year.ID, "")
	assert.True(t, core.IsValidation(err))
}

func TestPaymentService_FindSubscription(t *testing.T) {
	_, years, payments, _ := newTestServices(t)
	principal := testPrincipal()
	ctx := context.Background()

	year, err := years.Create(ctx, principal, monthlyYearInput("2026"))
	require.NoError(t, err)
	created, err := payments.CreateSubscription(ctx, principal, year.ID, "member-1")
	require.NoError(t, err)

	found, err := payments.FindSubscription(ctx, principal, year.ID, "member-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Len(t, found.Installments, 10)

	_, err = payments.FindSubscription(ctx, principal, year.ID, "member-2")
	assert.True(t, core.IsValidation(err))

	_, err = payments.FindSubscription(ctx, principal, "", "member-1")
	assert.True(t, core.IsValidation(err))

	_, err = payments.FindSubscription(ctx, principal, year.ID, "")
	assert.True(t, core.IsValidation(err))

	// Another club cannot resolve the subscription.
	other := core.Principal{ID: "treasurer-2", ClubID: "club-2", Role: "treasurer"}
	_, err = payments.FindSubscription(ctx, other, year.ID, "member-1")
	assert.True(t, core.IsValidation(err))
}

func TestPaymentService_RecordPayment(t *testing.T) {
	_, years, payments, _ := newTestServices(t)
	principal := testPrincipal()
	ctx := context.Background()

	year, err := years.Create(ctx, principal, monthlyYearInput("2026"))
	require.NoError(t, err)
	sub, err := payments.CreateSubscription(ctx, principal, year.ID, "member-1")
	require.NoError(t, err)

	resp, replayed, err := payments.RecordPayment(ctx, principal, RecordPaymentInput{
		SubscriptionID: sub.ID, Seq: 1, IdempotencyKey: "pay-1",
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, http.StatusCreated, resp.Status)

	var receipt PaymentReceipt
	require.NoError(t, json.Unmarshal(resp.Body, &receipt))
	assert.Equal(t, sub.ID, receipt.SubscriptionID)
	assert.Equal(t, 1, receipt.Seq)
	assert.Equal(t, int64(5000), receipt.AmountCents)
	assert.Equal(t, int64(5000), receipt.TotalPaidCents)
	assert.Equal(t, int64(45000), receipt.TotalDueCents)
}

func TestPaymentService_RecordPaymentIsIdempotent(t *testing.T) {
	_, years, payments, _ := newTestServices(t)
	principal := testPrincipal()
	ctx := context.Background()

	year, err := years.Create(ctx, principal, monthlyYearInput("2026"))
	require.NoError(t, err)
	sub, err := payments.CreateSubscription(ctx, principal, year.ID, "member-1")
	require.NoError(t, err)

	in := RecordPaymentInput{SubscriptionID: sub.ID, Seq: 1, IdempotencyKey: "pay-1"}

	first, replayed, err := payments.RecordPayment(ctx, principal, in)
	require.NoError(t, err)
	assert.False(t, replayed)

	// The same key replays the stored receipt without a second mutation.
	second, replayed, err := payments.RecordPayment(ctx, principal, in)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.Status, second.Status)
	assert.JSONEq(t, string(first.Body), string(second.Body))

	// A fresh key against the same installment hits the paid guard.
	resp, replayed, err := payments.RecordPayment(ctx, principal, RecordPaymentInput{
		SubscriptionID: sub.ID, Seq: 1, IdempotencyKey: "pay-1-retry",
	})
	require.Error(t, err)
	assert.True(t, core.IsConflict(err))
	assert.False(t, replayed)
	assert.Equal(t, http.StatusConflict, resp.Status)

	// Sum of paid amounts still reflects exactly one collection.
	var receipt PaymentReceipt
	require.NoError(t, json.Unmarshal(first.Body, &receipt))
	assert.Equal(t, int64(5000), receipt.TotalPaidCents)
}

func TestPaymentService_RecordPaymentValidation(t *testing.T) {
	_, years, payments, _ := newTestServices(t)
	principal := testPrincipal()
	ctx := context.Background()

	year, err := years.Create(ctx, principal, monthlyYearInput("2026"))
	require.NoError(t, err)
	sub, err := payments.CreateSubscription(ctx, principal, year.ID, "member-1")
	require.NoError(t, err)

	_, _, err = payments.RecordPayment(ctx, principal, RecordPaymentInput{
		SubscriptionID: "", Seq: 1, IdempotencyKey: "k1",
	})
	assert.True(t, core.IsValidation(err))

	_, _, err = payments.RecordPayment(ctx, principal, RecordPaymentInput{
		SubscriptionID: sub.ID, Seq: 0, IdempotencyKey: "k2",
	})
	assert.True(t, core.IsValidation(err))

	_, _, err = payments.RecordPayment(ctx, principal, RecordPaymentInput{
		SubscriptionID: sub.ID, Seq: 1, IdempotencyKey: "",
	})
	assert.True(t, core.IsValidation(err))

	_, _, err = payments.RecordPayment(ctx, principal, RecordPaymentInput{
		SubscriptionID: sub.ID, Seq: 99, IdempotencyKey: "k3",
	})
	assert.True(t, core.IsValidation(err), "unknown installment sequence")
}

func TestPaymentService_RecordPaymentRefusesClosedYear(t *testing.T) {
	_, years, payments, _ := newTestServices(t)
	principal := testPrincipal()
	ctx := context.Background()

	year, err := years.Create(ctx, principal, monthlyYearInput("2026"))
	require.NoError(t, err)
	sub, err := payments.CreateSubscription(ctx, principal, year.ID, "member-1")
	require.NoError(t, err)
	_, err = years.Close(ctx, principal, year.ID)
	require.NoError(t, err)

	_, _, err = payments.RecordPayment(ctx, principal, RecordPaymentInput{
		SubscriptionID: sub.ID, Seq: 1, IdempotencyKey: "late-pay",
	})
	assert.True(t, core.IsConflict(err))
}

func TestPaymentService_ClubScoping(t *testing.T) {
	_, years, payments, _ := newTestServices(t)
	ctx := context.Background()

	owner := testPrincipal()
	year, err := years.Create(ctx, owner, monthlyYearInput("2026"))
	require.NoError(t, err)
	sub, err := payments.CreateSubscription(ctx, owner, year.ID, "member-1")
	require.NoError(t, err)

	// A principal from another club cannot see the subscription.
	outsider := core.Principal{ID: "treasurer-2", ClubID: "club-2", Role: "treasurer"}
	_, _, err = payments.RecordPayment(ctx, outsider, RecordPaymentInput{
		SubscriptionID: sub.ID, Seq: 1, IdempotencyKey: "cross-club",
	})
	assert.True(t, core.IsValidation(err))
}
