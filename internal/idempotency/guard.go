// Package idempotency deduplicates payment-class mutations. A caller
// supplies a key with the request; the guard guarantees the wrapped
// operation takes effect at most once per (key, actor) within the
// retention window, and that retries see the original response.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chanda/internal/core"
	"chanda/internal/storage"
)

// DefaultTTL is the retention window after which a key may be reused.
const DefaultTTL = 24 * time.Hour

// Response is what the guard stores and replays for a key.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Guard wraps mutating operations with idempotency-key bookkeeping.
type Guard struct {
	store *storage.Store
	ttl   time.Duration
	now   func() time.Time
}

func New(store *storage.Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Do executes op under the given key for the given actor.
//
// The placeholder insert is the single synchronization point: exactly
// one request claims the key, every concurrent duplicate gets a
// conflict, and a retry after completion gets the stored response
// verbatim (replayed=true) without op running again. A server-side
// failure releases the key so a clean retry can execute.
func (g *Guard) Do(ctx context.Context, key, actorID string, op func(ctx context.Context) (Response, error)) (Response, bool, error) {
	if key == "" {
		return Response{}, false, core.Validationf("idempotency key is required")
	}
	if actorID == "" {
		return Response{}, false, core.Validationf("acting principal is required")
	}

	now := g.now()
	if err := g.claim(ctx, key, actorID, now); err != nil {
		if !storage.IsUniqueViolation(err) {
			return Response{}, false, err
		}
		resp, rErr := g.resolveExisting(ctx, key, actorID, now)
		if rErr != nil {
			return Response{}, false, rErr
		}
		return resp, true, nil
	}

	resp, opErr := op(ctx)
	if opErr != nil {
		kind := core.KindOf(opErr)
		if kind == core.KindValidation || kind == core.KindConflict {
			// Client errors are final: store them so a retry with the
			// same key replays the rejection instead of re-executing.
			stored := errorResponse(kind, opErr)
			g.storeResponse(ctx, key, actorID, stored)
			return stored, false, opErr
		}
		// Server-side failure: release the key for a clean retry.
		if err := g.store.Queries().DeleteIdempotencyRecord(ctx, key, actorID); err != nil {
			slog.ErrorContext(ctx, "Failed to release idempotency key",
				"key", key, "error", err)
		}
		return Response{}, false, opErr
	}

	g.storeResponse(ctx, key, actorID, resp)
	return resp, false, nil
}

// claim inserts the placeholder, clearing an expired leftover first if
// one is blocking the key.
func (g *Guard) claim(ctx context.Context, key, actorID string, now time.Time) error {
	q := g.store.Queries()
	err := q.InsertIdempotencyPlaceholder(ctx, key, actorID, now, now.Add(g.ttl))
	if err == nil {
		return nil
	}
	if !storage.IsUniqueViolation(err) {
		return core.WrapStore(err, "claim idempotency key")
	}

	// The slot is taken. If only by an expired record, reclaim it once.
	// The delete is constrained to the expired row so a concurrent
	// reclaimer's fresh placeholder survives; the re-insert below then
	// reports the unique violation instead of a second execution.
	if _, getErr := q.GetIdempotencyRecord(ctx, key, actorID, now); storage.IsNotFound(getErr) {
		if delErr := q.DeleteExpiredIdempotencyRecord(ctx, key, actorID, now); delErr != nil {
			return core.WrapStore(delErr, "reclaim expired idempotency key")
		}
		if retryErr := q.InsertIdempotencyPlaceholder(ctx, key, actorID, now, now.Add(g.ttl)); retryErr != nil {
			if storage.IsUniqueViolation(retryErr) {
				return retryErr
			}
			return core.WrapStore(retryErr, "claim idempotency key")
		}
		return nil
	}
	return err
}

// resolveExisting inspects the record that blocked the claim: a stored
// response is replayed, a bare placeholder means another request is
// still in flight.
func (g *Guard) resolveExisting(ctx context.Context, key, actorID string, now time.Time) (Response, error) {
	rec, err := g.store.Queries().GetIdempotencyRecord(ctx, key, actorID, now)
	if err != nil {
		if storage.IsNotFound(err) {
			// Raced with a server-error cleanup; let the caller retry.
			return Response{}, core.Conflictf("request with this idempotency key is in progress, retry later")
		}
		return Response{}, core.WrapStore(err, "load idempotency record")
	}
	if rec.Status == nil {
		return Response{}, core.Conflictf("request with this idempotency key is in progress")
	}
	return Response{
		Status: *rec.Status,
		Body:   json.RawMessage(rec.ResponseBody),
	}, nil
}

func (g *Guard) storeResponse(ctx context.Context, key, actorID string, resp Response) {
	err := g.store.Queries().StoreIdempotencyResponse(ctx, key, actorID, resp.Status, string(resp.Body))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to store idempotency response",
			"key", key, "error", err)
	}
}

// Purge removes keys past their retention window.
func (g *Guard) Purge(ctx context.Context) (int64, error) {
	n, err := g.store.Queries().PurgeExpiredIdempotencyKeys(ctx, g.now())
	if err != nil {
		return 0, core.WrapStore(err, "purge idempotency keys")
	}
	if n > 0 {
		slog.InfoContext(ctx, "Purged expired idempotency keys", "count", n)
	}
	return n, nil
}

func errorResponse(kind core.Kind, err error) Response {
	status := http.StatusBadRequest
	if kind == core.KindConflict {
		status = http.StatusConflict
	}
	var e *core.Error
	msg := err.Error()
	if errors.As(err, &e) {
		msg = e.Message
	}
	body, mErr := json.Marshal(map[string]string{"kind": string(kind), "error": msg})
	if mErr != nil {
		body = []byte(fmt.Sprintf(`{"kind":%q}`, kind))
	}
	return Response{Status: status, Body: body}
}
