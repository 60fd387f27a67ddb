package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanda/internal/core"
	"chanda/internal/storage"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, DefaultTTL)
}

func okOp(body string) func(context.Context) (Response, error) {
	return func(context.Context) (Response, error) {
		return Response{Status: http.StatusCreated, Body: json.RawMessage(body)}, nil
	}
}

func TestDo_RequiresKeyAndActor(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	_, _, err := g.Do(ctx, "", "actor-1", okOp(`{}`))
	assert.True(t, core.IsValidation(err))

	_, _, err = g.Do(ctx, "k1", "", okOp(`{}`))
	assert.True(t, core.IsValidation(err))
}

func TestDo_ExecutesOnceAndReplays(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (Response, error) {
		calls++
		return Response{Status: http.StatusCreated, Body: json.RawMessage(`{"seq":1}`)}, nil
	}

	resp, replayed, err := g.Do(ctx, "k1", "actor-1", op)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, 1, calls)

	resp2, replayed, err := g.Do(ctx, "k1", "actor-1", op)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, resp.Status, resp2.Status)
	assert.JSONEq(t, string(resp.Body), string(resp2.Body))
	assert.Equal(t, 1, calls, "a replay must not run the operation again")
}

func TestDo_KeysAreScopedPerActor(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (Response, error) {
		calls++
		return Response{Status: http.StatusCreated, Body: json.RawMessage(`{}`)}, nil
	}

	_, _, err := g.Do(ctx, "k1", "actor-1", op)
	require.NoError(t, err)
	_, replayed, err := g.Do(ctx, "k1", "actor-2", op)
	require.NoError(t, err)
	assert.False(t, replayed, "same key under a different actor is a distinct request")
	assert.Equal(t, 2, calls)
}

func TestDo_InFlightDuplicateConflicts(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	// First request claims the key and then observes a duplicate arriving
	// before it finishes.
	_, _, err := g.Do(ctx, "k1", "actor-1", func(context.Context) (Response, error) {
		_, _, dupErr := g.Do(ctx, "k1", "actor-1", okOp(`{}`))
		assert.True(t, core.IsConflict(dupErr), "concurrent duplicate must be rejected, got %v", dupErr)
		return Response{Status: http.StatusCreated, Body: json.RawMessage(`{}`)}, nil
	})
	require.NoError(t, err)
}

func TestDo_ClientErrorIsStoredAndReplayed(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (Response, error) {
		calls++
		return Response{}, core.Conflictf("installment already collected")
	}

	resp, replayed, err := g.Do(ctx, "k1", "actor-1", op)
	require.Error(t, err)
	assert.True(t, core.IsConflict(err))
	assert.False(t, replayed)
	assert.Equal(t, http.StatusConflict, resp.Status)

	// The retry replays the stored rejection without re-executing.
	resp2, replayed, err := g.Do(ctx, "k1", "actor-1", op)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, http.StatusConflict, resp2.Status)
	assert.JSONEq(t, string(resp.Body), string(resp2.Body))
	assert.Equal(t, 1, calls)
}

func TestDo_ServerErrorReleasesKey(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	_, _, err := g.Do(ctx, "k1", "actor-1", func(context.Context) (Response, error) {
		calls++
		return Response{}, core.WrapStore(assert.AnError, "persist payment")
	})
	require.Error(t, err)
	assert.True(t, core.IsStore(err))

	// The key was released, so a clean retry executes again.
	resp, replayed, err := g.Do(ctx, "k1", "actor-1", func(context.Context) (Response, error) {
		calls++
		return Response{Status: http.StatusCreated, Body: json.RawMessage(`{}`)}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, 2, calls)
}

func TestDo_ExpiredKeyIsReclaimed(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return current }

	_, _, err := g.Do(ctx, "k1", "actor-1", okOp(`{"v":1}`))
	require.NoError(t, err)

	// Within the window the stored response still wins.
	current = current.Add(time.Hour)
	resp, replayed, err := g.Do(ctx, "k1", "actor-1", okOp(`{"v":2}`))
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.JSONEq(t, `{"v":1}`, string(resp.Body))

	// Past the window the key is free again.
	current = current.Add(DefaultTTL)
	resp, replayed, err = g.Do(ctx, "k1", "actor-1", okOp(`{"v":2}`))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.JSONEq(t, `{"v":2}`, string(resp.Body))
}

func TestPurge(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return current }

	_, _, err := g.Do(ctx, "k1", "actor-1", okOp(`{}`))
	require.NoError(t, err)
	_, _, err = g.Do(ctx, "k2", "actor-1", okOp(`{}`))
	require.NoError(t, err)

	n, err := g.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	current = current.Add(DefaultTTL + time.Minute)
	n, err = g.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
