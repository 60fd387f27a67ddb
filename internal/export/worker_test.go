package export

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanda/internal/core"
	"chanda/internal/storage"
)

type fakeAppender struct {
	appended []core.YearSummary
	err      error
}

func (f *fakeAppender) AppendYearReport(_ context.Context, sum core.YearSummary) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, sum)
	return nil
}

func newExportFixture(t *testing.T, appender ReportAppender) (*storage.Store, *Worker) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := DefaultWorkerConfig()
	cfg.MaxRetries = 2
	return store, NewWorker(store, appender, cfg)
}

func seedClosedYear(t *testing.T, store *storage.Store, yearID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	year := core.Year{
		ID:                   yearID,
		ClubID:               "club-1",
		Name:                 "Festival " + yearID,
		StartDate:            now.AddDate(-1, 0, 0),
		EndDate:              now,
		Frequency:            core.Monthly,
		TotalInstallments:    10,
		AmountPerInstallment: core.Money{Cents: 5000},
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	q := store.Queries()
	require.NoError(t, q.CreateYear(ctx, year))
	require.NoError(t, q.RetireYear(ctx, "club-1", yearID, core.Money{Cents: 4200}, now))
	require.NoError(t, q.EnqueueExport(ctx, "club-1", yearID, now))
}

func TestWorker_ProcessBatchExportsAndCompletes(t *testing.T) {
	appender := &fakeAppender{}
	store, worker := newExportFixture(t, appender)
	ctx := context.Background()

	seedClosedYear(t, store, "y1")

	worker.processBatch(ctx)

	require.Len(t, appender.appended, 1)
	assert.Equal(t, "y1", appender.appended[0].Year.ID)

	items, err := store.Queries().DequeuePendingExports(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items, "completed item must leave the pending queue")
}

func TestWorker_FailureRetriesThenGivesUp(t *testing.T) {
	appender := &fakeAppender{err: errors.New("sheets unavailable")}
	store, worker := newExportFixture(t, appender)
	ctx := context.Background()

	seedClosedYear(t, store, "y1")

	// First attempt fails and requeues.
	worker.processBatch(ctx)
	items, err := store.Queries().DequeuePendingExports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].Attempts)
	assert.Contains(t, items[0].LastError, "sheets unavailable")

	// Second attempt exhausts MaxRetries and parks the item as failed.
	worker.processBatch(ctx)
	items, err = store.Queries().DequeuePendingExports(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	// A later recovery does not resurrect it.
	appender.err = nil
	worker.processBatch(ctx)
	assert.Empty(t, appender.appended)
}

func TestWorker_StartStop(t *testing.T) {
	appender := &fakeAppender{}
	_, worker := newExportFixture(t, appender)
	ctx := context.Background()

	require.NoError(t, worker.Start(ctx))
	assert.Error(t, worker.Start(ctx), "double start must be rejected")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, worker.Stop(stopCtx))
	require.NoError(t, worker.Stop(stopCtx), "stop is idempotent")

	// The worker can be restarted after a clean stop.
	require.NoError(t, worker.Start(ctx))
	require.NoError(t, worker.Stop(stopCtx))
}
