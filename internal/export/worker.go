package export

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chanda/internal/services"
	"chanda/internal/storage"
)

// WorkerConfig holds configuration for the export worker.
type WorkerConfig struct {
	// PollInterval is how often to check for queued exports.
	PollInterval time.Duration

	// BatchSize is the max number of items per poll cycle.
	BatchSize int

	// MaxRetries is the attempt limit before an item is marked failed.
	MaxRetries int

	// CleanupInterval is how often completed items are swept.
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before removal.
	CleanupAge time.Duration
}

// DefaultWorkerConfig returns sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:    30 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// Worker drains the export queue into the report appender.
type Worker struct {
	store    *storage.Store
	appender ReportAppender
	config   WorkerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewWorker(store *storage.Store, appender ReportAppender, config WorkerConfig) *Worker {
	return &Worker{
		store:    store,
		appender: appender,
		config:   config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("export worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	slog.InfoContext(ctx, "Export worker started",
		"poll_interval", w.config.PollInterval,
		"batch_size", w.config.BatchSize)
	return nil
}

// Stop gracefully stops the worker and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		slog.InfoContext(ctx, "Export worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Export worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *Worker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	pollTicker := time.NewTicker(w.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(w.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Drain whatever queued up before we started.
	w.processBatch(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			w.processBatch(ctx)
		case <-cleanupTicker.C:
			w.cleanupCompleted(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	items, err := w.store.Queries().DequeuePendingExports(ctx, int64(w.config.BatchSize))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue exports", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	slog.DebugContext(ctx, "Processing export batch", "count", len(items))

	for _, item := range items {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := w.store.Queries().MarkExportProcessing(ctx, item.ID, time.Now()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark export processing",
				"id", item.ID, "error", err)
			continue
		}

		if err := w.exportItem(ctx, item); err != nil {
			w.handleFailure(ctx, item, err)
		} else {
			w.handleSuccess(ctx, item)
		}
	}
}

func (w *Worker) exportItem(ctx context.Context, item storage.ExportItem) error {
	q := w.store.Queries()
	year, err := q.GetYear(ctx, item.ClubID, item.YearID)
	if err != nil {
		return fmt.Errorf("load year %s: %w", item.YearID, err)
	}

	summary, err := services.Summarize(ctx, q, year)
	if err != nil {
		return fmt.Errorf("summarize year %s: %w", item.YearID, err)
	}

	if err := w.appender.AppendYearReport(ctx, summary); err != nil {
		return fmt.Errorf("append report: %w", err)
	}

	slog.InfoContext(ctx, "Exported year report",
		"club_id", item.ClubID,
		"year_id", item.YearID,
		"closing_cents", summary.Balance.Cents)
	return nil
}

func (w *Worker) handleSuccess(ctx context.Context, item storage.ExportItem) {
	if err := w.store.Queries().MarkExportComplete(ctx, item.ID, time.Now()); err != nil {
		slog.ErrorContext(ctx, "Failed to mark export complete",
			"id", item.ID, "error", err)
	}
}

func (w *Worker) handleFailure(ctx context.Context, item storage.ExportItem, exportErr error) {
	slog.WarnContext(ctx, "Export failed",
		"id", item.ID,
		"year_id", item.YearID,
		"attempt", item.Attempts+1,
		"error", exportErr)

	if item.Attempts+1 >= int64(w.config.MaxRetries) {
		if err := w.store.Queries().MarkExportFailed(ctx, item.ID, exportErr.Error(), time.Now()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark export failed",
				"id", item.ID, "error", err)
		}
		slog.ErrorContext(ctx, "Export failed permanently after max retries",
			"id", item.ID,
			"year_id", item.YearID,
			"attempts", item.Attempts+1)
		return
	}

	if err := w.store.Queries().RequeueExport(ctx, item.ID, exportErr.Error(), time.Now()); err != nil {
		slog.ErrorContext(ctx, "Failed to requeue export",
			"id", item.ID, "error", err)
	}
}

func (w *Worker) cleanupCompleted(ctx context.Context) {
	cutoff := time.Now().Add(-w.config.CleanupAge)
	if err := w.store.Queries().CleanupCompletedExports(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed exports", "error", err)
	}
}
