package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chanda/internal/audit"
	"chanda/internal/cli"
	"chanda/internal/export"
	"chanda/internal/idempotency"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting chanda-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	store := cli.InitStore(logger, cfg.SQLiteDBPath)
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	// Report export runs only when a spreadsheet is configured.
	if cfg.SpreadsheetID != "" {
		appender, err := export.NewSheetsExporter(ctx, cfg.SpreadsheetID, cfg.ReportSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", "error", err)
			os.Exit(1)
		}
		logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.SpreadsheetID)

		workerCfg := export.DefaultWorkerConfig()
		workerCfg.PollInterval = cfg.ExportInterval
		workerCfg.BatchSize = cfg.ExportBatchSize

		worker := export.NewWorker(store, appender, workerCfg)
		if err := worker.Start(ctx); err != nil {
			logger.Error("Failed to start export worker", "error", err)
			os.Exit(1)
		}

		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return worker.Stop(shutdownCtx)
		})
	} else {
		logger.Info("Report export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	// Audit events are drained into the worker's structured log, which
	// is the durable audit trail.
	if cfg.AMQPURL != "" {
		auditSub, err := audit.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to connect to AMQP", "error", err)
			os.Exit(1)
		}
		defer auditSub.Close()

		group.Go(func() error {
			err := auditSub.Consume(ctx, func(e audit.Event) error {
				logger.Info("Audit event",
					"action", e.Action,
					"actor_id", e.ActorID,
					"club_id", e.ClubID,
					"target", e.Target,
					"details", e.Details,
					"at", e.At)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("Audit consumer disabled - no AMQP_URL provided")
	}

	// Expired idempotency keys are purged on a fixed interval.
	guard := idempotency.New(store, cfg.IdempotencyTTL)
	group.Go(func() error {
		ticker := time.NewTicker(cfg.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				purged, err := guard.Purge(ctx)
				if err != nil {
					logger.Error("Idempotency purge failed", "error", err)
					continue
				}
				if purged > 0 {
					logger.Info("Purged expired idempotency keys", "count", purged)
				}
			}
		}
	})

	if err := group.Wait(); err != nil {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker stopped gracefully")
}
