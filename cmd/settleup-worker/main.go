package main

import (
	"context"
	"os"
	"time"

	"settleup/internal/amqp"
	"settleup/internal/cli"
	"settleup/internal/config"
	"settleup/internal/log"
	gsheet "settleup/internal/sheets/google"
	"settleup/internal/storage"
	"settleup/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig((*config.Config).ValidateWorker)
	logger.Info("Starting settleup-worker", log.FieldOperation, log.OpStartup)

	// The worker reads the ledger the server writes, so it always uses SQLite.
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()
	repo.SetLogger(logger)

	creds, err := gsheet.CredentialsFromConfig(cfg.GoogleServiceAccountJSON, cfg.GoogleServiceAccountFile)
	if err != nil {
		logger.Error("Failed to load Google credentials", log.FieldError, err)
		os.Exit(1)
	}
	exporter, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, creds, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets exporter", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	cacheManager := cli.StartCacheManager(ctx, logger)
	defer cacheManager.Stop()

	summaries := cli.NewSettlementService(cfg, repo, cacheManager, logger)
	w := worker.NewSettlementWorker(repo, summaries, exporter, cfg.WorkerConcurrency, logger)

	dial := func() (amqp.Consumer, error) {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	if err := w.Run(ctx, dial, cfg.WorkerConcurrency, cfg.ResyncInterval); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete", log.FieldOperation, log.OpShutdown)
}
