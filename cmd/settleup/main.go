package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"settleup/internal/backend"
	"settleup/internal/cli"
	"settleup/internal/config"
	apphttp "settleup/internal/http"
	"settleup/internal/log"
	"settleup/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig((*config.Config).Validate)
	logger.Info("Starting settleup server", log.FieldOperation, log.OpStartup)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldOperation, log.OpValidate, log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldOperation, log.OpStartup, log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	}()

	cacheCtx, stopCache := context.WithCancel(context.Background())
	defer stopCache()
	cacheManager := cli.StartCacheManager(cacheCtx, logger)

	summaries := cli.NewSettlementService(cfg, res.Store, cacheManager, logger)
	expenses := services.NewExpenseService(res.Store, res.Publisher, summaries, logger)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		ReadyChecks: map[string]apphttp.ReadinessCheck{
			cfg.DataBackend: apphttp.ReadinessCheck(res.Ready),
		},
	}, expenses, summaries, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldOperation, log.OpShutdown, log.FieldError, err)
		}
		cacheManager.Stop()
	})

	logger.Info("Listening", "port", cfg.Port, "backend", cfg.DataBackend, "events", res.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
