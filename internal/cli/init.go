// Package cli provides common initialization shared by cmd/settleup and
// cmd/settleup-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"settleup/internal/cache"
	"settleup/internal/config"
	"settleup/internal/core"
	"settleup/internal/log"
	"settleup/internal/ports"
	"settleup/internal/services"
	"settleup/internal/settlement"
)

// cacheSweepInterval is how often expired summaries are dropped.
const cacheSweepInterval = time.Minute

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it with validate.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(validate func(*config.Config) error) (*config.Config, *log.Logger) {
	cfg := config.Load()
	logger := SetupLogger(cfg)
	if err := validate(cfg); err != nil {
		logger.Error("Configuration validation failed", log.FieldOperation, log.OpValidate, log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// EngineConfig maps the SETTLEMENT_* settings onto the engine. A negative
// minor-unit count leaves amounts unrounded.
func EngineConfig(cfg *config.Config) settlement.Config {
	ec := settlement.DefaultConfig()
	if cfg.SettlementEpsilon > 0 {
		ec.Epsilon = cfg.SettlementEpsilon
	}
	if cfg.SettlementMaxParticipants > 0 {
		ec.MaxParticipants = cfg.SettlementMaxParticipants
	}
	ec.Round = cfg.SettlementMinorUnits >= 0
	if ec.Round {
		ec.MinorUnits = int32(cfg.SettlementMinorUnits)
	}
	return ec
}

// NewSettlementService builds the settlement service with its summary cache
// registered on manager. A zero cache size disables caching.
func NewSettlementService(cfg *config.Config, store ports.Store, manager *cache.Manager, logger *log.Logger) *services.SettlementService {
	var summaries *cache.LRUCache[core.SettlementSummary]
	if cfg.SettlementCacheSize > 0 {
		summaries = cache.NewLRUCache[core.SettlementSummary](cfg.SettlementCacheSize, cfg.SettlementCacheTTL)
		if manager != nil {
			manager.Register(summaries)
		}
	}
	engine := settlement.New(EngineConfig(cfg))
	return services.NewSettlementService(store, store, engine, summaries, logger)
}

// StartCacheManager creates a cache manager sweeping expired entries until
// ctx is done.
func StartCacheManager(ctx context.Context, logger *log.Logger) *cache.Manager {
	m := cache.NewManager(logger)
	m.StartCleanup(ctx, cacheSweepInterval)
	return m
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown, "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached", log.FieldOperation, log.OpShutdown)
		} else {
			logger.Info("Shutdown complete", log.FieldOperation, log.OpShutdown)
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
