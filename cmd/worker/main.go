// Worker purges long-revoked sessions on RETENTION_SCHEDULE.
// Set SESSION_STORE and its connection settings, RETENTION_REVOKED and RETENTION_SCHEDULE.
// HTTP_ADDR is read by config but unused.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/app"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/config"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/logger"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/retention"
)

const stopTimeout = 2 * time.Minute

func main() {
	once := flag.Bool("once", false, "Purge once and exit instead of running the schedule")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("worker")

	if err := run(cfg, log, *once); err != nil {
		log.Fatal("worker exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SessionStore == config.StoreMemory {
		log.Warn("worker: memory store holds nothing to purge outside the server process")
	}

	tel, err := app.NewTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	store, closeStore, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	registry, err := app.NewRegistry(cfg, store, tel, log)
	if err != nil {
		return err
	}
	sweeper, err := retention.NewSweeper(registry, cfg.RetentionRevoked, cfg.RetentionSchedule, log)
	if err != nil {
		return err
	}

	if once {
		n, err := sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info("worker: purged revoked sessions", zap.Int64("deleted", n))
		return nil
	}

	sweeper.Start()
	log.Info("worker: running",
		zap.String("schedule", cfg.RetentionSchedule),
		zap.Duration("retention", cfg.RetentionRevoked),
	)
	<-ctx.Done()

	log.Info("worker: shutting down...")
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := sweeper.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop sweeper: %w", err)
	}
	log.Info("worker: stopped")
	return nil
}
