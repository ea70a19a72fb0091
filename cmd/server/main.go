// server runs the device session HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/app"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/config"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/logger"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/policy/engine"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/security"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/server"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
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

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := app.NewTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	store, closeStore, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("close session store", zap.Error(err))
		}
	}()

	registry, err := app.NewRegistry(cfg, store, tel, log)
	if err != nil {
		return err
	}

	verifier, err := security.NewSubjectVerifier(cfg.VerifierConfig())
	if err != nil {
		return fmt.Errorf("bearer verifier: %w", err)
	}
	if !verifier.Verified() {
		log.Warn("bearer tokens are decoded without signature verification; set JWT_HS256_SECRET or JWT_PUBLIC_KEY")
	}

	policy := ""
	if cfg.PolicyFile != "" {
		if policy, err = engine.LoadPolicyFile(cfg.PolicyFile); err != nil {
			return err
		}
	}
	authz, err := engine.NewOPAEvaluator(ctx, policy, log)
	if err != nil {
		return fmt.Errorf("revoke policy: %w", err)
	}

	handler, err := server.NewRouter(server.Deps{
		Registry:            registry,
		Verifier:            verifier,
		Authorizer:          authz,
		HealthPinger:        registry,
		HealthPolicyChecker: authz,
		CORSOrigins:         cfg.CORSOrigins(),
		Logger:              log,
		TracerProvider:      tel.Providers.TracerProvider,
		MeterProvider:       tel.Providers.MeterProvider,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.SessionStore),
			zap.Bool("otel_exporting", tel.Providers.Exporting),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	// let in-flight async event emits finish before the producers close
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Info("http server stopped")
	return nil
}
