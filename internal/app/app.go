// Package app wires configuration into the session store, telemetry and registry
// shared by the server, worker and seed binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/audit"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/config"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/db"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/security"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/server/middleware"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/repository"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/service"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/telemetry"
	otelsetup "github.com/shreyash1231/DeviceloginBackendFastApi/internal/telemetry/otel"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/telemetry/producer"
)

// OpenStore connects the session store selected by cfg.SessionStore.
// The returned close func releases the underlying connection and is never nil.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func() error, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.SessionStore {
	case config.StorePostgres:
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info("session store: postgres")
		return repository.NewPostgresStore(sqlDB), sqlDB.Close, nil
	case config.StoreRedis:
		client, err := repository.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		log.Info("session store: redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		return repository.NewRedisStore(client, repository.WithPrefix(cfg.RedisKeyPrefix)), client.Close, nil
	case config.StoreMemory, "":
		log.Warn("session store: memory; sessions are lost on restart")
		return repository.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// Telemetry holds the OpenTelemetry providers and the lifecycle event emitter.
type Telemetry struct {
	Providers *otelsetup.Providers
	Emitter   telemetry.EventEmitter
	producer  producer.Producer
}

// NewTelemetry builds OTLP providers (no-op without an endpoint), installs them as globals and
// fans lifecycle events out to the OTel log pipeline and, when KAFKA_BROKERS is set, Kafka.
func NewTelemetry(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Telemetry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	providers, err := otelsetup.NewProviders(ctx, cfg.OTelEndpoint, cfg.ServiceName, cfg.OTelInsecure, log)
	if err != nil {
		return nil, fmt.Errorf("otel providers: %w", err)
	}
	providers.SetGlobal()

	t := &Telemetry{Providers: providers, producer: producer.Nop{}}
	emitters := telemetry.MultiEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp, err := producer.NewKafkaProducer(brokers, cfg.SessionEventsTopic)
		if err != nil {
			_ = providers.Shutdown(ctx)
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		log.Info("session events: kafka", zap.Strings("brokers", brokers), zap.String("topic", kp.Topic()))
		t.producer = kp
		emitters = append(emitters, kp)
	}
	t.Emitter = emitters
	return t, nil
}

// Shutdown closes the event producer and flushes the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.producer != nil {
		errs = append(errs, t.producer.Close())
	}
	if t.Providers != nil && t.Providers.Shutdown != nil {
		errs = append(errs, t.Providers.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// NewRegistry builds the session registry from cfg. tel may be nil; the registry then uses the otel globals
// and emits no lifecycle events.
func NewRegistry(cfg *config.Config, store repository.Store, tel *Telemetry, log *zap.Logger) (*service.Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	gen, err := security.SessionTokenGenerator(cfg.SessionTokenBytes)
	if err != nil {
		return nil, err
	}
	opts := []service.Option{
		service.WithTokenGenerator(gen),
		service.WithStoreTimeout(cfg.SessionStoreTimeout),
		service.WithDeviceLimit(cfg.SessionDeviceLimit),
		service.WithLogger(log),
		service.WithAuditLogger(audit.NewLogger(log, middleware.ClientIPFromContext)),
	}
	if tel != nil {
		opts = append(opts,
			service.WithEventEmitter(tel.Emitter),
			service.WithTracerProvider(tel.Providers.TracerProvider),
			service.WithMeterProvider(tel.Providers.MeterProvider),
		)
	}
	return service.NewRegistry(store, opts...)
}
