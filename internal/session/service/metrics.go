package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/service"

// Validation results recorded on session.validations.
const (
	resultValid   = "valid"
	resultInvalid = "invalid"
	resultError   = "error"
)

type registryMetrics struct {
	registrations metric.Int64Counter
	revocations   metric.Int64Counter
	validations   metric.Int64Counter
	storeErrors   metric.Int64Counter
}

func newRegistryMetrics(mp metric.MeterProvider) (*registryMetrics, error) {
	meter := mp.Meter(instrumentationName)
	var (
		m   registryMetrics
		err error
	)
	if m.registrations, err = meter.Int64Counter("session.registrations",
		metric.WithDescription("Sessions registered, by whether a previous session was superseded.")); err != nil {
		return nil, err
	}
	if m.revocations, err = meter.Int64Counter("session.revocations",
		metric.WithDescription("Sessions moved to REVOKED, by reason.")); err != nil {
		return nil, err
	}
	if m.validations, err = meter.Int64Counter("session.validations",
		metric.WithDescription("Protected-resource validations, by result.")); err != nil {
		return nil, err
	}
	if m.storeErrors, err = meter.Int64Counter("session.store.errors",
		metric.WithDescription("Session store failures, by operation.")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *registryMetrics) registered(ctx context.Context, superseded bool) {
	m.registrations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("superseded", superseded)))
}

func (m *registryMetrics) revoked(ctx context.Context, reason string) {
	m.revocations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *registryMetrics) validated(ctx context.Context, result string) {
	m.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *registryMetrics) storeFailed(ctx context.Context, op string) {
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
