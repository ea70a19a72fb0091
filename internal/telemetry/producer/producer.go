// Package producer publishes session lifecycle events to a message broker.
package producer

import (
	"context"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/telemetry"
)

// Producer emits lifecycle events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; use telemetry.EmitAsync from request paths.
	Emit(ctx context.Context, event telemetry.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}

// Nop is a Producer that drops every event. Used when no broker is configured.
type Nop struct{}

// Emit implements Producer.
func (Nop) Emit(context.Context, telemetry.Event) error { return nil }

// Close implements Producer.
func (Nop) Close() error { return nil }
