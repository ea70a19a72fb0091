// Package telemetry carries session lifecycle events to downstream consumers
// (Kafka, OpenTelemetry logs). Emission is best-effort and never affects the caller.
package telemetry

import (
	"context"
	"time"
)

// Event types.
const (
	EventSessionRegistered = "session.registered"
	EventSessionRevoked    = "session.revoked"
)

// Revocation reasons carried on EventSessionRevoked.
const (
	ReasonSuperseded  = "superseded"
	ReasonForceLogout = "force_logout"
)

// Event is one session lifecycle change. Raw tokens never leave the process;
// TokenHash is the SHA-256 of the token so consumers holding hashed caches can evict.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Subject    string    `json:"subject"`
	DeviceID   string    `json:"device_id"`
	TokenHash  string    `json:"token_hash"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventEmitter emits lifecycle events. Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) error
}

// MultiEmitter fans an event out to every emitter and returns the first error.
type MultiEmitter []EventEmitter

// Emit implements EventEmitter.
func (m MultiEmitter) Emit(ctx context.Context, event Event) error {
	var first error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
