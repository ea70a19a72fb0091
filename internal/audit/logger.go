package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actions recorded by the session registry.
const (
	ActionRegister    = "session.register"
	ActionSupersede   = "session.supersede"
	ActionForceLogout = "session.force_logout"
	ActionPurge       = "session.purge"
)

// IPExtractor returns the client IP carried in the request context.
type IPExtractor func(context.Context) string

// Event is one audit entry. ID and OccurredAt are filled in by the logger when empty.
type Event struct {
	ID               string
	Action           string
	Actor            string // subject that performed the action; empty for system jobs
	Subject          string // subject whose session was affected
	DeviceID         string
	TokenFingerprint string
	Count            int64
	OccurredAt       time.Time
}

// AuditLogger writes a single audit event. LogEvent is best-effort and never fails the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Event)
}

// Logger implements AuditLogger on a zap logger under the "audit" name.
type Logger struct {
	log         *zap.Logger
	ipExtractor IPExtractor
	now         func() time.Time
}

// NewLogger returns an AuditLogger writing to log. ipExtractor may be nil; then the IP is
// recorded as "unknown".
func NewLogger(log *zap.Logger, ipExtractor IPExtractor) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("audit"), ipExtractor: ipExtractor, now: time.Now}
}

// LogEvent writes one audit entry.
func (l *Logger) LogEvent(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now().UTC()
	}
	actor := e.Actor
	if actor == "" {
		actor = "system"
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}

	fields := []zap.Field{
		zap.String("audit_id", e.ID),
		zap.String("action", e.Action),
		zap.String("actor", actor),
		zap.String("subject", e.Subject),
		zap.String("ip", ip),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.DeviceID != "" {
		fields = append(fields, zap.String("device_id", e.DeviceID))
	}
	if e.TokenFingerprint != "" {
		fields = append(fields, zap.String("token_fp", e.TokenFingerprint))
	}
	if e.Action == ActionPurge {
		fields = append(fields, zap.Int64("count", e.Count))
	}
	l.log.Info("audit", fields...)
}

// Nop discards every event.
type Nop struct{}

// LogEvent implements AuditLogger.
func (Nop) LogEvent(context.Context, Event) {}
