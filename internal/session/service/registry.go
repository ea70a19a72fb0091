// Package service implements the session registry: registration with per-device
// supersession, listing, force-logout and validation of session tokens.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/audit"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/security"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/domain"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/repository"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/telemetry"
)

// DefaultStoreTimeout bounds each store call unless overridden with WithStoreTimeout.
const DefaultStoreTimeout = 3 * time.Second

// mintAttempts is how many fresh tokens Register tries when the store reports a token clash.
const mintAttempts = 3

// Store operation names used in StoreError.Op and the session.store.errors metric.
const (
	opReplaceActive = "replace_active"
	opGetByToken    = "get_by_token"
	opGetByPair     = "get_by_subject_and_device"
	opList          = "list_by_subject"
	opUpdateStatus  = "update_status"
	opTouch         = "touch_last_seen"
	opDeleteRevoked = "delete_revoked_before"
)

// Registry owns the lifecycle of session records. It keeps no in-process session state,
// so any number of instances may share one store.
type Registry struct {
	store        repository.Store
	now          func() time.Time
	newToken     func() (string, error)
	storeTimeout time.Duration
	deviceLimit  int
	log          *zap.Logger
	audit        audit.AuditLogger
	events       telemetry.EventEmitter
	meters       metric.MeterProvider
	tracer       trace.Tracer
	metrics      *registryMetrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source used for CreatedAt and RevokedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTokenGenerator sets the session token source. The default draws 32 random bytes.
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(r *Registry) { r.newToken = gen }
}

// WithStoreTimeout bounds every store call; zero or negative disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(r *Registry) { r.storeTimeout = d }
}

// WithDeviceLimit caps how many devices of one subject may hold an ACTIVE session at once.
// Zero or negative means no cap. Re-registering a device that is already active never counts.
func WithDeviceLimit(n int) Option {
	return func(r *Registry) { r.deviceLimit = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithAuditLogger sets the audit sink.
func WithAuditLogger(a audit.AuditLogger) Option {
	return func(r *Registry) { r.audit = a }
}

// WithEventEmitter sets the lifecycle event sink. Events are emitted asynchronously.
func WithEventEmitter(e telemetry.EventEmitter) Option {
	return func(r *Registry) { r.events = e }
}

// WithMeterProvider sets the provider for registry metrics. Defaults to the otel global.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Registry) { r.meters = mp }
}

// WithTracerProvider sets the provider for registry spans. Defaults to the otel global.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) { r.tracer = tp.Tracer(instrumentationName) }
}

// NewRegistry returns a Registry persisting to store.
func NewRegistry(store repository.Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("session registry: store is required")
	}
	r := &Registry{
		store:        store,
		now:          time.Now,
		newToken:     func() (string, error) { return security.NewSessionToken(security.MinSessionTokenBytes) },
		storeTimeout: DefaultStoreTimeout,
		log:          zap.NewNop(),
		audit:        audit.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.meters == nil {
		r.meters = otel.GetMeterProvider()
	}
	if r.tracer == nil {
		r.tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	m, err := newRegistryMetrics(r.meters)
	if err != nil {
		return nil, fmt.Errorf("session registry metrics: %w", err)
	}
	r.metrics = m
	return r, nil
}

type actorKey struct{}

// WithActor records who is acting on a request so audit entries can tell an administrator's
// force-logout from a self-service one. Without it the affected subject is the actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context, fallback string) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return fallback
}

// Registration describes a device asking for a session.
type Registration struct {
	Subject    string
	DeviceID   string
	DeviceName string // optional label shown in listings
}

// Register mints a new session for (subject, deviceID). Any ACTIVE session of the same pair is
// revoked in the same atomic store write; sessions of other devices are untouched.
func (r *Registry) Register(ctx context.Context, subject, deviceID string) (string, error) {
	return r.RegisterDevice(ctx, Registration{Subject: subject, DeviceID: deviceID})
}

// RegisterDevice is Register with the optional device label. With a device limit configured,
// a new device beyond the limit gets ErrDeviceLimit and nothing is written.
func (r *Registry) RegisterDevice(ctx context.Context, reg Registration) (string, error) {
	ctx, span := r.tracer.Start(ctx, "session.Register")
	defer span.End()

	subject, deviceID := strings.TrimSpace(reg.Subject), strings.TrimSpace(reg.DeviceID)
	if subject == "" {
		return "", invalidArg("subject")
	}
	if deviceID == "" {
		return "", invalidArg("device_id")
	}
	span.SetAttributes(attribute.String("session.device_id", deviceID))

	var (
		rec  *domain.Session
		prev string
	)
	for attempt := 0; ; attempt++ {
		token, err := r.newToken()
		if err != nil {
			return "", r.fail(span, fmt.Errorf("mint session token: %w", err))
		}
		now := r.stamp()
		rec = &domain.Session{
			Subject:    subject,
			DeviceID:   deviceID,
			DeviceName: strings.TrimSpace(reg.DeviceName),
			Token:      token,
			CreatedAt:  now,
			Status:     domain.StatusActive,
			LastSeenAt: &now,
		}
		sctx, cancel := r.storeCtx(ctx)
		prev, err = r.store.ReplaceActive(sctx, rec, r.deviceLimit)
		cancel()
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrLimitReached) {
			span.SetAttributes(attribute.Bool("session.limit_reached", true))
			r.log.Info("device limit reached",
				zap.String("subject", subject),
				zap.String("device_id", deviceID),
				zap.Int("limit", r.deviceLimit),
			)
			return "", ErrDeviceLimit
		}
		if errors.Is(err, repository.ErrDuplicateToken) && attempt+1 < mintAttempts {
			r.log.Warn("session token collision, minting again", zap.Int("attempt", attempt+1))
			continue
		}
		return "", r.fail(span, r.storeErr(ctx, opReplaceActive, err))
	}

	superseded := prev != ""
	span.SetAttributes(attribute.Bool("session.superseded", superseded))
	r.metrics.registered(ctx, superseded)

	actor := actorFrom(ctx, subject)
	r.audit.LogEvent(ctx, audit.Event{
		Action:           audit.ActionRegister,
		Actor:            actor,
		Subject:          subject,
		DeviceID:         deviceID,
		TokenFingerprint: security.Fingerprint(rec.Token),
		OccurredAt:       rec.CreatedAt,
	})
	r.emit(telemetry.EventSessionRegistered, rec, rec.Token, "")

	if superseded {
		r.metrics.revoked(ctx, telemetry.ReasonSuperseded)
		r.audit.LogEvent(ctx, audit.Event{
			Action:           audit.ActionSupersede,
			Actor:            actor,
			Subject:          subject,
			DeviceID:         deviceID,
			TokenFingerprint: security.Fingerprint(prev),
			OccurredAt:       rec.CreatedAt,
		})
		r.emit(telemetry.EventSessionRevoked, rec, prev, telemetry.ReasonSuperseded)
	}

	r.log.Debug("session registered",
		zap.String("subject", subject),
		zap.String("device_id", deviceID),
		zap.String("token_fp", security.Fingerprint(rec.Token)),
		zap.Bool("superseded", superseded),
	)
	return rec.Token, nil
}

// List returns every stored session of subject, any status, oldest first.
// An unknown or empty subject yields an empty slice.
func (r *Registry) List(ctx context.Context, subject string) ([]*domain.Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.List")
	defer span.End()

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return []*domain.Session{}, nil
	}
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	list, err := r.store.ListBySubject(sctx, subject)
	if err != nil {
		return nil, r.fail(span, r.storeErr(ctx, opList, err))
	}
	if list == nil {
		list = []*domain.Session{}
	}
	// Stores keep insertion order; the stable sort only matters when clocks of
	// several registry instances disagree.
	slices.SortStableFunc(list, func(a, b *domain.Session) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	span.SetAttributes(attribute.Int("session.count", len(list)))
	return list, nil
}

// ForceLogout revokes the session identified by token if it belongs to subject.
// Revoking an already revoked session succeeds. A token owned by another subject is
// reported as ErrNotFound so its existence is not disclosed.
func (r *Registry) ForceLogout(ctx context.Context, subject, token string) error {
	ctx, span := r.tracer.Start(ctx, "session.ForceLogout")
	defer span.End()

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return invalidArg("subject")
	}
	if token == "" {
		return invalidArg("session_token")
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	rec, err := r.store.GetByToken(sctx, token)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case err != nil:
		return r.fail(span, r.storeErr(ctx, opGetByToken, err))
	}
	if rec.Subject != subject {
		return ErrNotFound
	}
	if !rec.IsActive() {
		return nil
	}

	at := r.stamp()
	err = r.store.UpdateStatus(sctx, token, domain.StatusRevoked, at)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// purged between the read and the write
		return ErrNotFound
	case err != nil:
		return r.fail(span, r.storeErr(ctx, opUpdateStatus, err))
	}

	r.metrics.revoked(ctx, telemetry.ReasonForceLogout)
	r.audit.LogEvent(ctx, audit.Event{
		Action:           audit.ActionForceLogout,
		Actor:            actorFrom(ctx, subject),
		Subject:          subject,
		DeviceID:         rec.DeviceID,
		TokenFingerprint: security.Fingerprint(token),
		OccurredAt:       at,
	})
	r.emit(telemetry.EventSessionRevoked, rec, token, telemetry.ReasonForceLogout)
	r.log.Info("session force-logged out",
		zap.String("subject", subject),
		zap.String("device_id", rec.DeviceID),
		zap.String("token_fp", security.Fingerprint(token)),
	)
	return nil
}

// Validate returns the session for token when it is ACTIVE. A missing or revoked session
// yields ErrSessionInvalid; only store failures are errors of another kind.
func (r *Registry) Validate(ctx context.Context, token string) (*domain.Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.Validate")
	defer span.End()

	if token == "" {
		r.metrics.validated(ctx, resultInvalid)
		return nil, ErrSessionInvalid
	}
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	rec, err := r.store.GetByToken(sctx, token)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		r.metrics.validated(ctx, resultInvalid)
		return nil, ErrSessionInvalid
	case err != nil:
		r.metrics.validated(ctx, resultError)
		return nil, r.fail(span, r.storeErr(ctx, opGetByToken, err))
	}
	if !rec.IsActive() {
		r.metrics.validated(ctx, resultInvalid)
		return nil, ErrSessionInvalid
	}
	r.metrics.validated(ctx, resultValid)
	return rec, nil
}

// MarkSeen records that the session's device was just seen. It is kept apart from Validate so
// validation stays free of side effects; callers invoke it after a successful check.
func (r *Registry) MarkSeen(ctx context.Context, token string) error {
	ctx, span := r.tracer.Start(ctx, "session.MarkSeen")
	defer span.End()

	if token == "" {
		return invalidArg("session_token")
	}
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	err := r.store.TouchLastSeen(sctx, token, r.stamp())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case err != nil:
		return r.fail(span, r.storeErr(ctx, opTouch, err))
	}
	return nil
}

// Current returns the ACTIVE session of (subject, deviceID), or ErrSessionInvalid when the
// device has been logged out or superseded.
func (r *Registry) Current(ctx context.Context, subject, deviceID string) (*domain.Session, error) {
	ctx, span := r.tracer.Start(ctx, "session.Current")
	defer span.End()

	subject, deviceID = strings.TrimSpace(subject), strings.TrimSpace(deviceID)
	if subject == "" {
		return nil, invalidArg("subject")
	}
	if deviceID == "" {
		return nil, invalidArg("device_id")
	}
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	rec, err := r.store.GetBySubjectAndDevice(sctx, subject, deviceID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrSessionInvalid
	case err != nil:
		return nil, r.fail(span, r.storeErr(ctx, opGetByPair, err))
	}
	if !rec.IsActive() {
		return nil, ErrSessionInvalid
	}
	return rec, nil
}

// PurgeRevoked deletes REVOKED sessions revoked more than olderThan ago and returns how many
// were removed. A zero or negative olderThan keeps everything.
func (r *Registry) PurgeRevoked(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "session.PurgeRevoked")
	defer span.End()

	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := r.now().UTC().Add(-olderThan)
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	n, err := r.store.DeleteRevokedBefore(sctx, cutoff)
	if err != nil {
		return 0, r.fail(span, r.storeErr(ctx, opDeleteRevoked, err))
	}
	span.SetAttributes(attribute.Int64("session.purged", n))
	if n > 0 {
		r.audit.LogEvent(ctx, audit.Event{Action: audit.ActionPurge, Count: n})
	}
	r.log.Info("revoked sessions purged", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// Ping reports whether the store is reachable, bounded by the store timeout.
func (r *Registry) Ping(ctx context.Context) error {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.store.Ping(sctx)
}

// stamp reads the clock at the precision every store persists, so returned records match
// what a later read yields.
func (r *Registry) stamp() time.Time {
	return domain.Timestamp(r.now())
}

func (r *Registry) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.storeTimeout)
}

func (r *Registry) storeErr(ctx context.Context, op string, err error) error {
	r.metrics.storeFailed(ctx, op)
	r.log.Warn("session store failure", zap.String("op", op), zap.Error(err))
	return &StoreError{Op: op, Err: err}
}

func (r *Registry) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (r *Registry) emit(eventType string, rec *domain.Session, token, reason string) {
	if r.events == nil {
		return
	}
	telemetry.EmitAsync(r.events, r.log, telemetry.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    rec.Subject,
		DeviceID:   rec.DeviceID,
		TokenHash:  security.HashSessionToken(token),
		Reason:     reason,
		OccurredAt: r.stamp(),
	})
}
