package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/policy/engine"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/server/middleware"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/domain"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/service"
)

const maxBodyBytes = 16 << 10

const (
	// HeaderDeviceID names the device whose current session GET /sessions/current returns.
	HeaderDeviceID = "X-Device-Id"
	// HeaderSessionToken carries the session token checked by GET /private.
	HeaderSessionToken = "X-Session-Token"
)

// Registry is the subset of service.Registry the handler calls.
type Registry interface {
	RegisterDevice(ctx context.Context, reg service.Registration) (string, error)
	List(ctx context.Context, subject string) ([]*domain.Session, error)
	ForceLogout(ctx context.Context, subject, token string) error
	Validate(ctx context.Context, token string) (*domain.Session, error)
	Current(ctx context.Context, subject, deviceID string) (*domain.Session, error)
	MarkSeen(ctx context.Context, token string) error
}

// Server exposes the session registry over HTTP. Every route expects the caller identity
// set by middleware.Authenticate.
type Server struct {
	registry Registry
	authz    engine.RevokeAuthorizer
	log      *zap.Logger
}

// NewServer returns a session HTTP server. A nil authz disables the admin route (403).
func NewServer(registry Registry, authz engine.RevokeAuthorizer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{registry: registry, authz: authz, log: log.Named("session_http")}
}

// Routes mounts the session routes on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/register", s.Register)
	r.Get("/sessions", s.ListSessions)
	r.Get("/sessions/current", s.CurrentSession)
	r.Post("/force_logout", s.ForceLogout)
	r.Post("/admin/force_logout", s.AdminForceLogout)
	r.Get("/private", s.Private)
}

type registerRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`
}

type registerResponse struct {
	Status       string `json:"status"`
	SessionToken string `json:"session_token"`
}

type forceLogoutRequest struct {
	Subject      string `json:"subject,omitempty"`
	SessionToken string `json:"session_token"`
}

type sessionView struct {
	SessionToken string     `json:"session_token"`
	DeviceID     string     `json:"device_id"`
	DeviceName   string     `json:"device_name"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	Status       string     `json:"status"`
	Revoked      bool       `json:"revoked"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

type listResponse struct {
	Status   string        `json:"status"`
	Sessions []sessionView `json:"sessions"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type currentResponse struct {
	Status  string      `json:"status"`
	Session sessionView `json:"session"`
}

type privateResponse struct {
	Subject  string `json:"subject"`
	DeviceID string `json:"device_id"`
}

// Register mints a session for the caller's device. Any previous session of that device is superseded.
// When the device limit is reached it answers 409 limit_reached with the active sessions, so the
// client can offer to log one of them out.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := s.registry.RegisterDevice(r.Context(), service.Registration{
		Subject:    subject,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
	})
	if errors.Is(err, service.ErrDeviceLimit) {
		s.writeLimitReached(w, r, subject)
		return
	}
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Status: "ok", SessionToken: token})
}

// ListSessions returns every session of the caller, oldest first.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	list, err := s.registry.List(r.Context(), subject)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	views := make([]sessionView, len(list))
	for i, rec := range list {
		views[i] = toView(rec)
	}
	writeJSON(w, http.StatusOK, listResponse{Status: "ok", Sessions: views})
}

// CurrentSession returns the ACTIVE session of the device named by X-Device-Id.
func (s *Server) CurrentSession(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	rec, err := s.registry.Current(r.Context(), subject, r.Header.Get(HeaderDeviceID))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, currentResponse{Status: "ok", Session: toView(rec)})
}

// ForceLogout revokes one of the caller's own sessions.
func (s *Server) ForceLogout(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	var req forceLogoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.registry.ForceLogout(r.Context(), subject, req.SessionToken); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "session revoked"})
}

// AdminForceLogout revokes a session of another subject when the revoke policy allows the caller.
func (s *Server) AdminForceLogout(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetIdentity(r.Context())
	if !ok || caller.Subject == "" {
		writeDetail(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req forceLogoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target := strings.TrimSpace(req.Subject)
	if target == "" {
		writeDetail(w, http.StatusBadRequest, "subject is required")
		return
	}
	if s.authz == nil {
		writeDetail(w, http.StatusForbidden, "not allowed to revoke this session")
		return
	}
	allowed, err := s.authz.AuthorizeRevoke(r.Context(), caller, target)
	if err != nil || !allowed {
		writeDetail(w, http.StatusForbidden, "not allowed to revoke this session")
		return
	}

	ctx := service.WithActor(r.Context(), caller.Subject)
	if err := s.registry.ForceLogout(ctx, target, req.SessionToken); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.log.Info("session revoked by policy",
		zap.String("actor", caller.Subject),
		zap.String("subject", target),
	)
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "session revoked"})
}

// Private is the gate in front of protected content: the session named by X-Session-Token must be
// ACTIVE and owned by the caller. A superseded or revoked session answers 401 logged_out.
func (s *Server) Private(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	rec, err := s.registry.Validate(r.Context(), r.Header.Get(HeaderSessionToken))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	if rec.Subject != subject {
		writeDetail(w, http.StatusUnauthorized, "logged_out")
		return
	}
	// Last-seen is bookkeeping; the access decision above stands either way.
	if err := s.registry.MarkSeen(r.Context(), rec.Token); err != nil {
		s.log.Warn("mark session seen", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, privateResponse{Subject: rec.Subject, DeviceID: rec.DeviceID})
}

func (s *Server) writeLimitReached(w http.ResponseWriter, r *http.Request, subject string) {
	list, err := s.registry.List(r.Context(), subject)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	views := make([]sessionView, 0, len(list))
	for _, rec := range list {
		if rec.IsActive() {
			views = append(views, toView(rec))
		}
	}
	writeJSON(w, http.StatusConflict, listResponse{Status: "limit_reached", Sessions: views})
}

func (s *Server) subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	subject, ok := middleware.GetSubject(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "missing bearer token")
		return "", false
	}
	return subject, true
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "session not found")
	case errors.Is(err, service.ErrSessionInvalid):
		writeDetail(w, http.StatusUnauthorized, "logged_out")
	case errors.Is(err, service.ErrStoreUnavailable):
		s.log.Error("session store unavailable", zap.Error(err))
		writeDetail(w, http.StatusServiceUnavailable, "session store unavailable")
	default:
		s.log.Error("session request failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func toView(rec *domain.Session) sessionView {
	return sessionView{
		SessionToken: rec.Token,
		DeviceID:     rec.DeviceID,
		DeviceName:   rec.DeviceName,
		CreatedAt:    rec.CreatedAt,
		LastSeenAt:   rec.LastSeenAt,
		Status:       string(rec.Status),
		Revoked:      !rec.IsActive(),
		RevokedAt:    rec.RevokedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
