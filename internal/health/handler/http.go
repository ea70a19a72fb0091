package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether the session store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker reports whether the policy engine can evaluate.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server serves liveness and readiness checks for Kubernetes and load balancers.
type Server struct {
	store  Pinger
	policy PolicyChecker
	log    *zap.Logger
}

// NewServer returns a health server. A nil store or policy is treated as healthy.
func NewServer(store Pinger, policy PolicyChecker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: store, policy: policy, log: log.Named("health")}
}

// Liveness answers 200 while the process is serving.
func (s *Server) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness answers 200 when the store and policy engine respond, 503 otherwise.
func (s *Server) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]string{"store": "ok", "policy": "ok"}
	ready := true
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn("readyz: store not ready", zap.Error(err))
			checks["store"] = "unavailable"
			ready = false
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			s.log.Warn("readyz: policy not ready", zap.Error(err))
			checks["policy"] = "unavailable"
			ready = false
		}
	}

	if !ready {
		writeStatus(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": checks})
		return
	}
	writeStatus(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

func writeStatus(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
