package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	healthhandler "github.com/shreyash1231/DeviceloginBackendFastApi/internal/health/handler"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/policy/engine"
	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/server/middleware"
	sessionhandler "github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/handler"
)

const (
	pathLiveness  = "/healthz"
	pathReadiness = "/readyz"
)

// Deps holds the dependencies of the HTTP API.
type Deps struct {
	// Registry serves the session routes. Required.
	Registry sessionhandler.Registry
	// Verifier resolves bearer tokens to caller identities. Required.
	Verifier middleware.IdentityVerifier
	// Authorizer gates /api/admin/force_logout. If nil, that route always answers 403.
	Authorizer engine.RevokeAuthorizer
	// HealthPinger is used by /readyz (e.g. the session store). If nil, readiness skips it.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used by /readyz (e.g. the OPA evaluator). If nil, readiness skips it.
	HealthPolicyChecker healthhandler.PolicyChecker
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string
	Logger      *zap.Logger
	// Nil providers fall back to the OpenTelemetry globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewRouter builds the HTTP handler.
//
// Route → handler mapping:
//   - /healthz, /readyz → internal/health/handler (no bearer token)
//   - /api/*           → internal/session/handler (bearer token required)
func NewRouter(deps Deps) (http.Handler, error) {
	if deps.Registry == nil {
		return nil, errors.New("server: nil session registry")
	}
	if deps.Verifier == nil {
		return nil, errors.New("server: nil identity verifier")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	telemetry, err := middleware.Telemetry(deps.TracerProvider, deps.MeterProvider,
		map[string]bool{pathLiveness: true, pathReadiness: true})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.ClientAddr)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(telemetry)
	r.Use(middleware.CORS(deps.CORSOrigins))

	health := healthhandler.NewServer(deps.HealthPinger, deps.HealthPolicyChecker, log)
	r.Get(pathLiveness, health.Liveness)
	r.Get(pathReadiness, health.Readiness)

	sessions := sessionhandler.NewServer(deps.Registry, deps.Authorizer, log)
	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Authenticate(deps.Verifier, nil))
		sessions.Routes(api)
	})
	return r, nil
}
