package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/security"
)

const bearerPrefix = "bearer "

// IdentityVerifier resolves a bearer token to the caller identity.
type IdentityVerifier interface {
	Verify(token string) (security.Identity, error)
}

// Authenticate returns middleware that verifies the Bearer token from the Authorization header
// and sets the caller identity in the request context.
// Requests without a valid token get 401 unless their path is in publicPaths,
// in which case they pass through without an identity.
func Authenticate(verifier IdentityVerifier, publicPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			public := publicPaths[r.URL.Path]
			token := extractBearer(r)
			if token == "" {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				unauthenticated(w, "missing bearer token")
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				unauthenticated(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func unauthenticated(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
