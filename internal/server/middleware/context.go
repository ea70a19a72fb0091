package middleware

import (
	"context"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/security"
)

type contextKey struct{ name string }

var (
	identityKey = contextKey{"identity"}
	clientIPKey = contextKey{"client_ip"}
)

// WithIdentity returns a context carrying the caller identity.
// Handlers read it via GetIdentity or GetSubject.
func WithIdentity(ctx context.Context, id security.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller identity and true if set; otherwise the zero value, false.
func GetIdentity(ctx context.Context) (security.Identity, bool) {
	v, ok := ctx.Value(identityKey).(security.Identity)
	return v, ok
}

// GetSubject returns the caller subject and true if set; otherwise "", false.
func GetSubject(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok || id.Subject == "" {
		return "", false
	}
	return id.Subject, true
}

// WithClientIP returns a context carrying the resolved client address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the address stored by ClientAddr, or "unknown".
// It satisfies audit.IPExtractor.
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
