package engine

import (
	"context"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/security"
)

// ActionForceLogout is the action name passed to the policy for cross-subject revocation.
const ActionForceLogout = "session.force_logout"

// RevokeAuthorizer decides whether a caller may revoke another subject's session.
type RevokeAuthorizer interface {
	// AuthorizeRevoke reports whether caller may force-logout a session owned by targetSubject.
	// An error always comes with false.
	AuthorizeRevoke(ctx context.Context, caller security.Identity, targetSubject string) (bool, error)
}
