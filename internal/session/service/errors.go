package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for the registry; the HTTP handler maps them to status codes.
var (
	// ErrInvalidArgument is returned for an empty subject, device ID or token.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned by ForceLogout when the subject holds no session with that token.
	ErrNotFound = errors.New("session not found")
	// ErrDeviceLimit is returned by Register when the subject already has the configured number
	// of active sessions on other devices.
	ErrDeviceLimit = errors.New("device limit reached")
	// ErrSessionInvalid is the negative result of Validate and Current. It is not a failure.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrStoreUnavailable is matched by every *StoreError.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// StoreError reports a persistence failure or timeout during Op.
// errors.Is(err, ErrStoreUnavailable) is true and Unwrap yields the cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable.Error(), e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStoreUnavailable) hold for every StoreError.
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func invalidArg(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidArgument, field)
}
