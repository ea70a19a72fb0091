package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/domain"
)

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("session record not found")
	// ErrDuplicateToken is returned by Put when a record with the same token already exists.
	ErrDuplicateToken = errors.New("session token already exists")
	// ErrLimitReached is returned by ReplaceActive when the subject already holds the maximum
	// number of ACTIVE records on other devices.
	ErrLimitReached = errors.New("active session limit reached")
)

// Store defines persistence for session records. Implementations must be safe for concurrent
// use and must not apply lifecycle rules; they persist what the registry tells them to.
// Timestamps are stored truncated to domain.Precision.
type Store interface {
	// Put inserts a record as given, in any status. It is the raw insert used for seeding and
	// imports; registration goes through ReplaceActive.
	Put(ctx context.Context, s *domain.Session) error
	// GetByToken is a point lookup by session token.
	GetByToken(ctx context.Context, token string) (*domain.Session, error)
	// GetBySubjectAndDevice is a point lookup of the ACTIVE record for the pair.
	GetBySubjectAndDevice(ctx context.Context, subject, deviceID string) (*domain.Session, error)
	// ListBySubject returns every stored record of the subject in insertion order.
	ListBySubject(ctx context.Context, subject string) ([]*domain.Session, error)
	// UpdateStatus atomically writes the status of the record keyed by token.
	UpdateStatus(ctx context.Context, token string, status domain.Status, at time.Time) error
	// ReplaceActive atomically revokes the pair's ACTIVE record (if any) at next.CreatedAt and
	// inserts next as the pair's ACTIVE record. It returns the revoked token or "".
	// When maxActive > 0 and the subject already has maxActive ACTIVE records on other devices,
	// nothing is written and ErrLimitReached is returned.
	ReplaceActive(ctx context.Context, next *domain.Session, maxActive int) (string, error)
	// TouchLastSeen moves the LastSeenAt of an ACTIVE record forward to at. Revoked records and
	// older times leave the record unchanged. ErrNotFound if the token is absent.
	TouchLastSeen(ctx context.Context, token string, at time.Time) error
	// DeleteRevokedBefore deletes REVOKED records revoked before cutoff.
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Ping reports whether the backing engine is reachable.
	Ping(ctx context.Context) error
}
