package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a session. The only transition is Active -> Revoked.
type Status string

const (
	// StatusActive marks a session that still grants access.
	StatusActive Status = "ACTIVE"
	// StatusRevoked marks a superseded or force-logged-out session. Terminal.
	StatusRevoked Status = "REVOKED"
)

// Precision is the resolution at which session timestamps are persisted. Postgres TIMESTAMPTZ
// keeps microseconds, so every store truncates to it.
const Precision = time.Microsecond

// Timestamp returns t in UTC truncated to Precision.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

// ErrUnknownStatus is returned by ParseStatus for values other than ACTIVE and REVOKED.
var ErrUnknownStatus = errors.New("unknown session status")

// ParseStatus converts a persisted status string back into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive:
		return StatusActive, nil
	case StatusRevoked:
		return StatusRevoked, nil
	default:
		return "", ErrUnknownStatus
	}
}

// Session represents one device's login for one subject.
type Session struct {
	Subject    string
	DeviceID   string
	DeviceName string // client-supplied label, may be empty
	Token      string // opaque lookup key, unique for the lifetime of the record
	CreatedAt  time.Time
	Status     Status
	RevokedAt  *time.Time // nil while active
	LastSeenAt *time.Time
}

// IsActive reports whether the session still grants access.
func (s *Session) IsActive() bool {
	return s != nil && s.Status == StatusActive
}

// Clone returns a deep copy so stores never hand out references to their own state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.RevokedAt != nil {
		at := *s.RevokedAt
		out.RevokedAt = &at
	}
	if s.LastSeenAt != nil {
		at := *s.LastSeenAt
		out.LastSeenAt = &at
	}
	return &out
}

// Normalize truncates every timestamp of s to Precision in UTC.
func (s *Session) Normalize() {
	s.CreatedAt = Timestamp(s.CreatedAt)
	if s.RevokedAt != nil {
		at := Timestamp(*s.RevokedAt)
		s.RevokedAt = &at
	}
	if s.LastSeenAt != nil {
		at := Timestamp(*s.LastSeenAt)
		s.LastSeenAt = &at
	}
}

// Revoke moves the session to StatusRevoked at the given time. Calling it on an already
// revoked session keeps the original RevokedAt.
func (s *Session) Revoke(at time.Time) {
	if s.Status == StatusRevoked {
		return
	}
	s.Status = StatusRevoked
	t := Timestamp(at)
	s.RevokedAt = &t
}

// Touch moves LastSeenAt forward to at. Revoked sessions and older times are ignored.
func (s *Session) Touch(at time.Time) {
	if !s.IsActive() {
		return
	}
	t := Timestamp(at)
	if s.LastSeenAt == nil || t.After(*s.LastSeenAt) {
		s.LastSeenAt = &t
	}
}
