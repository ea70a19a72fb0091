package repository

import (
	"context"
	"sync"
	"time"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/domain"
)

type pairKey struct {
	subject  string
	deviceID string
}

// MemoryStore is an in-memory Store implementation for development and tests.
// Records are cloned on the way in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	byToken   map[string]*domain.Session
	active    map[pairKey]string
	bySubject map[string][]string // tokens in insertion order
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byToken:   make(map[string]*domain.Session),
		active:    make(map[pairKey]string),
		bySubject: make(map[string][]string),
	}
}

// Put inserts s. An ACTIVE record becomes the pair's ACTIVE pointer.
func (m *MemoryStore) Put(ctx context.Context, s *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byToken[s.Token]; ok {
		return ErrDuplicateToken
	}
	rec := s.Clone()
	rec.Normalize()
	m.insertLocked(rec)
	return nil
}

// GetByToken returns a copy of the record for token.
func (m *MemoryStore) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// GetBySubjectAndDevice returns a copy of the pair's ACTIVE record.
func (m *MemoryStore) GetBySubjectAndDevice(ctx context.Context, subject, deviceID string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.active[pairKey{subject, deviceID}]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := m.byToken[token]
	if !ok || !s.IsActive() {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// ListBySubject returns copies of the subject's records in insertion order.
func (m *MemoryStore) ListBySubject(ctx context.Context, subject string) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tokens := m.bySubject[subject]
	out := make([]*domain.Session, 0, len(tokens))
	for _, tok := range tokens {
		if s, ok := m.byToken[tok]; ok {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// UpdateStatus writes status on the record keyed by token and keeps the ACTIVE pointer in sync.
func (m *MemoryStore) UpdateStatus(ctx context.Context, token string, status domain.Status, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byToken[token]
	if !ok {
		return ErrNotFound
	}
	key := pairKey{s.Subject, s.DeviceID}
	switch status {
	case domain.StatusRevoked:
		s.Revoke(at)
		if m.active[key] == token {
			delete(m.active, key)
		}
	default:
		s.Status = status
		s.RevokedAt = nil
		m.active[key] = token
	}
	return nil
}

// ReplaceActive revokes the pair's ACTIVE record and inserts next in one critical section.
func (m *MemoryStore) ReplaceActive(ctx context.Context, next *domain.Session, maxActive int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byToken[next.Token]; ok {
		return "", ErrDuplicateToken
	}
	if maxActive > 0 && m.activeElsewhereLocked(next.Subject, next.DeviceID) >= maxActive {
		return "", ErrLimitReached
	}
	key := pairKey{next.Subject, next.DeviceID}
	prev := ""
	if tok, ok := m.active[key]; ok {
		if s, ok := m.byToken[tok]; ok && s.IsActive() {
			s.Revoke(next.CreatedAt)
			prev = tok
		}
		delete(m.active, key)
	}
	rec := next.Clone()
	rec.Status = domain.StatusActive
	rec.RevokedAt = nil
	rec.Normalize()
	m.insertLocked(rec)
	return prev, nil
}

// TouchLastSeen moves the record's LastSeenAt forward while it is ACTIVE.
func (m *MemoryStore) TouchLastSeen(ctx context.Context, token string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byToken[token]
	if !ok {
		return ErrNotFound
	}
	s.Touch(at)
	return nil
}

// DeleteRevokedBefore removes revoked records whose RevokedAt is before cutoff.
func (m *MemoryStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	touched := make(map[string]struct{})
	for tok, s := range m.byToken {
		if s.Status != domain.StatusRevoked || s.RevokedAt == nil || !s.RevokedAt.Before(cutoff) {
			continue
		}
		delete(m.byToken, tok)
		touched[s.Subject] = struct{}{}
		n++
	}
	for subject := range touched {
		kept := m.bySubject[subject][:0]
		for _, tok := range m.bySubject[subject] {
			if _, ok := m.byToken[tok]; ok {
				kept = append(kept, tok)
			}
		}
		if len(kept) == 0 {
			delete(m.bySubject, subject)
			continue
		}
		m.bySubject[subject] = kept
	}
	return n, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) activeElsewhereLocked(subject, deviceID string) int {
	n := 0
	for _, tok := range m.bySubject[subject] {
		if s, ok := m.byToken[tok]; ok && s.IsActive() && s.DeviceID != deviceID {
			n++
		}
	}
	return n
}

func (m *MemoryStore) insertLocked(s *domain.Session) {
	m.byToken[s.Token] = s
	m.bySubject[s.Subject] = append(m.bySubject[s.Subject], s.Token)
	if s.IsActive() {
		m.active[pairKey{s.Subject, s.DeviceID}] = s.Token
	}
}
