package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/domain"
)

var contractBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func active(subject, deviceID, token string, at time.Time) *domain.Session {
	return &domain.Session{
		Subject:   subject,
		DeviceID:  deviceID,
		Token:     token,
		CreatedAt: at,
		Status:    domain.StatusActive,
	}
}

// runStoreContract checks the behaviour every Store implementation must share.
// newStore must return an empty store for each call.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("Put and Get", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, active("u1", "phone", "tok-1", contractBase)))

		got, err := store.GetByToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.Subject)
		assert.Equal(t, "phone", got.DeviceID)
		assert.Equal(t, domain.StatusActive, got.Status)
		assert.True(t, got.CreatedAt.Equal(contractBase), "CreatedAt = %v", got.CreatedAt)
		assert.Nil(t, got.RevokedAt)

		byPair, err := store.GetBySubjectAndDevice(ctx, "u1", "phone")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", byPair.Token)
	})

	t.Run("Put duplicate token", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, active("u1", "phone", "tok-1", contractBase)))
		err := store.Put(ctx, active("u2", "laptop", "tok-1", contractBase))
		assert.ErrorIs(t, err, ErrDuplicateToken)
	})

	t.Run("Lookups of missing records", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetByToken(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetBySubjectAndDevice(ctx, "u1", "phone")
		assert.ErrorIs(t, err, ErrNotFound)

		list, err := store.ListBySubject(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("List in insertion order", func(t *testing.T) {
		store := newStore(t)
		for i, dev := range []string{"phone", "laptop", "tablet"} {
			require.NoError(t, store.Put(ctx, active("u1", dev, fmt.Sprintf("tok-%d", i), contractBase.Add(time.Duration(i)*time.Second))))
		}
		require.NoError(t, store.Put(ctx, active("u2", "phone", "other", contractBase)))

		list, err := store.ListBySubject(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, s := range list {
			assert.Equal(t, fmt.Sprintf("tok-%d", i), s.Token)
		}
	})

	t.Run("UpdateStatus revokes once", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, active("u1", "phone", "tok-1", contractBase)))

		first := contractBase.Add(time.Minute)
		require.NoError(t, store.UpdateStatus(ctx, "tok-1", domain.StatusRevoked, first))
		require.NoError(t, store.UpdateStatus(ctx, "tok-1", domain.StatusRevoked, first.Add(time.Hour)))

		got, err := store.GetByToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRevoked, got.Status)
		require.NotNil(t, got.RevokedAt)
		assert.True(t, got.RevokedAt.Equal(first), "RevokedAt = %v, want %v", got.RevokedAt, first)

		_, err = store.GetBySubjectAndDevice(ctx, "u1", "phone")
		assert.ErrorIs(t, err, ErrNotFound)

		err = store.UpdateStatus(ctx, "missing", domain.StatusRevoked, first)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReplaceActive supersedes only its pair", func(t *testing.T) {
		store := newStore(t)
		prev, err := store.ReplaceActive(ctx, active("u1", "phone", "tok-1", contractBase), 0)
		require.NoError(t, err)
		assert.Empty(t, prev)
		_, err = store.ReplaceActive(ctx, active("u1", "laptop", "tok-laptop", contractBase.Add(time.Second)), 0)
		require.NoError(t, err)

		second := contractBase.Add(time.Minute)
		prev, err = store.ReplaceActive(ctx, active("u1", "phone", "tok-2", second), 0)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", prev)

		old, err := store.GetByToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRevoked, old.Status)
		require.NotNil(t, old.RevokedAt)
		assert.True(t, old.RevokedAt.Equal(second))

		cur, err := store.GetBySubjectAndDevice(ctx, "u1", "phone")
		require.NoError(t, err)
		assert.Equal(t, "tok-2", cur.Token)

		laptop, err := store.GetBySubjectAndDevice(ctx, "u1", "laptop")
		require.NoError(t, err)
		assert.Equal(t, "tok-laptop", laptop.Token)

		_, err = store.ReplaceActive(ctx, active("u1", "phone", "tok-2", second), 0)
		assert.ErrorIs(t, err, ErrDuplicateToken)
		cur, err = store.GetBySubjectAndDevice(ctx, "u1", "phone")
		require.NoError(t, err)
		assert.Equal(t, "tok-2", cur.Token, "failed replace must not revoke the current record")
	})

	t.Run("ReplaceActive after UpdateStatus", func(t *testing.T) {
		store := newStore(t)
		_, err := store.ReplaceActive(ctx, active("u1", "phone", "tok-1", contractBase), 0)
		require.NoError(t, err)
		require.NoError(t, store.UpdateStatus(ctx, "tok-1", domain.StatusRevoked, contractBase.Add(time.Second)))

		prev, err := store.ReplaceActive(ctx, active("u1", "phone", "tok-2", contractBase.Add(time.Minute)), 0)
		require.NoError(t, err)
		assert.Empty(t, prev, "an already revoked record is not superseded")
	})

	t.Run("Concurrent ReplaceActive leaves one active", func(t *testing.T) {
		store := newStore(t)
		const n = 16
		var wg sync.WaitGroup
		prevs := make([]string, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				prevs[i], errs[i] = store.ReplaceActive(ctx, active("u1", "phone", fmt.Sprintf("race-%d", i), contractBase.Add(time.Duration(i)*time.Millisecond)), 0)
			}(i)
		}
		wg.Wait()

		superseded := 0
		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			if prevs[i] != "" {
				superseded++
			}
		}
		assert.Equal(t, n-1, superseded)

		list, err := store.ListBySubject(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, n)
		activeCount := 0
		for _, s := range list {
			if s.IsActive() {
				activeCount++
			}
		}
		assert.Equal(t, 1, activeCount)
	})

	t.Run("DeleteRevokedBefore", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, active("u1", "phone", "old", contractBase)))
		require.NoError(t, store.Put(ctx, active("u1", "laptop", "recent", contractBase.Add(time.Second))))
		require.NoError(t, store.Put(ctx, active("u1", "tablet", "live", contractBase.Add(2*time.Second))))
		require.NoError(t, store.UpdateStatus(ctx, "old", domain.StatusRevoked, contractBase.Add(time.Minute)))
		require.NoError(t, store.UpdateStatus(ctx, "recent", domain.StatusRevoked, contractBase.Add(3*time.Hour)))

		n, err := store.DeleteRevokedBefore(ctx, contractBase.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = store.GetByToken(ctx, "old")
		assert.ErrorIs(t, err, ErrNotFound)

		list, err := store.ListBySubject(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "recent", list[0].Token)
		assert.Equal(t, "live", list[1].Token)
	})

	t.Run("Returned records are copies", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, active("u1", "phone", "tok-1", contractBase)))
		got, err := store.GetByToken(ctx, "tok-1")
		require.NoError(t, err)
		got.Status = domain.StatusRevoked

		again, err := store.GetByToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, again.Status)
	})

	t.Run("Timestamps round trip at microsecond precision", func(t *testing.T) {
		store := newStore(t)
		fine := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
		revoked := fine.Add(time.Minute)
		rec := active("u1", "laptop", "put-1", fine)
		rec.Status = domain.StatusRevoked
		rec.RevokedAt = &revoked
		rec.LastSeenAt = &fine
		require.NoError(t, store.Put(ctx, rec))

		got, err := store.GetByToken(ctx, "put-1")
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(domain.Timestamp(fine)), "CreatedAt = %v", got.CreatedAt)
		require.NotNil(t, got.RevokedAt)
		assert.True(t, got.RevokedAt.Equal(domain.Timestamp(revoked)), "RevokedAt = %v", got.RevokedAt)
		require.NotNil(t, got.LastSeenAt)
		assert.True(t, got.LastSeenAt.Equal(domain.Timestamp(fine)), "LastSeenAt = %v", got.LastSeenAt)

		_, err = store.ReplaceActive(ctx, active("u1", "phone", "tok-1", fine), 0)
		require.NoError(t, err)
		next := fine.Add(time.Second)
		_, err = store.ReplaceActive(ctx, active("u1", "phone", "tok-2", next), 0)
		require.NoError(t, err)

		old, err := store.GetByToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.True(t, old.CreatedAt.Equal(domain.Timestamp(fine)), "CreatedAt = %v", old.CreatedAt)
		require.NotNil(t, old.RevokedAt)
		assert.True(t, old.RevokedAt.Equal(domain.Timestamp(next)), "RevokedAt = %v", old.RevokedAt)

		revokeAt := next.Add(time.Minute)
		require.NoError(t, store.UpdateStatus(ctx, "tok-2", domain.StatusRevoked, revokeAt))
		cur, err := store.GetByToken(ctx, "tok-2")
		require.NoError(t, err)
		require.NotNil(t, cur.RevokedAt)
		assert.True(t, cur.RevokedAt.Equal(domain.Timestamp(revokeAt)), "RevokedAt = %v", cur.RevokedAt)
	})

	t.Run("Device name and last seen persist", func(t *testing.T) {
		store := newStore(t)
		rec := active("u1", "phone", "tok-1", contractBase)
		rec.DeviceName = "Pixel 8"
		rec.LastSeenAt = &contractBase
		_, err := store.ReplaceActive(ctx, rec, 0)
		require.NoError(t, err)

		list, err := store.ListBySubject(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Pixel 8", list[0].DeviceName)
		require.NotNil(t, list[0].LastSeenAt)
		assert.True(t, list[0].LastSeenAt.Equal(contractBase))
	})

	t.Run("TouchLastSeen only moves forward on active records", func(t *testing.T) {
		store := newStore(t)
		_, err := store.ReplaceActive(ctx, active("u1", "phone", "tok-1", contractBase), 0)
		require.NoError(t, err)

		later := contractBase.Add(time.Hour)
		require.NoError(t, store.TouchLastSeen(ctx, "tok-1", later))
		require.NoError(t, store.TouchLastSeen(ctx, "tok-1", contractBase.Add(time.Minute)))
		got, err := store.GetByToken(ctx, "tok-1")
		require.NoError(t, err)
		require.NotNil(t, got.LastSeenAt)
		assert.True(t, got.LastSeenAt.Equal(later), "LastSeenAt = %v, want %v", got.LastSeenAt, later)

		require.NoError(t, store.UpdateStatus(ctx, "tok-1", domain.StatusRevoked, later))
		require.NoError(t, store.TouchLastSeen(ctx, "tok-1", later.Add(time.Hour)))
		got, err = store.GetByToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.True(t, got.LastSeenAt.Equal(later), "revoked record LastSeenAt = %v", got.LastSeenAt)

		assert.ErrorIs(t, store.TouchLastSeen(ctx, "missing", later), ErrNotFound)
	})

	t.Run("ReplaceActive enforces maxActive across devices", func(t *testing.T) {
		store := newStore(t)
		for i, dev := range []string{"phone", "laptop"} {
			_, err := store.ReplaceActive(ctx, active("u1", dev, "tok-"+dev, contractBase.Add(time.Duration(i)*time.Second)), 2)
			require.NoError(t, err)
		}

		_, err := store.ReplaceActive(ctx, active("u1", "tablet", "tok-tablet", contractBase.Add(time.Minute)), 2)
		assert.ErrorIs(t, err, ErrLimitReached)
		_, err = store.GetByToken(ctx, "tok-tablet")
		assert.ErrorIs(t, err, ErrNotFound, "a rejected registration must not be stored")

		prev, err := store.ReplaceActive(ctx, active("u1", "phone", "tok-phone-2", contractBase.Add(time.Minute)), 2)
		require.NoError(t, err, "re-registering a known device does not count against the limit")
		assert.Equal(t, "tok-phone", prev)

		_, err = store.ReplaceActive(ctx, active("u2", "tablet", "tok-u2", contractBase.Add(time.Minute)), 2)
		require.NoError(t, err, "other subjects have their own limit")

		require.NoError(t, store.UpdateStatus(ctx, "tok-laptop", domain.StatusRevoked, contractBase.Add(time.Hour)))
		_, err = store.ReplaceActive(ctx, active("u1", "tablet", "tok-tablet", contractBase.Add(2*time.Hour)), 2)
		require.NoError(t, err)
	})

	t.Run("Concurrent ReplaceActive never exceeds maxActive", func(t *testing.T) {
		store := newStore(t)
		const n, limit = 8, 3
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.ReplaceActive(ctx, active("u1", fmt.Sprintf("dev-%d", i), fmt.Sprintf("lim-%d", i), contractBase), limit)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, ErrLimitReached)
		}
		assert.Equal(t, limit, ok)
		list, err := store.ListBySubject(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, list, limit)
	})

	t.Run("Ping", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(ctx))
	})
}
