package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/domain"
)

const pgUniqueViolation = "23505"

const sessionColumns = `token, subject, device_id, device_name, created_at, status, revoked_at, last_seen_at`

// PostgresStore implements Store on a sessions table. Pair replacement is serialized with
// transaction-scoped advisory locks.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a session store that uses the given db for persistence.
// The schema is created by the embedded migrations in internal/db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put inserts s. Returns ErrDuplicateToken if the token is already stored.
func (r *PostgresStore) Put(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (token, subject, device_id, device_name, created_at, status, revoked_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.Token, s.Subject, s.DeviceID, s.DeviceName, domain.Timestamp(s.CreatedAt), string(s.Status),
		timeToNullTime(s.RevokedAt), timeToNullTime(s.LastSeenAt))
	return mapInsertErr(err)
}

// GetByToken returns the record for token, or ErrNotFound.
func (r *PostgresStore) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token)
	return scanSession(row)
}

// GetBySubjectAndDevice returns the pair's ACTIVE record via the partial unique index.
func (r *PostgresStore) GetBySubjectAndDevice(ctx context.Context, subject, deviceID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE subject = $1 AND device_id = $2 AND status = 'ACTIVE'
	`, subject, deviceID)
	return scanSession(row)
}

// ListBySubject returns the subject's records ordered by created_at, then insertion sequence.
func (r *PostgresStore) ListBySubject(ctx context.Context, subject string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE subject = $1
		ORDER BY created_at ASC, seq ASC
	`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*domain.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateStatus writes status in a single statement. A revoked record keeps its first revoked_at.
func (r *PostgresStore) UpdateStatus(ctx context.Context, token string, status domain.Status, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $2::text,
		    revoked_at = CASE WHEN $2::text = 'REVOKED' THEN COALESCE(revoked_at, $3) ELSE NULL END
		WHERE token = $1
	`, token, string(status), domain.Timestamp(at))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceActive runs revoke-then-insert in one transaction holding a per-pair advisory lock,
// so concurrent registrations for the same pair queue behind each other while other pairs proceed.
// With a limit the subject lock is taken first, which serializes all of the subject's registrations.
func (r *PostgresStore) ReplaceActive(ctx context.Context, next *domain.Session, maxActive int) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if maxActive > 0 {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			subjectLockKey(next.Subject)); err != nil {
			return "", fmt.Errorf("lock subject: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		pairLockKey(next.Subject, next.DeviceID)); err != nil {
		return "", fmt.Errorf("lock pair: %w", err)
	}

	if maxActive > 0 {
		var others int
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*)
			FROM sessions
			WHERE subject = $1 AND device_id <> $2 AND status = 'ACTIVE'
		`, next.Subject, next.DeviceID).Scan(&others); err != nil {
			return "", fmt.Errorf("count active: %w", err)
		}
		if others >= maxActive {
			return "", ErrLimitReached
		}
	}

	createdAt := domain.Timestamp(next.CreatedAt)

	var prev string
	err = tx.QueryRowContext(ctx, `
		UPDATE sessions
		SET status = 'REVOKED', revoked_at = $3
		WHERE subject = $1 AND device_id = $2 AND status = 'ACTIVE'
		RETURNING token
	`, next.Subject, next.DeviceID, createdAt).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("revoke previous: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (token, subject, device_id, device_name, created_at, status, revoked_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, 'ACTIVE', NULL, $6)
	`, next.Token, next.Subject, next.DeviceID, next.DeviceName, createdAt, timeToNullTime(next.LastSeenAt)); err != nil {
		return "", mapInsertErr(err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return prev, nil
}

// TouchLastSeen moves last_seen_at forward on an ACTIVE record. GREATEST skips a NULL column.
func (r *PostgresStore) TouchLastSeen(ctx context.Context, token string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET last_seen_at = CASE WHEN status = 'ACTIVE' THEN GREATEST(last_seen_at, $2) ELSE last_seen_at END
		WHERE token = $1
	`, token, domain.Timestamp(at))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRevokedBefore deletes revoked records with revoked_at before cutoff.
func (r *PostgresStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE status = 'REVOKED' AND revoked_at < $1
	`, domain.Timestamp(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping checks database connectivity.
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s         domain.Session
		status    string
		revokedAt sql.NullTime
		lastSeen  sql.NullTime
	)
	err := row.Scan(&s.Token, &s.Subject, &s.DeviceID, &s.DeviceName, &s.CreatedAt, &status, &revokedAt, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", s.Token, err)
	}
	s.Status = st
	s.CreatedAt = s.CreatedAt.UTC()
	s.RevokedAt = nullTimeToPtr(revokedAt)
	s.LastSeenAt = nullTimeToPtr(lastSeen)
	return &s, nil
}

func mapInsertErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "sessions_token_key" {
		return ErrDuplicateToken
	}
	return err
}

func subjectLockKey(subject string) string {
	return "session-subject:" + subject
}

// pairLockKey is length-prefixed so ("ab","c") and ("a","bc") never share a lock.
func pairLockKey(subject, deviceID string) string {
	return fmt.Sprintf("session-pair:%d:%s:%s", len(subject), subject, deviceID)
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: domain.Timestamp(*t), Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}
