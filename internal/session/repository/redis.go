package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/session/domain"
)

const defaultRedisPrefix = "devicelogin:"

// Key layout under the prefix:
//
//	session:<token>                      hash with the record fields and its insertion seq
//	active:<len(subject)>:<subject>:<device>  token of the pair's ACTIVE record
//	subject:<subject>                    zset of tokens scored by insertion seq
//	seq:<subject>                        insertion counter
//	revoked                              zset of revoked tokens scored by revoked_at (unix micros)
//
// Scripts derive some keys from hash fields, so the store assumes a single Redis node.

var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local seq = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'subject', ARGV[2], 'device_id', ARGV[3],
  'created_at', ARGV[4], 'status', ARGV[5], 'revoked_at', ARGV[6], 'seq', seq,
  'device_name', ARGV[8], 'last_seen_at', ARGV[9])
redis.call('ZADD', KEYS[2], seq, ARGV[1])
if ARGV[5] == 'ACTIVE' then
  redis.call('SET', KEYS[4], ARGV[1])
elseif ARGV[6] ~= '' then
  redis.call('ZADD', KEYS[5], ARGV[7], ARGV[1])
end
return 1
`)

var replaceActiveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {0, ''}
end
local limit = tonumber(ARGV[9])
if limit > 0 then
  local others = 0
  for _, t in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
    local f = redis.call('HMGET', ARGV[6] .. t, 'status', 'device_id')
    if f[1] == 'ACTIVE' and f[2] ~= ARGV[3] then
      others = others + 1
    end
  end
  if others >= limit then
    return {2, ''}
  end
end
local revoked = ''
local prev = redis.call('GET', KEYS[4])
if prev then
  local pkey = ARGV[6] .. prev
  if redis.call('HGET', pkey, 'status') == 'ACTIVE' then
    redis.call('HSET', pkey, 'status', 'REVOKED', 'revoked_at', ARGV[4])
    redis.call('ZADD', KEYS[5], ARGV[5], prev)
    revoked = prev
  end
end
local seq = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'subject', ARGV[2], 'device_id', ARGV[3],
  'created_at', ARGV[4], 'status', 'ACTIVE', 'revoked_at', '', 'seq', seq,
  'device_name', ARGV[7], 'last_seen_at', ARGV[8])
redis.call('ZADD', KEYS[2], seq, ARGV[1])
redis.call('SET', KEYS[4], ARGV[1])
return {1, revoked}
`)

// Timestamps use a fixed-width layout, so string comparison orders them.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local f = redis.call('HMGET', KEYS[1], 'status', 'last_seen_at')
if f[1] == 'ACTIVE' and (not f[2] or f[2] == '' or ARGV[1] > f[2]) then
  redis.call('HSET', KEYS[1], 'last_seen_at', ARGV[1])
end
return 1
`)

var updateStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local f = redis.call('HMGET', KEYS[1], 'subject', 'device_id', 'status')
local akey = ARGV[4] .. #f[1] .. ':' .. f[1] .. ':' .. f[2]
if ARGV[1] == 'REVOKED' then
  if f[3] ~= 'REVOKED' then
    redis.call('HSET', KEYS[1], 'status', 'REVOKED', 'revoked_at', ARGV[2])
    redis.call('ZADD', KEYS[2], ARGV[3], ARGV[5])
  end
  if redis.call('GET', akey) == ARGV[5] then
    redis.call('DEL', akey)
  end
else
  redis.call('HSET', KEYS[1], 'status', ARGV[1], 'revoked_at', '')
  redis.call('ZREM', KEYS[2], ARGV[5])
  redis.call('SET', akey, ARGV[5])
end
return 1
`)

var purgeScript = redis.NewScript(`
local toks = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, t in ipairs(toks) do
  local rk = ARGV[2] .. t
  local subj = redis.call('HGET', rk, 'subject')
  if subj then
    redis.call('ZREM', ARGV[3] .. subj, t)
  end
  redis.call('DEL', rk)
  redis.call('ZREM', KEYS[1], t)
end
return #toks
`)

// RedisStore implements Store on Redis. Multi-key writes run as Lua scripts.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisClient dials Redis and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisStore returns a Store backed by client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (r *RedisStore) recordKey(token string) string { return r.prefix + "session:" + token }
func (r *RedisStore) subjectKey(subject string) string {
	return r.prefix + "subject:" + subject
}
func (r *RedisStore) seqKey(subject string) string { return r.prefix + "seq:" + subject }
func (r *RedisStore) revokedKey() string           { return r.prefix + "revoked" }

func (r *RedisStore) activeKey(subject, deviceID string) string {
	return r.prefix + "active:" + strconv.Itoa(len(subject)) + ":" + subject + ":" + deviceID
}

// Put inserts s. Returns ErrDuplicateToken if the token is already stored.
func (r *RedisStore) Put(ctx context.Context, s *domain.Session) error {
	revokedAt, revokedScore := "", int64(0)
	if s.RevokedAt != nil {
		revokedAt = formatTime(*s.RevokedAt)
		revokedScore = s.RevokedAt.UnixMicro()
	}
	lastSeen := formatOptionalTime(s.LastSeenAt)
	keys := []string{
		r.recordKey(s.Token), r.subjectKey(s.Subject), r.seqKey(s.Subject),
		r.activeKey(s.Subject, s.DeviceID), r.revokedKey(),
	}
	n, err := putScript.Run(ctx, r.client, keys,
		s.Token, s.Subject, s.DeviceID, formatTime(s.CreatedAt), string(s.Status), revokedAt, revokedScore,
		s.DeviceName, lastSeen,
	).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateToken
	}
	return nil
}

// GetByToken returns the record for token, or ErrNotFound.
func (r *RedisStore) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	fields, err := r.client.HGetAll(ctx, r.recordKey(token)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeSession(fields)
}

// GetBySubjectAndDevice resolves the pair's ACTIVE pointer and loads the record.
func (r *RedisStore) GetBySubjectAndDevice(ctx context.Context, subject, deviceID string) (*domain.Session, error) {
	token, err := r.client.Get(ctx, r.activeKey(subject, deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s, err := r.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	// The pointer may have been swapped between the two reads.
	if !s.IsActive() {
		return nil, ErrNotFound
	}
	return s, nil
}

// ListBySubject returns the subject's records in insertion order.
func (r *RedisStore) ListBySubject(ctx context.Context, subject string) ([]*domain.Session, error) {
	tokens, err := r.client.ZRange(ctx, r.subjectKey(subject), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, 0, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	for i, tok := range tokens {
		cmds[i] = pipe.HGetAll(ctx, r.recordKey(tok))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// purged after the ZRANGE
			continue
		}
		s, err := decodeSession(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// UpdateStatus writes status on the record keyed by token and keeps the ACTIVE pointer in sync.
func (r *RedisStore) UpdateStatus(ctx context.Context, token string, status domain.Status, at time.Time) error {
	keys := []string{r.recordKey(token), r.revokedKey()}
	n, err := updateStatusScript.Run(ctx, r.client, keys,
		string(status), formatTime(at), at.UnixMicro(), r.prefix+"active:", token,
	).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceActive revokes the pair's ACTIVE record and inserts next in a single script.
// The limit check reads the subject's records inside the same script.
func (r *RedisStore) ReplaceActive(ctx context.Context, next *domain.Session, maxActive int) (string, error) {
	keys := []string{
		r.recordKey(next.Token), r.subjectKey(next.Subject), r.seqKey(next.Subject),
		r.activeKey(next.Subject, next.DeviceID), r.revokedKey(),
	}
	res, err := replaceActiveScript.Run(ctx, r.client, keys,
		next.Token, next.Subject, next.DeviceID, formatTime(next.CreatedAt), next.CreatedAt.UnixMicro(),
		r.prefix+"session:", next.DeviceName, formatOptionalTime(next.LastSeenAt), maxActive,
	).Slice()
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", fmt.Errorf("replace active: unexpected script reply %v", res)
	}
	switch code, _ := res[0].(int64); code {
	case 0:
		return "", ErrDuplicateToken
	case 2:
		return "", ErrLimitReached
	}
	prev, _ := res[1].(string)
	return prev, nil
}

// TouchLastSeen moves last_seen_at forward on an ACTIVE record.
func (r *RedisStore) TouchLastSeen(ctx context.Context, token string, at time.Time) error {
	n, err := touchScript.Run(ctx, r.client, []string{r.recordKey(token)}, formatTime(at)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRevokedBefore removes revoked records whose revoked_at is before cutoff.
func (r *RedisStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return purgeScript.Run(ctx, r.client, []string{r.revokedKey()},
		cutoff.UnixMicro(), r.prefix+"session:", r.prefix+"subject:",
	).Int64()
}

// Ping checks Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// redisTimeLayout is RFC 3339 with a fixed six-digit fraction, matching domain.Precision.
const redisTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return domain.Timestamp(t).Format(redisTimeLayout)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func decodeSession(f map[string]string) (*domain.Session, error) {
	created, err := time.Parse(time.RFC3339Nano, f["created_at"])
	if err != nil {
		return nil, fmt.Errorf("session %s: created_at: %w", f["token"], err)
	}
	status, err := domain.ParseStatus(f["status"])
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", f["token"], err)
	}
	s := &domain.Session{
		Subject:    f["subject"],
		DeviceID:   f["device_id"],
		DeviceName: f["device_name"],
		Token:      f["token"],
		CreatedAt:  created,
		Status:     status,
	}
	if s.RevokedAt, err = parseOptionalTime(f["revoked_at"]); err != nil {
		return nil, fmt.Errorf("session %s: revoked_at: %w", f["token"], err)
	}
	if s.LastSeenAt, err = parseOptionalTime(f["last_seen_at"]); err != nil {
		return nil, fmt.Errorf("session %s: last_seen_at: %w", f["token"], err)
	}
	return s, nil
}

func parseOptionalTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	at = at.UTC()
	return &at, nil
}
