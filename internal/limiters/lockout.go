package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the progressive lockout tracker.
type LockoutConfig struct {
	Threshold     int
	Window        time.Duration
	BlockDuration time.Duration
	Prefix        string
	// AttemptLease bounds how long a reserved attempt counts as in flight
	// when its holder never settles it. Zero means DefaultAttemptLease.
	AttemptLease time.Duration
}

// DefaultAttemptLease is the in-flight lease used when none is configured.
const DefaultAttemptLease = 30 * time.Second

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
	// ErrLockoutIdentifier indicates an empty identifier.
	ErrLockoutIdentifier = errors.New("lockout identifier required")
)

// LockoutState is the decoded attempt record for one identifier.
type LockoutState struct {
	FailureCount int
	WindowStart  time.Time
	BlockedUntil time.Time
}

// The whole read-modify-write runs inside Redis so concurrent failures on one
// identifier serialize without client-side locks.
//
// A record whose window has elapsed, or whose block has already run out,
// restarts at one failure.
const recordFailureScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local block = tonumber(ARGV[4])

local vals = redis.call("HMGET", key, "c", "w", "b")
local count = tonumber(vals[1]) or 0
local start = tonumber(vals[2]) or 0
local blocked = tonumber(vals[3]) or 0

if blocked > now then
  return {count, start, blocked}
end

if count == 0 or blocked > 0 or (now - start) > window then
  count = 1
  start = now
  blocked = 0
else
  count = count + 1
end

if count >= threshold then
  blocked = now + block
end

redis.call("HSET", key, "c", count, "w", start, "b", blocked)

local ttl = window
if blocked > 0 and (blocked - now) > ttl then
  ttl = blocked - now
end
redis.call("PEXPIRE", key, ttl + 1000)

return {count, start, blocked}
`

var recordFailureLua = redis.NewScript(recordFailureScript)

// Admits one attempt while recorded failures plus attempts still in flight
// stay below the threshold. Replies {admitted, blocked_until}. In-flight
// attempts live in "p" until "pe"; an elapsed lease drops them.
const reserveAttemptScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local lease = tonumber(ARGV[4])

local vals = redis.call("HMGET", key, "c", "w", "b", "p", "pe")
local count = tonumber(vals[1]) or 0
local start = tonumber(vals[2]) or 0
local blocked = tonumber(vals[3]) or 0
local pending = tonumber(vals[4]) or 0
local pendingExp = tonumber(vals[5]) or 0

if blocked > now then
  return {0, blocked}
end

if blocked > 0 or (now - start) > window then
  count = 0
end
if pendingExp <= now then
  pending = 0
end

if count + pending >= threshold then
  return {0, 0}
end

redis.call("HSET", key, "p", pending + 1, "pe", now + lease)
local ttl = redis.call("PTTL", key)
if ttl < lease + 1000 then
  redis.call("PEXPIRE", key, lease + 1000)
end
return {1, 0}
`

var reserveAttemptLua = redis.NewScript(reserveAttemptScript)

// A record left with no failures and nothing in flight is removed.
const releaseAttemptScript = `
local pending = tonumber(redis.call("HGET", KEYS[1], "p")) or 0
if pending <= 0 then
  return 0
end
if pending == 1 and redis.call("HEXISTS", KEYS[1], "c") == 0 then
  redis.call("DEL", KEYS[1])
  return 0
end
redis.call("HSET", KEYS[1], "p", pending - 1)
return 0
`

var releaseAttemptLua = redis.NewScript(releaseAttemptScript)

// LockoutTracker counts failed attempts per identifier in Redis and blocks
// an identifier once the threshold is reached inside the window.
type LockoutTracker struct {
	redis  redis.UniversalClient
	config LockoutConfig
	now    func() time.Time
}

// NewLockoutTracker creates a lockout tracker. now may be nil, in which case
// time.Now is used.
func NewLockoutTracker(redisClient redis.UniversalClient, cfg LockoutConfig, now func() time.Time) *LockoutTracker {
	if cfg.Prefix == "" {
		cfg.Prefix = "flo"
	}
	if cfg.AttemptLease <= 0 {
		cfg.AttemptLease = DefaultAttemptLease
	}
	if now == nil {
		now = time.Now
	}
	return &LockoutTracker{redis: redisClient, config: cfg, now: now}
}

// Key returns the Redis key holding the state of identifier under kind
// (for example "email" or "ip").
func (l *LockoutTracker) Key(kind, identifier string) string {
	return l.config.Prefix + ":" + kind + ":" + identifier
}

// RecordFailure registers one failed attempt and returns the resulting state.
func (l *LockoutTracker) RecordFailure(ctx context.Context, kind, identifier string) (LockoutState, error) {
	if identifier == "" {
		return LockoutState{}, ErrLockoutIdentifier
	}

	now := l.now().UnixMilli()
	res, err := recordFailureLua.Run(ctx, l.redis,
		[]string{l.Key(kind, identifier)},
		now,
		l.config.Window.Milliseconds(),
		l.config.Threshold,
		l.config.BlockDuration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 3 {
		return LockoutState{}, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}

	return stateFromMillis(res[0], res[1], res[2]), nil
}

// Reservation is the reply of ReserveAttempt.
type Reservation struct {
	Admitted     bool
	BlockedUntil time.Time
}

// ReserveAttempt admits one attempt for identifier unless it is blocked or
// the recorded failures plus the attempts already in flight reach the
// threshold. An admitted attempt must be settled with ReleaseAttempt once its
// failure or success has been recorded.
func (l *LockoutTracker) ReserveAttempt(ctx context.Context, kind, identifier string) (Reservation, error) {
	if identifier == "" {
		return Reservation{}, ErrLockoutIdentifier
	}

	res, err := reserveAttemptLua.Run(ctx, l.redis,
		[]string{l.Key(kind, identifier)},
		l.now().UnixMilli(),
		l.config.Window.Milliseconds(),
		l.config.Threshold,
		l.config.AttemptLease.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 2 {
		return Reservation{}, fmt.Errorf("%w: unexpected script reply", ErrLockoutUnavailable)
	}

	r := Reservation{Admitted: res[0] == 1}
	if res[1] > 0 {
		r.BlockedUntil = time.UnixMilli(res[1]).UTC()
	}
	return r, nil
}

// ReleaseAttempt settles one attempt admitted by ReserveAttempt. Releasing
// after RecordSuccess cleared the record is a no-op.
func (l *LockoutTracker) ReleaseAttempt(ctx context.Context, kind, identifier string) error {
	if identifier == "" {
		return nil
	}

	if err := releaseAttemptLua.Run(ctx, l.redis, []string{l.Key(kind, identifier)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// RecordSuccess clears all state for identifier.
func (l *LockoutTracker) RecordSuccess(ctx context.Context, kind, identifier string) error {
	if identifier == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.Key(kind, identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// State returns the stored state for identifier. A missing record is the
// zero state.
func (l *LockoutTracker) State(ctx context.Context, kind, identifier string) (LockoutState, error) {
	if identifier == "" {
		return LockoutState{}, nil
	}

	vals, err := l.redis.HMGet(ctx, l.Key(kind, identifier), "c", "w", "b").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return LockoutState{}, nil
		}
		return LockoutState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	var fields [3]int64
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return LockoutState{}, fmt.Errorf("%w: corrupt lockout record", ErrLockoutUnavailable)
		}
		fields[i] = n
	}
	return stateFromMillis(fields[0], fields[1], fields[2]), nil
}

// IsBlocked reports whether identifier is inside an active block.
func (l *LockoutTracker) IsBlocked(ctx context.Context, kind, identifier string) (bool, error) {
	state, err := l.State(ctx, kind, identifier)
	if err != nil {
		return false, err
	}
	if state.BlockedUntil.IsZero() {
		return false, nil
	}
	return state.BlockedUntil.After(l.now()), nil
}

func stateFromMillis(count, start, blocked int64) LockoutState {
	state := LockoutState{FailureCount: int(count)}
	if start > 0 {
		state.WindowStart = time.UnixMilli(start).UTC()
	}
	if blocked > 0 {
		state.BlockedUntil = time.UnixMilli(blocked).UTC()
	}
	return state
}
