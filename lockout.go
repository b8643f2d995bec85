package fleetauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/lrgov/fleetauth/internal/limiters"
)

const (
	lockoutKindEmail = "email"
	lockoutKindIP    = "ip"
)

// redisLockout adapts the Redis tracker to LockoutTracker for one identifier kind.
type redisLockout struct {
	tracker *limiters.LockoutTracker
	kind    string
}

func newRedisLockout(tracker *limiters.LockoutTracker, kind string) *redisLockout {
	return &redisLockout{tracker: tracker, kind: kind}
}

func (l *redisLockout) RecordFailure(ctx context.Context, identifier string) (LockoutState, error) {
	st, err := l.tracker.RecordFailure(ctx, l.kind, identifier)
	if err != nil {
		return LockoutState{}, mapLockoutError(err)
	}
	return LockoutState(st), nil
}

func (l *redisLockout) RecordSuccess(ctx context.Context, identifier string) error {
	return mapLockoutError(l.tracker.RecordSuccess(ctx, l.kind, identifier))
}

func (l *redisLockout) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	blocked, err := l.tracker.IsBlocked(ctx, l.kind, identifier)
	if err != nil {
		return false, mapLockoutError(err)
	}
	return blocked, nil
}

func (l *redisLockout) ReserveAttempt(ctx context.Context, identifier string) (bool, LockoutState, error) {
	r, err := l.tracker.ReserveAttempt(ctx, l.kind, identifier)
	if err != nil {
		return false, LockoutState{}, mapLockoutError(err)
	}
	return r.Admitted, LockoutState{BlockedUntil: r.BlockedUntil}, nil
}

func (l *redisLockout) ReleaseAttempt(ctx context.Context, identifier string) error {
	return mapLockoutError(l.tracker.ReleaseAttempt(ctx, l.kind, identifier))
}

// State exposes the raw bookkeeping for diagnostics and tests.
func (l *redisLockout) State(ctx context.Context, identifier string) (LockoutState, error) {
	st, err := l.tracker.State(ctx, l.kind, identifier)
	if err != nil {
		return LockoutState{}, mapLockoutError(err)
	}
	return LockoutState(st), nil
}

func mapLockoutError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrLockoutIdentifier):
		return ErrInvalidRequest
	default:
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
}

// recordLockoutFailure runs one tracker call under the storage timeout and
// reports whether the resulting state blocks at now.
func (e *Engine) recordLockoutFailure(ctx context.Context, t LockoutTracker, identifier string) (int, bool, error) {
	ctx, cancel := e.storageContext(ctx)
	defer cancel()

	st, err := t.RecordFailure(ctx, identifier)
	if err != nil {
		return 0, false, asStorageError(err)
	}
	return st.FailureCount, st.Blocked(e.now()), nil
}

func (e *Engine) lockoutBlocked(ctx context.Context, t LockoutTracker, identifier string) (bool, error) {
	ctx, cancel := e.storageContext(ctx)
	defer cancel()

	blocked, err := t.IsBlocked(ctx, identifier)
	if err != nil {
		return false, asStorageError(err)
	}
	return blocked, nil
}

// reserveLoginAttempt admits one attempt for identifier. Trackers without
// reservation support fall back to the plain block check.
func (e *Engine) reserveLoginAttempt(ctx context.Context, t LockoutTracker, identifier string) (admitted, blocked bool, err error) {
	r, ok := t.(AttemptReserver)
	if !ok {
		blocked, err := e.lockoutBlocked(ctx, t, identifier)
		return !blocked && err == nil, blocked, err
	}

	ctx, cancel := e.storageContext(ctx)
	defer cancel()

	admitted, st, err := r.ReserveAttempt(ctx, identifier)
	if err != nil {
		return false, false, asStorageError(err)
	}
	return admitted, st.Blocked(e.now()), nil
}

func (e *Engine) releaseLoginAttempt(ctx context.Context, t LockoutTracker, identifier string) error {
	r, ok := t.(AttemptReserver)
	if !ok {
		return nil
	}

	ctx, cancel := e.storageContext(ctx)
	defer cancel()

	return asStorageError(r.ReleaseAttempt(ctx, identifier))
}

func (e *Engine) lockoutSuccess(ctx context.Context, t LockoutTracker, identifier string) error {
	ctx, cancel := e.storageContext(ctx)
	defer cancel()

	return asStorageError(t.RecordSuccess(ctx, identifier))
}

func lockoutConfigFor(cfg LockoutConfig) limiters.LockoutConfig {
	return limiters.LockoutConfig{
		Threshold:     cfg.Threshold,
		Window:        cfg.Window,
		BlockDuration: cfg.BlockDuration,
		Prefix:        cfg.RedisPrefix,
	}
}

var (
	_ LockoutTracker  = (*redisLockout)(nil)
	_ AttemptReserver = (*redisLockout)(nil)
)
