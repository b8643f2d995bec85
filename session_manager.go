package fleetauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lrgov/fleetauth/internal"
	"github.com/lrgov/fleetauth/session"
)

// sessionManager issues opaque bearer tokens. Redis only ever sees the
// SHA-256 of a token.
type sessionManager struct {
	store   *session.Store
	ttl     time.Duration
	now     func() time.Time
	timeout time.Duration
}

func (m *sessionManager) create(ctx context.Context, acct *Account) (string, error) {
	token, err := internal.NewSessionToken()
	if err != nil {
		return "", err
	}
	hash, err := internal.HashSessionToken(token)
	if err != nil {
		return "", err
	}

	issuedAt := m.now().UTC()
	sess := &session.Session{
		UserID:    acct.ID,
		IssuedAt:  issuedAt.UnixMilli(),
		ExpiresAt: issuedAt.Add(m.ttl).UnixMilli(),
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.Save(ctx, hash, sess, m.ttl); err != nil {
		return "", mapSessionError(err)
	}
	return token, nil
}

// resolve returns the live session behind token.
func (m *sessionManager) resolve(ctx context.Context, token string) (*session.Session, error) {
	hash, err := internal.HashSessionToken(token)
	if err != nil {
		return nil, ErrSessionExpired
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	sess, err := m.store.Get(ctx, hash, m.now())
	if err != nil {
		return nil, mapSessionError(err)
	}
	return sess, nil
}

// destroy removes the session and returns its holder and lifetime so far.
func (m *sessionManager) destroy(ctx context.Context, token string) (string, time.Duration, error) {
	hash, err := internal.HashSessionToken(token)
	if err != nil {
		return "", 0, ErrSessionExpired
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	sess, err := m.store.Delete(ctx, hash)
	if err != nil {
		return "", 0, mapSessionError(err)
	}

	now := m.now()
	if sess.ExpiredAt(now) {
		// Already dead; removing the leftover record is not a logout.
		return "", 0, ErrSessionExpired
	}
	return sess.UserID, sess.Age(now), nil
}

func (m *sessionManager) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionCorrupt):
		return ErrSessionExpired
	default:
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
}
