package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every backend failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionNotFound means no live session exists for a token hash.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCorrupt means a stored record could not be decoded.
	ErrSessionCorrupt = errors.New("session corrupt")
)

// Store keeps sessions in Redis, one string key per token hash.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewStore returns a Store writing under prefix ("fas" when empty).
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "fas"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(tokenHash string) string { return s.prefix + ":" + tokenHash }

func unavailable(err error) error { return fmt.Errorf("%w: %v", ErrRedisUnavailable, err) }

// decodeReply turns a GET or GETDEL reply into a Session.
func decodeReply(cmd *redis.StringCmd) (*Session, error) {
	data, err := cmd.Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, unavailable(err)
	}
	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return sess, nil
}

// Save writes sess under tokenHash for ttl. A hash that is already taken is
// an error; records are never overwritten.
func (s *Store) Save(ctx context.Context, tokenHash string, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	created, err := s.rdb.SetNX(ctx, s.key(tokenHash), data, ttl).Result()
	if err != nil {
		return unavailable(err)
	}
	if !created {
		return fmt.Errorf("%w: session key collision", ErrRedisUnavailable)
	}
	return nil
}

// Get returns the session for tokenHash if it is live at now. Redis expiry
// is coarse, so a record past ExpiresAt is removed here and reported as not
// found.
func (s *Store) Get(ctx context.Context, tokenHash string, now time.Time) (*Session, error) {
	key := s.key(tokenHash)
	sess, err := decodeReply(s.rdb.Get(ctx, key))
	if err != nil {
		return nil, err
	}
	if sess.ExpiredAt(now) {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return nil, unavailable(err)
		}
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes the session for tokenHash and returns what was stored,
// live or not.
func (s *Store) Delete(ctx context.Context, tokenHash string) (*Session, error) {
	return decodeReply(s.rdb.GetDel(ctx, s.key(tokenHash)))
}

// Ping reports Redis round-trip time.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	if err != nil {
		err = unavailable(err)
	}
	return time.Since(start), err
}
