package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrMFAChallengeNotFound = errors.New("mfa challenge not found")
	ErrMFAChallengeBackend  = errors.New("mfa challenge backend unavailable")
	ErrMFAChallengeCorrupt  = errors.New("mfa challenge record corrupt")
)

// MFAChallenge is the authoritative server-side record of an issued challenge.
// Times are unix milliseconds.
type MFAChallenge struct {
	UserID    string
	Kind      uint8
	IssuedAt  int64
	ExpiresAt int64
}

// Hash fields: u user id, k kind, i issued at, e expires at.
//
// Save refuses to touch an existing key so a colliding id can never replace
// a live challenge.
var saveChallengeLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "u", ARGV[1], "k", ARGV[2], "i", ARGV[3], "e", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// Take reads and deletes in one step. A key of the wrong type is deleted and
// comes back as an empty reply, which the caller reports as corrupt.
var takeChallengeLua = redis.NewScript(`
local t = redis.call("TYPE", KEYS[1])["ok"]
if t == "none" then
  return false
end
local fields = {}
if t == "hash" then
  fields = redis.call("HGETALL", KEYS[1])
end
redis.call("DEL", KEYS[1])
return fields
`)

// MFAChallengeStore keeps pending challenges as Redis hashes.
type MFAChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewMFAChallengeStore(redisClient redis.UniversalClient, prefix string) *MFAChallengeStore {
	if prefix == "" {
		prefix = "fmc"
	}
	return &MFAChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *MFAChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Save stores record under challengeID. ttl governs storage reclamation
// only; expiry is judged by the caller against ExpiresAt.
func (s *MFAChallengeStore) Save(ctx context.Context, challengeID string, record *MFAChallenge, ttl time.Duration) error {
	if record == nil || record.UserID == "" {
		return errors.New("mfa challenge requires a user id")
	}
	created, err := saveChallengeLua.Run(ctx, s.redis, []string{s.key(challengeID)},
		record.UserID,
		strconv.Itoa(int(record.Kind)),
		strconv.FormatInt(record.IssuedAt, 10),
		strconv.FormatInt(record.ExpiresAt, 10),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
	}
	if created != 1 {
		return fmt.Errorf("%w: challenge id collision", ErrMFAChallengeBackend)
	}
	return nil
}

// Take atomically reads and removes the record. A second Take of the same id
// returns ErrMFAChallengeNotFound.
func (s *MFAChallengeStore) Take(ctx context.Context, challengeID string) (*MFAChallenge, error) {
	reply, err := takeChallengeLua.Run(ctx, s.redis, []string{s.key(challengeID)}).StringSlice()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrMFAChallengeNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
	}

	record, err := parseChallenge(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMFAChallengeCorrupt, err)
	}
	return record, nil
}

// parseChallenge decodes an HGETALL reply of alternating field and value.
func parseChallenge(flat []string) (*MFAChallenge, error) {
	if len(flat) == 0 || len(flat)%2 != 0 {
		return nil, fmt.Errorf("%d reply elements", len(flat))
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		fields[flat[i]] = flat[i+1]
	}

	rec := &MFAChallenge{UserID: fields["u"]}
	if rec.UserID == "" {
		return nil, errors.New("missing user id")
	}
	kind, err := strconv.ParseUint(fields["k"], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("kind: %w", err)
	}
	rec.Kind = uint8(kind)
	if rec.IssuedAt, err = strconv.ParseInt(fields["i"], 10, 64); err != nil {
		return nil, fmt.Errorf("issued at: %w", err)
	}
	if rec.ExpiresAt, err = strconv.ParseInt(fields["e"], 10, 64); err != nil {
		return nil, fmt.Errorf("expires at: %w", err)
	}
	return rec, nil
}
