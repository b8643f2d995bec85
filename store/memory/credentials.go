package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lrgov/fleetauth"
)

// Option configures the memory stores.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the time source used for UpdatedAt and stored timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CredentialStore keeps accounts in maps. Reads share a lock; writes to one
// account id are serialized by a per-id mutex so read-modify-write patches
// never interleave.
type CredentialStore struct {
	now func() time.Time

	mu      sync.RWMutex
	byID    map[string]*fleetauth.Account
	byEmail map[string]string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ fleetauth.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore returns an empty store.
func NewCredentialStore(opts ...Option) *CredentialStore {
	o := applyOptions(opts)
	return &CredentialStore{
		now:     o.now,
		byID:    make(map[string]*fleetauth.Account),
		byEmail: make(map[string]string),
		locks:   make(map[string]*sync.Mutex),
	}
}

// GetAccount returns a copy of the account stored under id.
func (s *CredentialStore) GetAccount(ctx context.Context, id string) (*fleetauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", fleetauth.ErrStorage, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.byID[id]
	if !ok {
		return nil, fleetauth.ErrNotFound
	}
	return copyAccount(acct), nil
}

// FindByEmail looks an account up by its normalized email.
func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*fleetauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", fleetauth.ErrStorage, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[fleetauth.NormalizeEmail(email)]
	if !ok {
		return nil, fleetauth.ErrNotFound
	}
	return copyAccount(s.byID[id]), nil
}

// Upsert merges patch into the account under id, creating it when absent.
// Creating needs an email and a verifier; an email owned by another account
// is rejected with ErrInvalidRequest.
func (s *CredentialStore) Upsert(ctx context.Context, id string, patch fleetauth.AccountPatch) (bool, error) {
	if id == "" {
		return false, fleetauth.ErrInvalidRequest
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", fleetauth.ErrStorage, err)
	}

	unlock := s.lockID(id)
	defer unlock()

	s.mu.RLock()
	current, exists := s.byID[id]
	s.mu.RUnlock()

	var next *fleetauth.Account
	if exists {
		next = copyAccount(current)
	} else {
		if !patch.CanCreate() {
			return false, fmt.Errorf("%w: new account needs email and password verifier", fleetauth.ErrInvalidRequest)
		}
		next = &fleetauth.Account{ID: id}
	}
	patch.Apply(next, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.byEmail[next.Email]; taken && owner != id {
		return false, fmt.Errorf("%w: email already registered", fleetauth.ErrInvalidRequest)
	}
	if exists && current.Email != next.Email {
		delete(s.byEmail, current.Email)
	}
	s.byID[id] = next
	s.byEmail[next.Email] = id

	return !exists, nil
}

// Len returns the number of stored accounts.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *CredentialStore) lockID(id string) func() {
	s.locksMu.Lock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	s.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

func copyAccount(a *fleetauth.Account) *fleetauth.Account {
	out := *a
	out.Roles = append([]string(nil), a.Roles...)
	return &out
}
