package fleetauth

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lrgov/fleetauth/password"
	"github.com/redis/go-redis/v9"
)

var errBackendDown = errors.New("backend down")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeCredentials is a map-backed CredentialStore whose calls can be made
// to fail.
type fakeCredentials struct {
	mu       sync.Mutex
	accounts map[string]*Account
	now      func() time.Time

	failReads  bool
	failWrites bool
}

func newFakeCredentials(now func() time.Time) *fakeCredentials {
	return &fakeCredentials{accounts: make(map[string]*Account), now: now}
}

func (f *fakeCredentials) GetAccount(ctx context.Context, id string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errBackendDown
	}
	acct, ok := f.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return acct.clone(), nil
}

func (f *fakeCredentials) FindByEmail(ctx context.Context, email string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errBackendDown
	}
	for _, acct := range f.accounts {
		if acct.Email == NormalizeEmail(email) {
			return acct.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeCredentials) Upsert(ctx context.Context, id string, patch AccountPatch) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return false, errBackendDown
	}
	acct, ok := f.accounts[id]
	if !ok {
		if !patch.CanCreate() {
			return false, ErrInvalidRequest
		}
		acct = &Account{ID: id}
		f.accounts[id] = acct
	}
	patch.Apply(acct, f.now())
	return !ok, nil
}

func (f *fakeCredentials) setFailReads(v bool) {
	f.mu.Lock()
	f.failReads = v
	f.mu.Unlock()
}

func (f *fakeCredentials) account(id string) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id].clone()
}

// fakeAudit is a slice-backed AuditStore whose inserts can be made to fail.
type fakeAudit struct {
	mu         sync.Mutex
	events     []AuditEvent
	failInsert bool
}

func (f *fakeAudit) Insert(ctx context.Context, ev AuditEvent) (AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return AuditEvent{}, errBackendDown
	}
	ev.Seq = int64(len(f.events) + 1)
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeAudit) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AuditEvent
	for i := len(f.events) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
		if filter.Matches(f.events[i]) {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeAudit) Prune(ctx context.Context, cutoff time.Time, keep int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := 0
	for !cutoff.IsZero() && start < len(f.events) && f.events[start].Timestamp.Before(cutoff) {
		start++
	}
	if keep > 0 && len(f.events)-start > keep {
		start = len(f.events) - keep
	}
	f.events = append([]AuditEvent(nil), f.events[start:]...)
	return int64(start), nil
}

func (f *fakeAudit) setFailInsert(v bool) {
	f.mu.Lock()
	f.failInsert = v
	f.mu.Unlock()
}

// all returns every stored event, oldest first.
func (f *fakeAudit) all() []AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AuditEvent(nil), f.events...)
}

func (f *fakeAudit) ofType(typ AuditEventType) []AuditEvent {
	var out []AuditEvent
	for _, ev := range f.all() {
		if ev.EventType == typ {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	engine *Engine
	clock  *testClock
	creds  *fakeCredentials
	audit  *fakeAudit
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	hasher *password.Hasher
}

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.MFA.TokenSigningKey = bytes.Repeat([]byte("s"), 32)
	cfg.MFA.SecretSealKey = bytes.Repeat([]byte("z"), 32)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testEngineConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newTestClock()
	mr, rdb := newTestRedis(t)
	creds := newFakeCredentials(clock.Now)
	audit := &fakeAudit{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(creds).
		WithAuditStore(audit).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		clock:  clock,
		creds:  creds,
		audit:  audit,
		mr:     mr,
		rdb:    rdb,
		hasher: engine.passwords,
	}
}

type seedOpts struct {
	roles     []string
	clearance ClearanceLevel
	mfa       bool
	verifier  string
}

// seed stores an account and returns its TOTP secret when mfa is set.
func (env *testEnv) seed(t *testing.T, id, email, pw string, opts seedOpts) string {
	t.Helper()

	verifier := opts.verifier
	if verifier == "" {
		var err error
		if verifier, err = env.hasher.Hash(pw); err != nil {
			t.Fatalf("hash: %v", err)
		}
	}
	roles := append([]string(nil), opts.roles...)
	clearance := opts.clearance
	patch := AccountPatch{
		Email:            &email,
		PasswordVerifier: &verifier,
		Roles:            &roles,
		Clearance:        &clearance,
	}

	var secret string
	if opts.mfa {
		enrollment, err := env.engine.mfa.verifier.Generate(email)
		if err != nil {
			t.Fatalf("generate secret: %v", err)
		}
		sealed, err := env.engine.mfa.sealer.Seal(id, enrollment.Secret)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		enabled := true
		patch.MFAEnabled = &enabled
		patch.MFASecret = &sealed
		secret = enrollment.Secret
	}

	if _, err := env.creds.Upsert(context.Background(), id, patch); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}
	return secret
}

func (env *testEnv) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := env.engine.mfa.verifier.Code(secret, env.clock.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}

// wrongCode returns a well-formed code that is not valid in the current
// window.
func (env *testEnv) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		c, err := env.engine.mfa.verifier.Code(secret, env.clock.Now().Add(d))
		if err != nil {
			t.Fatalf("totp code: %v", err)
		}
		valid[c] = true
	}
	for _, c := range []string{"123456", "654321", "111111", "222222"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no invalid code available")
	return ""
}

// login logs in an account without MFA and returns its session token.
func (env *testEnv) login(t *testing.T, email, pw string) string {
	t.Helper()
	res, err := env.engine.Login(context.Background(), email, pw)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	if res.SessionToken == "" {
		t.Fatalf("login %s: no session token", email)
	}
	return res.SessionToken
}

func (env *testEnv) sessionKeys() []string {
	keys := env.mr.Keys()
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, env.engine.config.Session.RedisPrefix+":") {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func eventTypes(events []AuditEvent) []AuditEventType {
	out := make([]AuditEventType, len(events))
	for i, ev := range events {
		out[i] = ev.EventType
	}
	return out
}
