package flows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errNotReady    = errors.New("not ready")
	errInvalid     = errors.New("invalid request")
	errCredentials = errors.New("invalid credentials")
	errLocked      = errors.New("locked")
	errNotFound    = errors.New("not found")
	errExpired     = errors.New("mfa expired")
	errBadCode     = errors.New("bad code")
	errSession     = errors.New("session expired")
	errBackend     = errors.New("backend down")
	errNotEnrolled = errors.New("not enrolled")
)

const (
	mLoginSuccess = iota + 1
	mLoginFailure
	mLoginBlocked
	mLockout
	mMFARequired
	mSession
	mRehashed
	mStorage
	mMFASuccess
	mMFAFailure
	mMFAExpired
	mMFAReplay
	mLogout
	mEnabled
	mDisabled
)

type recorder struct {
	mu      sync.Mutex
	records []AuditRecord
	metrics map[int]int
	fail    error
}

func newRecorder() *recorder {
	return &recorder{metrics: make(map[int]int)}
}

func (r *recorder) append(ctx context.Context, rec AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) inc(id int) {
	r.mu.Lock()
	r.metrics[id]++
	r.mu.Unlock()
}

func (r *recorder) last(t *testing.T) AuditRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		t.Fatal("no audit records")
	}
	return r.records[len(r.records)-1]
}

type loginFixture struct {
	rec       *recorder
	failures  map[string]int
	blocked   map[string]bool
	accounts  map[string]Principal
	sessions  []string
	destroyed []string
	upgraded  []string
	dummies   int
}

func newLoginFixture() *loginFixture {
	return &loginFixture{
		rec:      newRecorder(),
		failures: make(map[string]int),
		blocked:  make(map[string]bool),
		accounts: map[string]Principal{
			"driver@fleet.gov": {ID: "u1", Email: "driver@fleet.gov", PasswordVerifier: "v:secret"},
			"chief@fleet.gov":  {ID: "u2", Email: "chief@fleet.gov", PasswordVerifier: "v:secret", MFAEnabled: true},
			"legacy@fleet.gov": {ID: "u3", Email: "legacy@fleet.gov", PasswordVerifier: "old:secret"},
		},
	}
}

func (f *loginFixture) deps() LoginDeps {
	return LoginDeps{
		UpgradeOnLogin: true,
		IsBlocked: func(_ context.Context, id string) (bool, error) {
			return f.blocked[id], nil
		},
		RecordFailure: func(_ context.Context, id string) (int, bool, error) {
			f.failures[id]++
			triggered := f.failures[id] == 3
			if triggered {
				f.blocked[id] = true
			}
			return f.failures[id], triggered, nil
		},
		RecordSuccess: func(_ context.Context, id string) error {
			delete(f.failures, id)
			return nil
		},
		FindByEmail: func(_ context.Context, email string) (Principal, error) {
			p, ok := f.accounts[email]
			if !ok {
				return Principal{}, errNotFound
			}
			return p, nil
		},
		VerifyPassword: func(pw, verifier string) (bool, bool, error) {
			switch verifier {
			case "v:" + pw:
				return true, false, nil
			case "old:" + pw:
				return true, true, nil
			case "broken":
				return false, false, errors.New("unusable")
			}
			return false, false, nil
		},
		VerifyDummy: func(string) { f.dummies++ },
		UpgradeVerifier: func(_ context.Context, id, _ string) error {
			f.upgraded = append(f.upgraded, id)
			return nil
		},
		IssueChallenge: func(_ context.Context, p Principal) (string, error) {
			return "challenge-" + p.ID, nil
		},
		CreateSession: func(_ context.Context, p Principal) (string, error) {
			tok := "session-" + p.ID
			f.sessions = append(f.sessions, tok)
			return tok, nil
		},
		DestroySession: func(_ context.Context, tok string) error {
			f.destroyed = append(f.destroyed, tok)
			return nil
		},
		Append:    f.rec.append,
		MetricInc: f.rec.inc,
		Metrics: LoginMetrics{
			LoginSuccess:     mLoginSuccess,
			LoginFailure:     mLoginFailure,
			LoginBlocked:     mLoginBlocked,
			LockoutTriggered: mLockout,
			MFARequired:      mMFARequired,
			SessionCreated:   mSession,
			PasswordRehashed: mRehashed,
			StorageFailure:   mStorage,
		},
		Events: LoginEvents{
			LoginSuccess: "login_success",
			LoginFailure: "login_failure",
			LoginBlocked: "login_blocked",
			MFARequired:  "mfa_required",
		},
		Errors: LoginErrors{
			EngineNotReady:     errNotReady,
			InvalidRequest:     errInvalid,
			InvalidCredentials: errCredentials,
			AccountLocked:      errLocked,
			NotFound:           errNotFound,
		},
	}
}

func TestRunLoginSuccess(t *testing.T) {
	f := newLoginFixture()
	out, err := RunLogin(context.Background(), "driver@fleet.gov", "secret", f.deps())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if out.SessionToken != "session-u1" || out.RequiresMFA {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	last := f.rec.last(t)
	if last.EventType != "login_success" || !last.Success || last.ActorID != "u1" {
		t.Fatalf("unexpected record: %+v", last)
	}
	if f.rec.metrics[mLoginSuccess] != 1 || f.rec.metrics[mSession] != 1 {
		t.Fatalf("metrics not counted: %v", f.rec.metrics)
	}
}

func TestRunLoginLocksAfterThreshold(t *testing.T) {
	f := newLoginFixture()
	deps := f.deps()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := RunLogin(ctx, "driver@fleet.gov", "nope", deps); !errors.Is(err, errCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if last := f.rec.last(t); last.Metadata["lockout"] != "triggered" || last.Metadata["failures"] != "3" {
		t.Fatalf("lockout not recorded: %+v", last)
	}

	// The right password is not even checked while blocked.
	if _, err := RunLogin(ctx, "driver@fleet.gov", "secret", deps); !errors.Is(err, errLocked) {
		t.Fatalf("expected lock, got %v", err)
	}
	if last := f.rec.last(t); last.EventType != "login_blocked" || last.Reason != reasonBlocked {
		t.Fatalf("unexpected record: %+v", last)
	}
	if f.rec.metrics[mLockout] != 1 || f.rec.metrics[mLoginBlocked] != 1 {
		t.Fatalf("unexpected metrics: %v", f.rec.metrics)
	}
}

func TestRunLoginUnknownEmail(t *testing.T) {
	f := newLoginFixture()
	_, err := RunLogin(context.Background(), "ghost@fleet.gov", "secret", f.deps())
	if !errors.Is(err, errCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if f.dummies != 1 {
		t.Fatal("dummy verification skipped")
	}
	if f.failures["ghost@fleet.gov"] != 1 {
		t.Fatal("unknown email not counted toward lockout")
	}
	if last := f.rec.last(t); last.Reason != reasonUnknownEmail || last.TargetUserID != "" {
		t.Fatalf("unexpected record: %+v", last)
	}
}

func TestRunLoginEmptyInputs(t *testing.T) {
	f := newLoginFixture()
	if _, err := RunLogin(context.Background(), "", "secret", f.deps()); !errors.Is(err, errInvalid) {
		t.Fatalf("empty email: %v", err)
	}
	if _, err := RunLogin(context.Background(), "driver@fleet.gov", "", f.deps()); !errors.Is(err, errCredentials) {
		t.Fatalf("empty password: %v", err)
	}
	if f.failures["driver@fleet.gov"] != 1 {
		t.Fatal("empty password not counted as a failure")
	}
}

func TestRunLoginMFARequired(t *testing.T) {
	f := newLoginFixture()
	out, err := RunLogin(context.Background(), "chief@fleet.gov", "secret", f.deps())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !out.RequiresMFA || out.MFAToken != "challenge-u2" || out.SessionToken != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(f.sessions) != 0 {
		t.Fatal("session created before second factor")
	}
	if last := f.rec.last(t); last.EventType != "mfa_required" {
		t.Fatalf("unexpected record: %+v", last)
	}
}

func TestRunLoginUpgradesLegacyVerifier(t *testing.T) {
	f := newLoginFixture()
	if _, err := RunLogin(context.Background(), "legacy@fleet.gov", "secret", f.deps()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(f.upgraded) != 1 || f.upgraded[0] != "u3" || f.rec.metrics[mRehashed] != 1 {
		t.Fatalf("verifier not upgraded: %v", f.upgraded)
	}
}

func TestRunLoginUnusableVerifier(t *testing.T) {
	f := newLoginFixture()
	p := f.accounts["driver@fleet.gov"]
	p.PasswordVerifier = "broken"
	f.accounts["driver@fleet.gov"] = p

	if _, err := RunLogin(context.Background(), "driver@fleet.gov", "secret", f.deps()); !errors.Is(err, errCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if last := f.rec.last(t); last.Reason != reasonUnusableVerifier {
		t.Fatalf("unexpected reason: %+v", last)
	}
}

func TestRunLoginCancelledLeavesNoTrace(t *testing.T) {
	f := newLoginFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := RunLogin(ctx, "driver@fleet.gov", "nope", f.deps()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.failures) != 0 || len(f.rec.records) != 0 {
		t.Fatal("cancelled login left state behind")
	}
}

func TestRunLoginLookupFailure(t *testing.T) {
	f := newLoginFixture()
	deps := f.deps()
	deps.FindByEmail = func(context.Context, string) (Principal, error) { return Principal{}, errBackend }

	if _, err := RunLogin(context.Background(), "driver@fleet.gov", "secret", deps); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if f.rec.metrics[mStorage] != 1 || f.rec.last(t).Reason != reasonStorage {
		t.Fatal("storage failure not recorded")
	}
	if len(f.failures) != 0 {
		t.Fatal("storage failure counted toward lockout")
	}
}

func TestRunLoginRollsBackUnauditedSession(t *testing.T) {
	f := newLoginFixture()
	f.rec.fail = errBackend

	if _, err := RunLogin(context.Background(), "driver@fleet.gov", "secret", f.deps()); !errors.Is(err, errBackend) {
		t.Fatalf("expected audit error, got %v", err)
	}
	if len(f.destroyed) != 1 || f.destroyed[0] != "session-u1" {
		t.Fatalf("session not rolled back: %v", f.destroyed)
	}
}

func TestRunLoginMissingDeps(t *testing.T) {
	_, err := RunLogin(context.Background(), "a@b.c", "pw", LoginDeps{Errors: LoginErrors{EngineNotReady: errNotReady}})
	if !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

// reserving wires attempt reservations that admit while failures plus
// pending stay under the fixture threshold of 3. steps records the order of
// lockout calls.
func (f *loginFixture) reserving(pending map[string]int, steps *[]string) LoginDeps {
	deps := f.deps()
	deps.IsBlocked = nil
	record := deps.RecordFailure
	deps.RecordFailure = func(ctx context.Context, id string) (int, bool, error) {
		*steps = append(*steps, "failure")
		return record(ctx, id)
	}
	deps.ReserveAttempt = func(_ context.Context, id string) (bool, bool, error) {
		if f.blocked[id] {
			return false, true, nil
		}
		if f.failures[id]+pending[id] >= 3 {
			return false, false, nil
		}
		pending[id]++
		*steps = append(*steps, "reserve")
		return true, false, nil
	}
	deps.ReleaseAttempt = func(ctx context.Context, id string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending[id]--
		*steps = append(*steps, "release")
		return nil
	}
	return deps
}

func TestRunLoginRefusesAttemptsInFlight(t *testing.T) {
	f := newLoginFixture()
	var steps []string
	pending := map[string]int{"driver@fleet.gov": 3}
	deps := f.reserving(pending, &steps)
	evaluated := 0
	verify := deps.VerifyPassword
	deps.VerifyPassword = func(pw, verifier string) (bool, bool, error) {
		evaluated++
		return verify(pw, verifier)
	}

	if _, err := RunLogin(context.Background(), "driver@fleet.gov", "secret", deps); !errors.Is(err, errLocked) {
		t.Fatalf("expected errLocked, got %v", err)
	}
	if evaluated != 0 || f.dummies != 0 {
		t.Fatal("password evaluated while attempts were in flight")
	}
	last := f.rec.last(t)
	if last.EventType != "login_blocked" || last.Reason != reasonInFlight {
		t.Fatalf("unexpected record: %+v", last)
	}
	if pending["driver@fleet.gov"] != 3 || len(steps) != 0 {
		t.Fatalf("refused attempt touched reservations: %v %v", pending, steps)
	}
}

func TestRunLoginBlockedViaReservation(t *testing.T) {
	f := newLoginFixture()
	f.blocked["driver@fleet.gov"] = true
	var steps []string
	deps := f.reserving(map[string]int{}, &steps)

	if _, err := RunLogin(context.Background(), "driver@fleet.gov", "secret", deps); !errors.Is(err, errLocked) {
		t.Fatalf("expected errLocked, got %v", err)
	}
	if last := f.rec.last(t); last.Reason != reasonBlocked {
		t.Fatalf("unexpected reason: %+v", last)
	}
}

func TestRunLoginSettlesReservation(t *testing.T) {
	t.Run("failure recorded before release", func(t *testing.T) {
		f := newLoginFixture()
		var steps []string
		pending := map[string]int{}
		if _, err := RunLogin(context.Background(), "driver@fleet.gov", "nope", f.reserving(pending, &steps)); !errors.Is(err, errCredentials) {
			t.Fatalf("expected errCredentials, got %v", err)
		}
		want := []string{"reserve", "failure", "release"}
		if len(steps) != len(want) {
			t.Fatalf("steps = %v, want %v", steps, want)
		}
		for i := range want {
			if steps[i] != want[i] {
				t.Fatalf("steps = %v, want %v", steps, want)
			}
		}
		if pending["driver@fleet.gov"] != 0 || f.failures["driver@fleet.gov"] != 1 {
			t.Fatalf("pending=%v failures=%v", pending, f.failures)
		}
	})

	t.Run("success", func(t *testing.T) {
		f := newLoginFixture()
		var steps []string
		pending := map[string]int{}
		if _, err := RunLogin(context.Background(), "driver@fleet.gov", "secret", f.reserving(pending, &steps)); err != nil {
			t.Fatalf("login: %v", err)
		}
		if pending["driver@fleet.gov"] != 0 {
			t.Fatalf("reservation not released: %v", pending)
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		f := newLoginFixture()
		var steps []string
		pending := map[string]int{}
		deps := f.reserving(pending, &steps)
		deps.FindByEmail = func(context.Context, string) (Principal, error) { return Principal{}, errBackend }
		if _, err := RunLogin(context.Background(), "driver@fleet.gov", "secret", deps); !errors.Is(err, errBackend) {
			t.Fatalf("expected backend error, got %v", err)
		}
		if pending["driver@fleet.gov"] != 0 {
			t.Fatalf("reservation not released: %v", pending)
		}
	})

	t.Run("caller gone before decision", func(t *testing.T) {
		f := newLoginFixture()
		var steps []string
		pending := map[string]int{}
		ctx, cancel := context.WithCancel(context.Background())
		deps := f.reserving(pending, &steps)
		deps.VerifyPassword = func(string, string) (bool, bool, error) {
			cancel()
			return false, false, nil
		}
		if _, err := RunLogin(ctx, "driver@fleet.gov", "nope", deps); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if pending["driver@fleet.gov"] != 0 || len(f.failures) != 0 {
			t.Fatalf("pending=%v failures=%v", pending, f.failures)
		}
	})
}

func mfaDeps(rec *recorder, verdict ChallengeVerdict, verr error, destroyed *[]string) MFADeps {
	return MFADeps{
		Now: func() time.Time { return time.Unix(0, 0) },
		VerifyChallenge: func(context.Context, string, string) (ChallengeVerdict, error) {
			return verdict, verr
		},
		CreateSession: func(_ context.Context, p Principal) (string, error) { return "session-" + p.ID, nil },
		DestroySession: func(_ context.Context, tok string) error {
			*destroyed = append(*destroyed, tok)
			return nil
		},
		Append:    rec.append,
		MetricInc: rec.inc,
		Metrics: MFAMetrics{
			MFASuccess:     mMFASuccess,
			MFAFailure:     mMFAFailure,
			MFAExpired:     mMFAExpired,
			MFAReplay:      mMFAReplay,
			SessionCreated: mSession,
			StorageFailure: mStorage,
		},
		Events: MFAEvents{MFASuccess: "mfa_success", MFAFailure: "mfa_failure", MFAExpired: "mfa_expired"},
		Errors: MFAErrors{EngineNotReady: errNotReady, MFAExpired: errExpired, MFAInvalidCode: errBadCode},
	}
}

func TestRunVerifyMFAOutcomes(t *testing.T) {
	ok := ChallengeVerdict{Principal: Principal{ID: "u2"}, UserID: "u2"}

	tests := []struct {
		name      string
		verdict   ChallengeVerdict
		err       error
		wantErr   error
		wantEvent string
		wantMetric int
	}{
		{"success", ok, nil, nil, "mfa_success", mMFASuccess},
		{"wrong code", ChallengeVerdict{UserID: "u2", Reason: "wrong_code"}, errBadCode, errBadCode, "mfa_failure", mMFAFailure},
		{"replay", ChallengeVerdict{UserID: "u2", Reason: ReasonReplay}, errBadCode, errBadCode, "mfa_failure", mMFAReplay},
		{"expired", ChallengeVerdict{UserID: "u2", Reason: "expired"}, errExpired, errExpired, "mfa_expired", mMFAExpired},
		{"storage", ChallengeVerdict{UserID: "u2"}, errBackend, errBackend, "mfa_failure", mStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			var destroyed []string
			out, err := RunVerifyMFA(context.Background(), "tok", "123456", mfaDeps(rec, tt.verdict, tt.err, &destroyed))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && out.SessionToken != "session-u2" {
				t.Fatalf("unexpected outcome: %+v", out)
			}
			if last := rec.last(t); last.EventType != tt.wantEvent || last.TargetUserID != "u2" {
				t.Fatalf("unexpected record: %+v", last)
			}
			if rec.metrics[tt.wantMetric] != 1 {
				t.Fatalf("metric %d not counted: %v", tt.wantMetric, rec.metrics)
			}
		})
	}
}

func TestRunVerifyMFARollsBackUnauditedSession(t *testing.T) {
	rec := newRecorder()
	rec.fail = errBackend
	var destroyed []string

	_, err := RunVerifyMFA(context.Background(), "tok", "123456",
		mfaDeps(rec, ChallengeVerdict{Principal: Principal{ID: "u2"}, UserID: "u2"}, nil, &destroyed))
	if !errors.Is(err, errBackend) {
		t.Fatalf("expected audit error, got %v", err)
	}
	if len(destroyed) != 1 {
		t.Fatal("session not rolled back")
	}
}

func TestRunVerifyMFACancelledBeforeTake(t *testing.T) {
	rec := newRecorder()
	var destroyed []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunVerifyMFA(ctx, "tok", "123456", mfaDeps(rec, ChallengeVerdict{}, context.Canceled, &destroyed))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rec.records) != 0 {
		t.Fatal("cancelled verification was audited")
	}
}

func logoutDeps(rec *recorder, userID string, dur time.Duration, derr error) LogoutDeps {
	return LogoutDeps{
		DestroySession: func(context.Context, string) (string, time.Duration, error) {
			return userID, dur, derr
		},
		Append:    rec.append,
		MetricInc: rec.inc,
		Event:     "logout",
		Metrics:   LogoutMetrics{Logout: mLogout, StorageFailure: mStorage},
		Errors:    LogoutErrors{EngineNotReady: errNotReady, SessionExpired: errSession},
	}
}

func TestRunLogout(t *testing.T) {
	rec := newRecorder()
	if err := RunLogout(context.Background(), "tok", logoutDeps(rec, "u1", 1500*time.Millisecond, nil)); err != nil {
		t.Fatalf("logout: %v", err)
	}
	last := rec.last(t)
	if !last.Success || last.ActorID != "u1" || last.Metadata["session_duration_ms"] != "1500" {
		t.Fatalf("unexpected record: %+v", last)
	}
	if rec.metrics[mLogout] != 1 {
		t.Fatal("logout not counted")
	}

	rec = newRecorder()
	if err := RunLogout(context.Background(), "tok", logoutDeps(rec, "", 0, errSession)); !errors.Is(err, errSession) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if last := rec.last(t); last.Success || last.Reason != "session_not_found" {
		t.Fatalf("unexpected record: %+v", last)
	}

	rec = newRecorder()
	if err := RunLogout(context.Background(), "tok", logoutDeps(rec, "", 0, errBackend)); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if rec.metrics[mStorage] != 1 || rec.last(t).Reason != reasonStorage {
		t.Fatal("storage failure not recorded")
	}
}

func toggleDeps(rec *recorder, authErr error, set func(bool) (bool, error)) MFAToggleDeps {
	return MFAToggleDeps{
		Authorize: func(context.Context, string, string) (string, error) {
			if authErr != nil {
				return "", authErr
			}
			return "admin", nil
		},
		SetMFA: func(_ context.Context, _, _ string, enable bool) (bool, error) {
			return set(enable)
		},
		Append:    rec.append,
		MetricInc: rec.inc,
		Metrics:   MFAToggleMetrics{MFAEnabled: mEnabled, MFADisabled: mDisabled, StorageFailure: mStorage},
		Events:    MFAToggleEvents{MFAEnabled: "mfa_enabled", MFADisabled: "mfa_disabled"},
		Errors:    MFAToggleErrors{EngineNotReady: errNotReady, NotFound: errNotFound, NotEnrolled: errNotEnrolled},
	}
}

func TestRunSetMFA(t *testing.T) {
	state := false
	set := func(enable bool) (bool, error) {
		changed := state != enable
		state = enable
		return changed, nil
	}
	rec := newRecorder()
	deps := toggleDeps(rec, nil, set)
	ctx := context.Background()

	changed, err := RunSetMFA(ctx, "tok", "u1", true, deps)
	if err != nil || !changed {
		t.Fatalf("enable: changed=%v err=%v", changed, err)
	}
	if last := rec.last(t); last.EventType != "mfa_enabled" || last.ActorID != "admin" || last.Metadata["changed"] != "true" {
		t.Fatalf("unexpected record: %+v", last)
	}

	changed, err = RunSetMFA(ctx, "tok", "u1", true, deps)
	if err != nil || changed {
		t.Fatalf("repeat enable: changed=%v err=%v", changed, err)
	}
	if rec.last(t).Metadata["changed"] != "false" || rec.metrics[mEnabled] != 1 {
		t.Fatal("repeat enable mis-recorded")
	}

	if _, err := RunSetMFA(ctx, "tok", "u1", false, deps); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if rec.metrics[mDisabled] != 1 {
		t.Fatal("disable not counted")
	}
}

func TestRunSetMFAFailures(t *testing.T) {
	rec := newRecorder()
	denied := errors.New("denied")
	_, err := RunSetMFA(context.Background(), "tok", "u1", true, toggleDeps(rec, denied, nil))
	if !errors.Is(err, denied) {
		t.Fatalf("expected denial, got %v", err)
	}
	if len(rec.records) != 0 {
		t.Fatal("flow recorded a denial the host owns")
	}

	rec = newRecorder()
	_, err = RunSetMFA(context.Background(), "tok", "ghost", true,
		toggleDeps(rec, nil, func(bool) (bool, error) { return false, errNotFound }))
	if !errors.Is(err, errNotFound) || rec.last(t).Reason != "unknown_account" {
		t.Fatalf("unknown target: err=%v", err)
	}

	rec = newRecorder()
	_, err = RunSetMFA(context.Background(), "tok", "u1", true,
		toggleDeps(rec, nil, func(bool) (bool, error) { return false, errNotEnrolled }))
	if !errors.Is(err, errNotEnrolled) || rec.last(t).Reason != ReasonNotEnrolled || rec.metrics[mStorage] != 0 {
		t.Fatalf("not enrolled: err=%v metrics=%v", err, rec.metrics)
	}

	rec = newRecorder()
	_, err = RunSetMFA(context.Background(), "tok", "u1", false,
		toggleDeps(rec, nil, func(bool) (bool, error) { return false, errBackend }))
	if !errors.Is(err, errBackend) || rec.metrics[mStorage] != 1 {
		t.Fatalf("storage failure: err=%v metrics=%v", err, rec.metrics)
	}
}
