package fleetauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lrgov/fleetauth/internal/audit"
	"github.com/lrgov/fleetauth/internal/flows"
	"github.com/lrgov/fleetauth/password"
	"github.com/lrgov/fleetauth/permission"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine is the authentication service. It is safe for concurrent use and
// holds no per-user state in process: accounts and the audit trail live in
// their stores, lockout counters, challenges and sessions in Redis.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time
	redis  redis.UniversalClient

	credentials CredentialStore
	auditStore  AuditStore
	auditWriter *audit.Writer
	lockout     LockoutTracker
	ipLockout   LockoutTracker
	mfa         *mfaManager
	sessions    *sessionManager
	passwords   *password.Hasher
	roles       *permission.RoleManager
	metrics     *Metrics

	flows     flows.Deps
	closeOnce sync.Once
}

// Close drains pending audit appends and stops the mirror sinks. The Redis
// client and stores belong to the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.auditWriter != nil {
			e.auditWriter.Close()
		}
	})
}

// AuditDropped returns how many persisted events the mirror sinks dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.auditWriter == nil {
		return 0
	}
	return e.auditWriter.MirrorDropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login checks email and password.
//
// A locked identifier gets ErrAccountLocked without its password being
// evaluated. A wrong password or unknown email gets ErrInvalidCredentials.
// With MFA enabled the result carries RequiresMFA and an MFAToken to pass to
// VerifyMFA; otherwise it carries the session token and the account.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if e == nil || e.auditWriter == nil {
		return nil, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := e.now()
	out, err := flows.RunLogin(ctx, NormalizeEmail(email), password, e.flows.Login)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricLoginLatency, e.now().Sub(start))
	}
	if err != nil {
		return nil, err
	}

	if out.RequiresMFA {
		return &LoginResult{RequiresMFA: true, MFAToken: out.MFAToken}, nil
	}
	return &LoginResult{
		Success:      true,
		SessionToken: out.SessionToken,
		User:         accountFromPrincipal(out.Principal),
	}, nil
}

// VerifyMFA redeems the token from Login with a TOTP code. The challenge is
// consumed by this call whatever its outcome. An expired challenge returns
// ErrMFAExpired even when the code is right; PublicMessage renders both MFA
// errors identically.
func (e *Engine) VerifyMFA(ctx context.Context, mfaToken, code string) (*LoginResult, error) {
	if e == nil || e.auditWriter == nil {
		return nil, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	out, err := flows.RunVerifyMFA(ctx, mfaToken, code, e.flows.MFA)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Success:      true,
		SessionToken: out.SessionToken,
		User:         accountFromPrincipal(out.Principal),
	}, nil
}

// Logout destroys the session behind token. An unknown or expired token
// returns ErrSessionExpired.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.auditWriter == nil {
		return ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return flows.RunLogout(ctx, token, e.flows.Logout)
}

// CurrentUser returns the account behind a live session, re-read from the
// CredentialStore. It returns ErrSessionExpired when there is none.
func (e *Engine) CurrentUser(ctx context.Context, token string) (*Account, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	acct, err := e.currentAccount(ctx, token)
	if err != nil {
		return nil, err
	}
	return acct.redacted(), nil
}

// currentAccount resolves token to the full stored account.
func (e *Engine) currentAccount(ctx context.Context, token string) (*Account, error) {
	sess, err := e.sessions.resolve(ctx, token)
	if err == nil {
		var acct *Account
		if acct, err = e.getAccount(ctx, sess.UserID); err == nil {
			return acct, nil
		}
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrSessionExpired
	case errors.Is(err, ErrStorage):
		e.metricInc(MetricStorageFailure)
	}
	return nil, err
}

// Ping checks Redis and, when the stores support it, their backends.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.ping(ctx); err != nil {
		return err
	}
	for _, s := range []interface{}{e.credentials, e.auditStore} {
		p, ok := s.(interface{ Ping(context.Context) error })
		if !ok {
			continue
		}
		pctx, cancel := e.storageContext(ctx)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			return asStorageError(err)
		}
	}
	return nil
}

func (e *Engine) getAccount(ctx context.Context, id string) (*Account, error) {
	ctx, cancel := e.storageContext(ctx)
	defer cancel()

	acct, err := e.credentials.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, asStorageError(err)
	}
	return acct, nil
}

func (e *Engine) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Storage.OperationTimeout)
}

// detach returns a context that ignores caller cancellation but keeps the
// storage timeout, for writes that follow a final decision.
func (e *Engine) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.config.Storage.OperationTimeout)
}

// asStorageError makes sure a backend failure carries ErrStorage, including
// timeouts raised by the storage context.
func asStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStorage),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidRequest):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
}

func toPrincipal(acct *Account) flows.Principal {
	if acct == nil {
		return flows.Principal{}
	}
	return flows.Principal{
		ID:               acct.ID,
		Email:            acct.Email,
		PasswordVerifier: acct.PasswordVerifier,
		MFAEnabled:       acct.MFAEnabled,
		MFASecret:        acct.MFASecret,
		Value:            acct,
	}
}

func accountFromPrincipal(p flows.Principal) *Account {
	acct, _ := p.Value.(*Account)
	return acct.redacted()
}
