package flows

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// LoginOutcome is the flow-local login response.
type LoginOutcome struct {
	Principal    Principal
	RequiresMFA  bool
	MFAToken     string
	SessionToken string
}

// LoginMetrics carries metric IDs used by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginBlocked     int
	LockoutTriggered int
	MFARequired      int
	SessionCreated   int
	PasswordRehashed int
	StorageFailure   int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess string
	LoginFailure string
	LoginBlocked string
	MFARequired  string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidRequest     error
	InvalidCredentials error
	AccountLocked      error
	NotFound           error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	TrackClientIP  bool
	UpgradeOnLogin bool

	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string
	Detach              DetachFunc

	IsBlocked       func(context.Context, string) (bool, error)
	ReserveAttempt  func(context.Context, string) (admitted, blocked bool, err error)
	ReleaseAttempt  func(context.Context, string) error
	IsIPBlocked     func(context.Context, string) (bool, error)
	RecordFailure   func(context.Context, string) (int, bool, error)
	RecordIPFailure func(context.Context, string) (int, bool, error)
	RecordSuccess   func(context.Context, string) error

	FindByEmail     func(context.Context, string) (Principal, error)
	VerifyPassword  func(password, verifier string) (match, needsRehash bool, err error)
	VerifyDummy     func(password string)
	UpgradeVerifier func(ctx context.Context, userID, password string) error

	IssueChallenge func(context.Context, Principal) (string, error)
	CreateSession  func(context.Context, Principal) (string, error)
	DestroySession func(context.Context, string) error

	Append    func(context.Context, AuditRecord) error
	MetricInc func(int)
	Warn      func(string, error)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

const (
	reasonBlocked          = "blocked"
	reasonInFlight         = "attempts_in_flight"
	reasonIPBlocked        = "client_ip_blocked"
	reasonUnknownEmail     = "unknown_identifier"
	reasonWrongPassword    = "wrong_password"
	reasonUnusableVerifier = "unusable_verifier"
	reasonMalformed        = "malformed_request"
	reasonStorage          = "storage_unavailable"
)

// RunLogin executes the password step. A blocked identifier is refused
// before the password is looked at. When ReserveAttempt is wired, an attempt
// is also refused while recorded failures plus attempts in flight reach the
// threshold, so concurrent guesses cannot outrun the lockout. Lockout,
// session and audit writes happen only once the credential decision is final.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (*LoginOutcome, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Detach == nil {
		deps.Detach = defaultDetach
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	reserve := deps.ReserveAttempt != nil && deps.ReleaseAttempt != nil
	if (deps.IsBlocked == nil && !reserve) ||
		deps.RecordFailure == nil ||
		deps.RecordSuccess == nil ||
		deps.FindByEmail == nil ||
		deps.VerifyPassword == nil ||
		deps.IssueChallenge == nil ||
		deps.CreateSession == nil ||
		deps.Append == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	trackIP := deps.TrackClientIP && ip != "" && deps.IsIPBlocked != nil && deps.RecordIPFailure != nil

	if email == "" {
		dctx, cancel := deps.Detach(ctx)
		defer cancel()
		deps.MetricInc(deps.Metrics.LoginFailure)
		if err := deps.Append(dctx, AuditRecord{
			EventType: deps.Events.LoginFailure,
			Action:    "login",
			Reason:    reasonMalformed,
		}); err != nil {
			return nil, err
		}
		return nil, deps.Errors.InvalidRequest
	}

	storageFailure := func(p Principal, cause error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		deps.MetricInc(deps.Metrics.StorageFailure)
		dctx, cancel := deps.Detach(ctx)
		defer cancel()
		_ = deps.Append(dctx, AuditRecord{
			EventType:    deps.Events.LoginFailure,
			TargetUserID: p.ID,
			Action:       "login",
			Reason:       reasonStorage,
			Metadata:     map[string]string{"identifier": email},
		})
		return cause
	}

	var (
		blocked bool
		err     error
	)
	reason := reasonBlocked
	if reserve {
		var admitted bool
		admitted, blocked, err = deps.ReserveAttempt(ctx, email)
		if err != nil {
			return nil, storageFailure(Principal{}, err)
		}
		if admitted {
			defer func() {
				rctx, cancel := deps.Detach(ctx)
				defer cancel()
				if err := deps.ReleaseAttempt(rctx, email); err != nil {
					deps.Warn("login: attempt reservation not released", err)
				}
			}()
		} else if !blocked {
			blocked = true
			reason = reasonInFlight
		}
	} else {
		blocked, err = deps.IsBlocked(ctx, email)
		if err != nil {
			return nil, storageFailure(Principal{}, err)
		}
	}
	if !blocked && trackIP {
		blocked, err = deps.IsIPBlocked(ctx, ip)
		if err != nil {
			return nil, storageFailure(Principal{}, err)
		}
		reason = reasonIPBlocked
	}
	if blocked {
		dctx, cancel := deps.Detach(ctx)
		defer cancel()
		deps.MetricInc(deps.Metrics.LoginBlocked)
		if err := deps.Append(dctx, AuditRecord{
			EventType: deps.Events.LoginBlocked,
			Action:    "login",
			Reason:    reason,
			Metadata:  map[string]string{"identifier": email},
		}); err != nil {
			return nil, err
		}
		return nil, deps.Errors.AccountLocked
	}

	principal, err := deps.FindByEmail(ctx, email)
	found := err == nil
	if err != nil && !errors.Is(err, deps.Errors.NotFound) {
		return nil, storageFailure(Principal{}, err)
	}

	var match, needsRehash bool
	reason = reasonWrongPassword
	if found && password != "" {
		match, needsRehash, err = deps.VerifyPassword(password, principal.PasswordVerifier)
		if err != nil {
			deps.Warn("login: stored password verifier unusable", err)
			match = false
			reason = reasonUnusableVerifier
		}
	} else {
		if deps.VerifyDummy != nil {
			deps.VerifyDummy(password)
		}
		if !found {
			reason = reasonUnknownEmail
		}
	}

	// Nothing has been written yet; a caller that left gets no side effects.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dctx, cancel := deps.Detach(ctx)
	defer cancel()

	if !match {
		return nil, recordLoginFailure(dctx, email, ip, trackIP, principal, reason, deps)
	}

	if err := deps.RecordSuccess(dctx, email); err != nil {
		deps.MetricInc(deps.Metrics.StorageFailure)
		_ = deps.Append(dctx, AuditRecord{
			EventType:    deps.Events.LoginFailure,
			ActorID:      principal.ID,
			TargetUserID: principal.ID,
			Action:       "login",
			Reason:       reasonStorage,
		})
		return nil, err
	}

	if needsRehash && deps.UpgradeOnLogin && deps.UpgradeVerifier != nil {
		if err := deps.UpgradeVerifier(dctx, principal.ID, password); err != nil {
			deps.Warn("login: password verifier upgrade failed", err)
		} else {
			deps.MetricInc(deps.Metrics.PasswordRehashed)
		}
	}

	if principal.MFAEnabled {
		token, err := deps.IssueChallenge(dctx, principal)
		if err != nil {
			deps.MetricInc(deps.Metrics.StorageFailure)
			_ = deps.Append(dctx, AuditRecord{
				EventType:    deps.Events.LoginFailure,
				ActorID:      principal.ID,
				TargetUserID: principal.ID,
				Action:       "login",
				Reason:       reasonStorage,
			})
			return nil, err
		}
		if err := deps.Append(dctx, AuditRecord{
			EventType:    deps.Events.MFARequired,
			ActorID:      principal.ID,
			TargetUserID: principal.ID,
			Action:       "login",
			Success:      true,
			Metadata:     map[string]string{"mfa_type": "totp"},
		}); err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.MFARequired)
		return &LoginOutcome{
			Principal:   principal,
			RequiresMFA: true,
			MFAToken:    token,
		}, nil
	}

	token, err := deps.CreateSession(dctx, principal)
	if err != nil {
		deps.MetricInc(deps.Metrics.StorageFailure)
		_ = deps.Append(dctx, AuditRecord{
			EventType:    deps.Events.LoginFailure,
			ActorID:      principal.ID,
			TargetUserID: principal.ID,
			Action:       "login",
			Reason:       reasonStorage,
		})
		return nil, err
	}
	if err := deps.Append(dctx, AuditRecord{
		EventType:    deps.Events.LoginSuccess,
		ActorID:      principal.ID,
		TargetUserID: principal.ID,
		Action:       "login",
		Success:      true,
	}); err != nil {
		// An unaudited session must not outlive the call.
		if deps.DestroySession != nil {
			if derr := deps.DestroySession(dctx, token); derr != nil {
				deps.Warn("login: rollback of unaudited session failed", derr)
			}
		}
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	return &LoginOutcome{
		Principal:    principal,
		SessionToken: token,
	}, nil
}

func recordLoginFailure(
	ctx context.Context,
	email, ip string,
	trackIP bool,
	principal Principal,
	reason string,
	deps LoginDeps,
) error {
	count, triggered, err := deps.RecordFailure(ctx, email)
	if err != nil {
		deps.MetricInc(deps.Metrics.StorageFailure)
		_ = deps.Append(ctx, AuditRecord{
			EventType:    deps.Events.LoginFailure,
			TargetUserID: principal.ID,
			Action:       "login",
			Reason:       reasonStorage,
			Metadata:     map[string]string{"identifier": email},
		})
		return err
	}

	meta := map[string]string{
		"identifier": email,
		"failures":   strconv.Itoa(count),
	}
	if triggered {
		meta["lockout"] = "triggered"
	}

	if trackIP {
		ipCount, ipTriggered, err := deps.RecordIPFailure(ctx, ip)
		if err != nil {
			deps.Warn("login: client ip failure not recorded", err)
		} else {
			meta["client_ip_failures"] = strconv.Itoa(ipCount)
			if ipTriggered {
				meta["client_ip_lockout"] = "triggered"
			}
		}
	}

	if err := deps.Append(ctx, AuditRecord{
		EventType:    deps.Events.LoginFailure,
		TargetUserID: principal.ID,
		Action:       "login",
		Reason:       reason,
		Metadata:     meta,
	}); err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.LoginFailure)
	if triggered {
		deps.MetricInc(deps.Metrics.LockoutTriggered)
	}
	return deps.Errors.InvalidCredentials
}
