package fleetauth

import (
	"context"
	"errors"

	"github.com/lrgov/fleetauth/internal/flows"
	"go.uber.org/zap"
)

func (e *Engine) buildFlowDeps() flows.Deps {
	appendRecord := func(ctx context.Context, rec flows.AuditRecord) error {
		_, err := e.appendAudit(ctx, rec)
		return err
	}
	metricInc := func(id int) { e.metricInc(MetricID(id)) }
	warn := func(msg string, err error) { e.logger.Warn(msg, zap.Error(err)) }

	return flows.Deps{
		Login: flows.LoginDeps{
			TrackClientIP:       e.config.Lockout.TrackClientIP,
			UpgradeOnLogin:      e.config.Password.UpgradeOnLogin,
			Now:                 e.now,
			ClientIPFromContext: clientIPFromContext,
			Detach:              e.detach,

			IsBlocked: func(ctx context.Context, email string) (bool, error) {
				return e.lockoutBlocked(ctx, e.lockout, email)
			},
			ReserveAttempt: func(ctx context.Context, email string) (bool, bool, error) {
				return e.reserveLoginAttempt(ctx, e.lockout, email)
			},
			ReleaseAttempt: func(ctx context.Context, email string) error {
				return e.releaseLoginAttempt(ctx, e.lockout, email)
			},
			IsIPBlocked: func(ctx context.Context, ip string) (bool, error) {
				return e.lockoutBlocked(ctx, e.ipLockout, ip)
			},
			RecordFailure: func(ctx context.Context, email string) (int, bool, error) {
				return e.recordLockoutFailure(ctx, e.lockout, email)
			},
			RecordIPFailure: func(ctx context.Context, ip string) (int, bool, error) {
				return e.recordLockoutFailure(ctx, e.ipLockout, ip)
			},
			RecordSuccess: func(ctx context.Context, email string) error {
				return e.lockoutSuccess(ctx, e.lockout, email)
			},

			FindByEmail:     e.findPrincipal,
			VerifyPassword:  e.verifyPassword,
			VerifyDummy:     e.passwords.VerifyDummy,
			UpgradeVerifier: e.upgradeVerifier,

			IssueChallenge: func(ctx context.Context, p flows.Principal) (string, error) {
				acct, _ := p.Value.(*Account)
				if acct == nil {
					return "", ErrEngineNotReady
				}
				return e.mfa.issueChallenge(ctx, acct, challengeKindTOTP)
			},
			CreateSession:  e.createSession,
			DestroySession: e.dropSession,

			Append:    appendRecord,
			MetricInc: metricInc,
			Warn:      warn,

			Metrics: flows.LoginMetrics{
				LoginSuccess:     int(MetricLoginSuccess),
				LoginFailure:     int(MetricLoginFailure),
				LoginBlocked:     int(MetricLoginBlocked),
				LockoutTriggered: int(MetricLockoutTriggered),
				MFARequired:      int(MetricMFARequired),
				SessionCreated:   int(MetricSessionCreated),
				PasswordRehashed: int(MetricPasswordRehashed),
				StorageFailure:   int(MetricStorageFailure),
			},
			Events: flows.LoginEvents{
				LoginSuccess: string(EventLoginSuccess),
				LoginFailure: string(EventLoginFailure),
				LoginBlocked: string(EventLoginBlocked),
				MFARequired:  string(EventMFARequired),
			},
			Errors: flows.LoginErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidRequest:     ErrInvalidRequest,
				InvalidCredentials: ErrInvalidCredentials,
				AccountLocked:      ErrAccountLocked,
				NotFound:           ErrNotFound,
			},
		},
		MFA: flows.MFADeps{
			Now:    e.now,
			Detach: e.detach,

			VerifyChallenge: func(ctx context.Context, token, code string) (flows.ChallengeVerdict, error) {
				acct, userID, reason, err := e.mfa.verifyChallenge(ctx, token, code)
				return flows.ChallengeVerdict{
					Principal: toPrincipal(acct),
					UserID:    userID,
					Reason:    reason,
				}, err
			},
			CreateSession:  e.createSession,
			DestroySession: e.dropSession,

			Append:    appendRecord,
			MetricInc: metricInc,
			Warn:      warn,

			Metrics: flows.MFAMetrics{
				MFASuccess:     int(MetricMFASuccess),
				MFAFailure:     int(MetricMFAFailure),
				MFAExpired:     int(MetricMFAExpired),
				MFAReplay:      int(MetricMFAReplay),
				SessionCreated: int(MetricSessionCreated),
				StorageFailure: int(MetricStorageFailure),
			},
			Events: flows.MFAEvents{
				MFASuccess: string(EventMFASuccess),
				MFAFailure: string(EventMFAFailure),
				MFAExpired: string(EventMFAExpired),
			},
			Errors: flows.MFAErrors{
				EngineNotReady: ErrEngineNotReady,
				MFAExpired:     ErrMFAExpired,
				MFAInvalidCode: ErrMFAInvalidCode,
			},
		},
		Logout: flows.LogoutDeps{
			Detach:         e.detach,
			DestroySession: e.sessions.destroy,
			Append:         appendRecord,
			MetricInc:      metricInc,
			Event:          string(EventLogout),
			Metrics: flows.LogoutMetrics{
				Logout:         int(MetricLogout),
				StorageFailure: int(MetricStorageFailure),
			},
			Errors: flows.LogoutErrors{
				EngineNotReady: ErrEngineNotReady,
				SessionExpired: ErrSessionExpired,
			},
		},
		MFAToggle: flows.MFAToggleDeps{
			Detach: e.detach,
			Authorize: func(ctx context.Context, callerToken, targetID string) (string, error) {
				caller, err := e.authorizeAccountAction(ctx, callerToken, targetID, PermMFAManage, "set_mfa")
				if err != nil {
					return "", err
				}
				return caller.ID, nil
			},
			SetMFA:    e.setMFA,
			Append:    appendRecord,
			MetricInc: metricInc,
			Metrics: flows.MFAToggleMetrics{
				MFAEnabled:     int(MetricMFAEnabled),
				MFADisabled:    int(MetricMFADisabled),
				StorageFailure: int(MetricStorageFailure),
			},
			Events: flows.MFAToggleEvents{
				MFAEnabled:  string(EventMFAEnabled),
				MFADisabled: string(EventMFADisabled),
			},
			Errors: flows.MFAToggleErrors{
				EngineNotReady: ErrEngineNotReady,
				NotFound:       ErrNotFound,
				NotEnrolled:    errMFANotEnrolled,
			},
		},
	}
}

func (e *Engine) findPrincipal(ctx context.Context, email string) (flows.Principal, error) {
	ctx, cancel := e.storageContext(ctx)
	defer cancel()

	acct, err := e.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return flows.Principal{}, ErrNotFound
		}
		return flows.Principal{}, asStorageError(err)
	}
	return toPrincipal(acct), nil
}

func (e *Engine) verifyPassword(password, verifier string) (bool, bool, error) {
	res, err := e.passwords.Verify(password, verifier)
	if err != nil {
		return false, false, err
	}
	return res.Match, res.NeedsRehash, nil
}

// upgradeVerifier replaces a legacy or weaker verifier after a successful login.
func (e *Engine) upgradeVerifier(ctx context.Context, userID, password string) error {
	encoded, err := e.passwords.Hash(password)
	if err != nil {
		return err
	}

	ctx, cancel := e.storageContext(ctx)
	defer cancel()

	_, err = e.credentials.Upsert(ctx, userID, AccountPatch{PasswordVerifier: &encoded})
	return asStorageError(err)
}

func (e *Engine) createSession(ctx context.Context, p flows.Principal) (string, error) {
	acct, _ := p.Value.(*Account)
	if acct == nil {
		return "", ErrEngineNotReady
	}
	return e.sessions.create(ctx, acct)
}

func (e *Engine) dropSession(ctx context.Context, token string) error {
	_, _, err := e.sessions.destroy(ctx, token)
	return err
}

// setMFA flips MFAEnabled on id. Enabling an account without a secret
// provisions one in the same write.
// setMFA flips the MFA flag on id. Only the owner may enable an account
// that has no secret yet, since nobody else can hand the secret over.
func (e *Engine) setMFA(ctx context.Context, actorID, id string, enable bool) (bool, error) {
	acct, err := e.getAccount(ctx, id)
	if err != nil {
		return false, err
	}
	if acct.MFAEnabled == enable {
		return false, nil
	}
	if enable && acct.MFASecret == "" && actorID != id {
		return false, errMFANotEnrolled
	}

	patch := AccountPatch{MFAEnabled: &enable}
	if enable {
		_, sealed, created, err := e.mfa.provision(acct)
		if err != nil {
			return false, err
		}
		if created {
			patch.MFASecret = &sealed
		}
	}

	ctx, cancel := e.storageContext(ctx)
	defer cancel()

	if _, err := e.credentials.Upsert(ctx, id, patch); err != nil {
		return false, asStorageError(err)
	}
	return true, nil
}
