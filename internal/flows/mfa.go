package flows

import (
	"context"
	"errors"
	"time"
)

// MFAMetrics carries metric IDs used by the MFA verification flow.
type MFAMetrics struct {
	MFASuccess     int
	MFAFailure     int
	MFAExpired     int
	MFAReplay      int
	SessionCreated int
	StorageFailure int
}

// MFAEvents carries audit event names used by the MFA verification flow.
type MFAEvents struct {
	MFASuccess string
	MFAFailure string
	MFAExpired string
}

// MFAErrors carries host-level sentinel errors used by the MFA verification flow.
type MFAErrors struct {
	EngineNotReady error
	MFAExpired     error
	MFAInvalidCode error
}

// ChallengeVerdict is what the challenge verifier learned, whatever the
// outcome. Reason is empty on success.
type ChallengeVerdict struct {
	Principal Principal
	UserID    string
	Reason    string
}

// ReasonReplay marks a challenge that was already consumed.
const ReasonReplay = "replay"

// ReasonNotEnrolled marks an account without an active authenticator.
const ReasonNotEnrolled = "not_enrolled"

// MFADeps captures MFA verification dependencies.
type MFADeps struct {
	Now    func() time.Time
	Detach DetachFunc

	// VerifyChallenge consumes the challenge and checks the code. It returns
	// MFAExpired, MFAInvalidCode or a storage error.
	VerifyChallenge func(ctx context.Context, token, code string) (ChallengeVerdict, error)
	CreateSession   func(context.Context, Principal) (string, error)
	DestroySession  func(context.Context, string) error

	Append    func(context.Context, AuditRecord) error
	MetricInc func(int)
	Warn      func(string, error)

	Metrics MFAMetrics
	Events  MFAEvents
	Errors  MFAErrors
}

// RunVerifyMFA redeems a challenge token with a second-factor code. The
// challenge is spent by the first attempt that reaches the store, whatever
// its outcome.
func RunVerifyMFA(ctx context.Context, token, code string, deps MFADeps) (*LoginOutcome, error) {
	if deps.Detach == nil {
		deps.Detach = defaultDetach
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.VerifyChallenge == nil || deps.CreateSession == nil || deps.Append == nil {
		return nil, deps.Errors.EngineNotReady
	}

	verdict, err := deps.VerifyChallenge(ctx, token, code)
	if err != nil && verdict.Reason == "" && ctx.Err() != nil {
		// Cancelled before the challenge was taken.
		return nil, ctx.Err()
	}

	dctx, cancel := deps.Detach(ctx)
	defer cancel()

	if err != nil {
		rec := AuditRecord{
			EventType:    deps.Events.MFAFailure,
			ActorID:      verdict.UserID,
			TargetUserID: verdict.UserID,
			Action:       "verify_mfa",
			Reason:       verdict.Reason,
		}
		switch {
		case errors.Is(err, deps.Errors.MFAExpired):
			rec.EventType = deps.Events.MFAExpired
			deps.MetricInc(deps.Metrics.MFAExpired)
		case errors.Is(err, deps.Errors.MFAInvalidCode):
			if verdict.Reason == ReasonReplay {
				deps.MetricInc(deps.Metrics.MFAReplay)
			}
			deps.MetricInc(deps.Metrics.MFAFailure)
		default:
			rec.Reason = reasonStorage
			deps.MetricInc(deps.Metrics.StorageFailure)
		}
		if aerr := deps.Append(dctx, rec); aerr != nil {
			return nil, aerr
		}
		return nil, err
	}

	principal := verdict.Principal
	sessionToken, err := deps.CreateSession(dctx, principal)
	if err != nil {
		deps.MetricInc(deps.Metrics.StorageFailure)
		_ = deps.Append(dctx, AuditRecord{
			EventType:    deps.Events.MFAFailure,
			ActorID:      principal.ID,
			TargetUserID: principal.ID,
			Action:       "verify_mfa",
			Reason:       reasonStorage,
		})
		return nil, err
	}

	if err := deps.Append(dctx, AuditRecord{
		EventType:    deps.Events.MFASuccess,
		ActorID:      principal.ID,
		TargetUserID: principal.ID,
		Action:       "verify_mfa",
		Success:      true,
		Metadata:     map[string]string{"mfa_type": "totp"},
	}); err != nil {
		if deps.DestroySession != nil {
			if derr := deps.DestroySession(dctx, sessionToken); derr != nil {
				deps.Warn("verify mfa: rollback of unaudited session failed", derr)
			}
		}
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.MFASuccess)
	return &LoginOutcome{
		Principal:    principal,
		SessionToken: sessionToken,
	}, nil
}
