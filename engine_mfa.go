package fleetauth

import (
	"context"

	"github.com/lrgov/fleetauth/internal/flows"
	"go.uber.org/zap"
)

// EnableMFA turns on MFA for userID. The caller must be the account owner or
// hold mfa.manage. An account without a TOTP secret gets one provisioned;
// the owner fetches it through MFAEnrollment. changed is false when MFA was
// already on.
func (e *Engine) EnableMFA(ctx context.Context, callerToken, userID string) (bool, error) {
	return e.setMFAFlag(ctx, callerToken, userID, true)
}

// DisableMFA turns off MFA for userID under the same rules as EnableMFA.
// The secret is kept, so enabling again restores the same authenticator.
func (e *Engine) DisableMFA(ctx context.Context, callerToken, userID string) (bool, error) {
	return e.setMFAFlag(ctx, callerToken, userID, false)
}

func (e *Engine) setMFAFlag(ctx context.Context, callerToken, userID string, enable bool) (bool, error) {
	if e == nil || e.auditWriter == nil {
		return false, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if userID == "" {
		return false, ErrInvalidRequest
	}
	return flows.RunSetMFA(ctx, callerToken, userID, enable, e.flows.MFAToggle)
}

// MFAEnrollment returns the TOTP secret and otpauth URI for the caller's own
// account, provisioning the secret first when there is none. Nobody else
// may read it, whatever their permissions.
func (e *Engine) MFAEnrollment(ctx context.Context, callerToken, userID string) (*MFASetup, error) {
	if e == nil || e.auditWriter == nil {
		return nil, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	caller, err := e.resolveCaller(ctx, callerToken, userID, "mfa_enrollment")
	if err != nil {
		return nil, err
	}
	if caller.ID != userID {
		return nil, e.deny(ctx, caller.ID, userID, "mfa_enrollment", denyPermission)
	}

	setup, sealed, created, err := e.mfa.provision(caller)
	if err != nil {
		e.logger.Error("mfa provisioning failed", zap.String("user_id", caller.ID), zap.Error(err))
		return nil, err
	}
	if created {
		uctx, cancel := e.storageContext(ctx)
		_, err := e.credentials.Upsert(uctx, caller.ID, AccountPatch{MFASecret: &sealed})
		cancel()
		if err != nil {
			e.metricInc(MetricStorageFailure)
			return nil, asStorageError(err)
		}
	}
	return &setup, nil
}
