package fleetauth

import (
	"context"
	"errors"

	"github.com/lrgov/fleetauth/internal/flows"
)

const (
	denyNoSession  = "no_session"
	denyPermission = "missing_permission"
	denyClearance  = "insufficient_clearance"
)

// Allows reports whether acct's roles grant perm. Roles are re-read from the
// store by every privileged call; nothing a client holds is trusted.
func (e *Engine) Allows(acct *Account, perm string) bool {
	if e == nil || e.roles == nil || acct == nil {
		return false
	}
	return e.roles.Allows(acct.Roles, perm)
}

// authorizeAccountAction admits the owner of targetID or a holder of perm.
func (e *Engine) authorizeAccountAction(ctx context.Context, callerToken, targetID, perm, action string) (*Account, error) {
	caller, err := e.resolveCaller(ctx, callerToken, targetID, action)
	if err != nil {
		return nil, err
	}
	if caller.ID == targetID || e.Allows(caller, perm) {
		return caller, nil
	}
	return nil, e.deny(ctx, caller.ID, targetID, action, denyPermission)
}

// authorizeAuditRead admits anyone reading only their own events, and
// otherwise a holder of audit.read with enough clearance.
func (e *Engine) authorizeAuditRead(ctx context.Context, callerToken string, filter AuditFilter) (*Account, error) {
	caller, err := e.resolveCaller(ctx, callerToken, filter.TargetUserID, "read_audit")
	if err != nil {
		return nil, err
	}
	if ownEventsOnly(caller.ID, filter) {
		return caller, nil
	}
	return caller, e.requireClearedPermission(ctx, caller, filter.TargetUserID, PermAuditRead, "read_audit")
}

func (e *Engine) authorizeRetention(ctx context.Context, callerToken string) (*Account, error) {
	caller, err := e.resolveCaller(ctx, callerToken, "", "apply_retention")
	if err != nil {
		return nil, err
	}
	return caller, e.requireClearedPermission(ctx, caller, "", PermAuditRetention, "apply_retention")
}

func (e *Engine) requireClearedPermission(ctx context.Context, caller *Account, targetID, perm, action string) error {
	if !e.Allows(caller, perm) {
		return e.deny(ctx, caller.ID, targetID, action, denyPermission)
	}
	if !caller.Clearance.AtLeast(e.config.Authorization.AuditMinClearance) {
		return e.deny(ctx, caller.ID, targetID, action, denyClearance)
	}
	return nil
}

func (e *Engine) resolveCaller(ctx context.Context, callerToken, targetID, action string) (*Account, error) {
	caller, err := e.currentAccount(ctx, callerToken)
	if err == nil {
		return caller, nil
	}
	if errors.Is(err, ErrSessionExpired) {
		if derr := e.deny(ctx, "", targetID, action, denyNoSession); !errors.Is(derr, ErrPermissionDenied) {
			return nil, derr
		}
	}
	return nil, err
}

// deny records the refusal and returns ErrPermissionDenied, or the storage
// error when the refusal could not be recorded.
func (e *Engine) deny(ctx context.Context, actorID, targetID, action, reason string) error {
	e.metricInc(MetricPermissionDenied)

	dctx, cancel := e.detach(ctx)
	defer cancel()

	if _, err := e.appendAudit(dctx, flows.AuditRecord{
		EventType:    string(EventAccessDenied),
		ActorID:      actorID,
		TargetUserID: targetID,
		Action:       action,
		Reason:       reason,
	}); err != nil {
		return err
	}
	return ErrPermissionDenied
}

func ownEventsOnly(callerID string, f AuditFilter) bool {
	switch {
	case f.ActorID == "" && f.TargetUserID == "":
		return false
	case f.ActorID != "" && f.ActorID != callerID:
		return false
	case f.TargetUserID != "" && f.TargetUserID != callerID:
		return false
	default:
		return true
	}
}
