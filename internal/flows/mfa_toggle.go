package flows

import (
	"context"
	"errors"
	"strconv"
)

// MFAToggleMetrics carries metric IDs used by the MFA enable and disable flows.
type MFAToggleMetrics struct {
	MFAEnabled     int
	MFADisabled    int
	StorageFailure int
}

// MFAToggleEvents carries audit event names used by the MFA enable and disable flows.
type MFAToggleEvents struct {
	MFAEnabled  string
	MFADisabled string
}

// MFAToggleErrors carries host-level sentinel errors used by the toggle flows.
type MFAToggleErrors struct {
	EngineNotReady error
	NotFound       error
	// NotEnrolled marks an enable refused because the target has no secret
	// and the caller is not the owner.
	NotEnrolled error
}

// MFAToggleDeps captures MFA enable and disable dependencies.
type MFAToggleDeps struct {
	Detach DetachFunc

	// Authorize resolves the caller behind callerToken and checks it may
	// change targetID. Denials are recorded by the host.
	Authorize func(ctx context.Context, callerToken, targetID string) (string, error)
	// SetMFA writes the flag on behalf of actorID, provisioning a secret
	// when the owner enables an account that has none, and reports whether
	// anything changed.
	SetMFA func(ctx context.Context, actorID, targetID string, enable bool) (bool, error)

	Append    func(context.Context, AuditRecord) error
	MetricInc func(int)

	Metrics MFAToggleMetrics
	Events  MFAToggleEvents
	Errors  MFAToggleErrors
}

// RunSetMFA enables or disables MFA on targetID. Repeating a call is
// harmless: changed is false and the event is still recorded.
func RunSetMFA(ctx context.Context, callerToken, targetID string, enable bool, deps MFAToggleDeps) (bool, error) {
	if deps.Detach == nil {
		deps.Detach = defaultDetach
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.Authorize == nil || deps.SetMFA == nil || deps.Append == nil {
		return false, deps.Errors.EngineNotReady
	}

	actorID, err := deps.Authorize(ctx, callerToken, targetID)
	if err != nil {
		return false, err
	}

	event, action, metric := deps.Events.MFADisabled, "disable_mfa", deps.Metrics.MFADisabled
	if enable {
		event, action, metric = deps.Events.MFAEnabled, "enable_mfa", deps.Metrics.MFAEnabled
	}

	changed, err := deps.SetMFA(ctx, actorID, targetID, enable)
	if err != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}

	dctx, cancel := deps.Detach(ctx)
	defer cancel()

	if err != nil {
		var reason string
		switch {
		case errors.Is(err, deps.Errors.NotFound):
			reason = "unknown_account"
		case deps.Errors.NotEnrolled != nil && errors.Is(err, deps.Errors.NotEnrolled):
			reason = ReasonNotEnrolled
		default:
			reason = reasonStorage
			deps.MetricInc(deps.Metrics.StorageFailure)
		}
		if aerr := deps.Append(dctx, AuditRecord{
			EventType:    event,
			ActorID:      actorID,
			TargetUserID: targetID,
			Action:       action,
			Reason:       reason,
		}); aerr != nil {
			return false, aerr
		}
		return false, err
	}

	if err := deps.Append(dctx, AuditRecord{
		EventType:    event,
		ActorID:      actorID,
		TargetUserID: targetID,
		Action:       action,
		Success:      true,
		Metadata:     map[string]string{"changed": strconv.FormatBool(changed)},
	}); err != nil {
		return changed, err
	}

	if changed {
		deps.MetricInc(metric)
	}
	return changed, nil
}
