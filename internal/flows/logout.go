package flows

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// LogoutMetrics carries metric IDs used by the logout flow.
type LogoutMetrics struct {
	Logout         int
	StorageFailure int
}

// LogoutErrors carries host-level sentinel errors used by the logout flow.
type LogoutErrors struct {
	EngineNotReady error
	SessionExpired error
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Detach DetachFunc

	// DestroySession removes the session and reports who held it and for how long.
	DestroySession func(context.Context, string) (string, time.Duration, error)

	Append    func(context.Context, AuditRecord) error
	MetricInc func(int)

	Event   string
	Metrics LogoutMetrics
	Errors  LogoutErrors
}

// RunLogout destroys the session behind token and records its duration.
func RunLogout(ctx context.Context, token string, deps LogoutDeps) error {
	if deps.Detach == nil {
		deps.Detach = defaultDetach
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.DestroySession == nil || deps.Append == nil {
		return deps.Errors.EngineNotReady
	}

	userID, duration, err := deps.DestroySession(ctx, token)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	dctx, cancel := deps.Detach(ctx)
	defer cancel()

	if err != nil {
		reason := "session_not_found"
		if !errors.Is(err, deps.Errors.SessionExpired) {
			reason = reasonStorage
			deps.MetricInc(deps.Metrics.StorageFailure)
		}
		if aerr := deps.Append(dctx, AuditRecord{
			EventType: deps.Event,
			Action:    "logout",
			Reason:    reason,
		}); aerr != nil {
			return aerr
		}
		return err
	}

	if err := deps.Append(dctx, AuditRecord{
		EventType:    deps.Event,
		ActorID:      userID,
		TargetUserID: userID,
		Action:       "logout",
		Success:      true,
		Metadata: map[string]string{
			"session_duration_ms": strconv.FormatInt(duration.Milliseconds(), 10),
		},
	}); err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.Logout)
	return nil
}
