package fleetauth

import (
	"context"
	"strconv"
	"time"

	"github.com/lrgov/fleetauth/internal/flows"
	"go.uber.org/zap"
)

// maxAuditQueryLimit caps a single AuditEvents page.
const maxAuditQueryLimit = 1000

// systemActor is the actor recorded for scheduled retention runs.
const systemActor = "system"

// appendAudit persists rec. A failure is counted, logged and returned as
// ErrStorage; the caller decides whether the surrounding operation survives.
func (e *Engine) appendAudit(ctx context.Context, rec flows.AuditRecord) (AuditEvent, error) {
	outcome := OutcomeFailure
	if rec.Success {
		outcome = OutcomeSuccess
	}

	meta := rec.Metadata
	put := func(k, v string) {
		if meta == nil {
			meta = make(map[string]string, 2)
		}
		meta[k] = v
	}
	if ua := userAgentFromContext(ctx); ua != "" &&
		(rec.EventType == string(EventLoginSuccess) || rec.EventType == string(EventMFASuccess)) {
		put("user_agent", ua)
	}
	if id := requestIDFromContext(ctx); id != "" {
		put("request_id", id)
	}

	ev, err := e.auditWriter.Append(ctx, AuditEvent{
		EventType:    AuditEventType(rec.EventType),
		ActorID:      rec.ActorID,
		TargetUserID: rec.TargetUserID,
		Action:       rec.Action,
		Outcome:      outcome,
		Reason:       rec.Reason,
		ClientIP:     clientIPFromContext(ctx),
		Metadata:     meta,
	})
	if err != nil {
		e.metricInc(MetricAuditAppendFailure)
		e.logger.Error("audit append failed",
			zap.String("event_type", rec.EventType),
			zap.String("target_user_id", rec.TargetUserID),
			zap.Error(err),
		)
		return AuditEvent{}, asStorageError(err)
	}
	return ev, nil
}

// AuditEvents returns events matching filter, most recent first.
//
// Any live session may read events it is the actor or target of. Reading
// anyone else's events needs audit.read and the configured clearance; a
// refusal is itself recorded as access_denied.
func (e *Engine) AuditEvents(ctx context.Context, callerToken string, filter AuditFilter) ([]AuditEvent, error) {
	if e == nil || e.auditWriter == nil {
		return nil, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if filter.Limit < 0 {
		return nil, ErrInvalidRequest
	}

	if _, err := e.authorizeAuditRead(ctx, callerToken, filter); err != nil {
		return nil, err
	}

	if filter.Limit == 0 {
		filter.Limit = e.config.Audit.DefaultLimit
	}
	if filter.Limit > maxAuditQueryLimit {
		filter.Limit = maxAuditQueryLimit
	}

	qctx, cancel := e.storageContext(ctx)
	defer cancel()

	events, err := e.auditStore.Query(qctx, filter)
	if err != nil {
		e.metricInc(MetricStorageFailure)
		return nil, asStorageError(err)
	}
	return events, nil
}

// ApplyAuditRetention prunes the audit log under the configured retention
// policy on behalf of an authorized caller and returns how many events were
// removed. The run itself is recorded as an audit_retention event.
func (e *Engine) ApplyAuditRetention(ctx context.Context, callerToken string) (int64, error) {
	if e == nil || e.auditWriter == nil {
		return 0, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	caller, err := e.authorizeRetention(ctx, callerToken)
	if err != nil {
		return 0, err
	}
	return e.pruneAudit(ctx, caller.ID)
}

// RunAuditRetention is ApplyAuditRetention for schedulers inside the
// process. No session is involved; the event names the system as actor.
func (e *Engine) RunAuditRetention(ctx context.Context) (int64, error) {
	if e == nil || e.auditWriter == nil {
		return 0, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return e.pruneAudit(ctx, systemActor)
}

func (e *Engine) pruneAudit(ctx context.Context, actorID string) (int64, error) {
	policy := e.config.Audit.Retention

	var cutoff time.Time
	if policy.MaxAge > 0 {
		cutoff = e.now().UTC().Add(-policy.MaxAge)
	}

	pctx, cancel := e.storageContext(ctx)
	removed, err := e.auditStore.Prune(pctx, cutoff, policy.MaxEvents)
	cancel()
	if err != nil {
		e.metricInc(MetricStorageFailure)
		return 0, asStorageError(err)
	}
	if removed > 0 && e.metrics != nil {
		e.metrics.Add(MetricAuditPruned, uint64(removed))
	}

	e.logger.Info("audit retention applied",
		zap.String("actor_id", actorID),
		zap.Int64("removed", removed),
	)

	dctx, dcancel := e.detach(ctx)
	defer dcancel()

	_, err = e.appendAudit(dctx, flows.AuditRecord{
		EventType: string(EventAuditRetention),
		ActorID:   actorID,
		Action:    "apply_retention",
		Success:   true,
		Metadata: map[string]string{
			"removed":    strconv.FormatInt(removed, 10),
			"max_age":    policy.MaxAge.String(),
			"max_events": strconv.Itoa(policy.MaxEvents),
		},
	})
	return removed, err
}
