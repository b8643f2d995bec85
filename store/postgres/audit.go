package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lrgov/fleetauth"
)

// auditLockKey names the advisory lock serializing audit appends.
const auditLockKey int64 = 0x666c6561756469 // "fleaudi"

const eventColumns = `seq, id, ts, event_type, actor_id, target_user_id, action, outcome, reason, client_ip, metadata`

// AuditStore keeps the audit log in the audit_events table. Rows are only
// ever inserted, and deleted by Prune.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ fleetauth.AuditStore = (*AuditStore)(nil)

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Insert appends event. The timestamp is raised to the newest stored one
// when another instance wrote a later event first.
func (s *AuditStore) Insert(ctx context.Context, event fleetauth.AuditEvent) (fleetauth.AuditEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fleetauth.AuditEvent{}, storageError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, auditLockKey); err != nil {
		return fleetauth.AuditEvent{}, storageError(err)
	}

	event.Timestamp = event.Timestamp.UTC().Truncate(time.Microsecond)

	var last time.Time
	err = tx.QueryRow(ctx, `SELECT ts FROM audit_events ORDER BY seq DESC LIMIT 1`).Scan(&last)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fleetauth.AuditEvent{}, storageError(err)
	case event.Timestamp.Before(last):
		event.Timestamp = last.UTC()
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO audit_events (id, ts, event_type, actor_id, target_user_id, action, outcome, reason, client_ip, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq`,
		event.ID, event.Timestamp, string(event.EventType), event.ActorID, event.TargetUserID,
		event.Action, string(event.Outcome), event.Reason, event.ClientIP, event.Metadata,
	).Scan(&event.Seq)
	if err != nil {
		return fleetauth.AuditEvent{}, storageError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fleetauth.AuditEvent{}, storageError(err)
	}
	return event, nil
}

// Query returns matching events, most recent first.
func (s *AuditStore) Query(ctx context.Context, filter fleetauth.AuditFilter) ([]fleetauth.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.TargetUserID != "" {
		add("target_user_id = $%d", filter.TargetUserID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", string(filter.EventType))
	}
	if !filter.Since.IsZero() {
		add("ts >= $%d", filter.Since.UTC())
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + eventColumns + ` FROM audit_events`)
	if len(where) > 0 {
		q.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	q.WriteString(` ORDER BY seq DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&q, ` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()

	out := make([]fleetauth.AuditEvent, 0)
	for rows.Next() {
		var (
			ev      fleetauth.AuditEvent
			typ     string
			outcome string
		)
		if err := rows.Scan(
			&ev.Seq, &ev.ID, &ev.Timestamp, &typ, &ev.ActorID, &ev.TargetUserID,
			&ev.Action, &outcome, &ev.Reason, &ev.ClientIP, &ev.Metadata,
		); err != nil {
			return nil, storageError(err)
		}
		ev.EventType = fleetauth.AuditEventType(typ)
		ev.Outcome = fleetauth.AuditOutcome(outcome)
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return out, nil
}

// Prune deletes events older than cutoff and then all but the newest keep.
func (s *AuditStore) Prune(ctx context.Context, cutoff time.Time, keep int) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, storageError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, auditLockKey); err != nil {
		return 0, storageError(err)
	}

	var removed int64
	if !cutoff.IsZero() {
		tag, err := tx.Exec(ctx, `DELETE FROM audit_events WHERE ts < $1`, cutoff.UTC())
		if err != nil {
			return 0, storageError(err)
		}
		removed += tag.RowsAffected()
	}
	if keep > 0 {
		tag, err := tx.Exec(ctx, `
			DELETE FROM audit_events
			WHERE seq <= (SELECT seq FROM audit_events ORDER BY seq DESC OFFSET $1 LIMIT 1)`,
			keep,
		)
		if err != nil {
			return 0, storageError(err)
		}
		removed += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storageError(err)
	}
	return removed, nil
}

func (s *AuditStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageError(err)
	}
	return nil
}
