package audit

import (
	"context"
	"time"
)

// EventType enumerates the security events the engine records.
type EventType string

// Outcome is the result recorded with an event.
type Outcome string

// Event is one immutable record of the security audit trail.
type Event struct {
	ID           string            `json:"id"`
	Seq          int64             `json:"seq"`
	Timestamp    time.Time         `json:"timestamp"`
	EventType    EventType         `json:"event_type"`
	ActorID      string            `json:"actor_id,omitempty"`
	TargetUserID string            `json:"target_user_id,omitempty"`
	Action       string            `json:"action"`
	Outcome      Outcome           `json:"outcome"`
	Reason       string            `json:"reason,omitempty"`
	ClientIP     string            `json:"client_ip,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	ActorID      string
	TargetUserID string
	EventType    EventType
	Since        time.Time
	Limit        int
}

// Matches reports whether ev passes the filter. Store implementations share it.
func (f Filter) Matches(ev Event) bool {
	if f.ActorID != "" && ev.ActorID != f.ActorID {
		return false
	}
	if f.TargetUserID != "" && ev.TargetUserID != f.TargetUserID {
		return false
	}
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Store is the durable backend of the audit log.
//
// Insert persists an event whose ID and Timestamp are already assigned and
// returns it as stored: Seq set, and Timestamp raised to its predecessor's if
// another writer got there first. Query returns matches most recent first.
// Prune deletes events older than cutoff (when non-zero) and all but the
// newest keep events (when keep > 0); it is only ever invoked through an
// explicit retention operation.
type Store interface {
	Insert(ctx context.Context, event Event) (Event, error)
	Query(ctx context.Context, filter Filter) ([]Event, error)
	Prune(ctx context.Context, cutoff time.Time, keep int) (int64, error)
}
