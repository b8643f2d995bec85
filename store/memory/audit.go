package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lrgov/fleetauth"
)

// AuditStore is an append-only slice of events ordered by Seq.
type AuditStore struct {
	mu     sync.RWMutex
	events []fleetauth.AuditEvent
	seq    int64
}

var _ fleetauth.AuditStore = (*AuditStore)(nil)

// NewAuditStore returns an empty audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Insert stores event with the next Seq. A timestamp older than the last
// stored one is raised to it.
func (s *AuditStore) Insert(ctx context.Context, event fleetauth.AuditEvent) (fleetauth.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return fleetauth.AuditEvent{}, fmt.Errorf("%w: %v", fleetauth.ErrStorage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.events); n > 0 && event.Timestamp.Before(s.events[n-1].Timestamp) {
		event.Timestamp = s.events[n-1].Timestamp
	}
	s.seq++
	event.Seq = s.seq
	event.Metadata = copyMetadata(event.Metadata)

	s.events = append(s.events, event)
	return copyEvent(event), nil
}

// Query returns matching events, most recent first.
func (s *AuditStore) Query(ctx context.Context, filter fleetauth.AuditFilter) ([]fleetauth.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", fleetauth.ErrStorage, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]fleetauth.AuditEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		if filter.Matches(s.events[i]) {
			out = append(out, copyEvent(s.events[i]))
		}
	}
	return out, nil
}

// Prune drops events older than cutoff and then all but the newest keep.
func (s *AuditStore) Prune(ctx context.Context, cutoff time.Time, keep int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", fleetauth.ErrStorage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if !cutoff.IsZero() {
		for start < len(s.events) && s.events[start].Timestamp.Before(cutoff) {
			start++
		}
	}
	if keep > 0 && len(s.events)-start > keep {
		start = len(s.events) - keep
	}
	if start == 0 {
		return 0, nil
	}

	kept := make([]fleetauth.AuditEvent, len(s.events)-start)
	copy(kept, s.events[start:])
	s.events = kept
	return int64(start), nil
}

// Len returns the number of stored events.
func (s *AuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func copyEvent(ev fleetauth.AuditEvent) fleetauth.AuditEvent {
	ev.Metadata = copyMetadata(ev.Metadata)
	return ev
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
