package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// MirrorConfig sizes the mirror queue. With DropIfFull an event that does
// not fit is counted and discarded; otherwise Emit waits for room until its
// context ends.
type MirrorConfig struct {
	BufferSize int
	DropIfFull bool
}

// Mirror relays persisted events to a Sink on its own goroutine, so a slow
// sink never holds up the Writer.
type Mirror struct {
	sink       Sink
	dropIfFull bool

	mu     sync.RWMutex
	closed bool
	queue  chan Event

	stop     chan struct{}
	finished chan struct{}
	once     sync.Once
	dropped  atomic.Uint64
}

// NewMirror starts relaying to sink. A nil sink gives a nil *Mirror, which
// is safe to use and does nothing.
func NewMirror(cfg MirrorConfig, sink Sink) *Mirror {
	if sink == nil {
		return nil
	}
	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}
	m := &Mirror{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, size),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
	go m.relay()
	return m
}

func (m *Mirror) relay() {
	defer close(m.finished)
	for ev := range m.queue {
		m.sink.Emit(context.Background(), ev)
	}
}

// Emit queues event for the sink.
func (m *Mirror) Emit(ctx context.Context, event Event) {
	if m == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	if m.dropIfFull {
		select {
		case m.queue <- event:
		default:
			m.dropped.Add(1)
		}
		return
	}
	select {
	case m.queue <- event:
	case <-ctx.Done():
		m.dropped.Add(1)
	case <-m.stop:
	}
}

// Close delivers what is already queued and stops the relay.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.stop)
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
		<-m.finished
	})
}

// Dropped counts events that never reached the queue.
func (m *Mirror) Dropped() uint64 {
	if m == nil {
		return 0
	}
	return m.dropped.Load()
}
