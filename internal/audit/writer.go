package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrWriterClosed is returned by Append after Close.
	ErrWriterClosed = errors.New("audit writer closed")
)

const redacted = "[redacted]"

// sensitiveKeys are metadata key fragments whose values never reach storage.
var sensitiveKeys = []string{"password", "passcode", "code", "otp", "secret", "token", "verifier"}

// WriterConfig controls the append path.
type WriterConfig struct {
	QueueSize        int
	OperationTimeout time.Duration
}

type appendRequest struct {
	ctx   context.Context
	event Event
	reply chan appendResult
}

type appendResult struct {
	event Event
	err   error
}

// Writer serializes every append through one goroutine, so ids, timestamps
// and store sequence numbers are assigned in a single order.
type Writer struct {
	cfg    WriterConfig
	store  Store
	mirror *Mirror
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	reqs   chan appendRequest
	done   chan struct{}
	wg     sync.WaitGroup

	// last is owned by the run goroutine.
	last time.Time
}

// NewWriter starts a Writer over store. mirror may be nil.
func NewWriter(cfg WriterConfig, store Store, mirror *Mirror, now func() time.Time) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 2 * time.Second
	}
	if now == nil {
		now = time.Now
	}

	w := &Writer{
		cfg:    cfg,
		store:  store,
		mirror: mirror,
		now:    now,
		reqs:   make(chan appendRequest, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w
}

// Append persists event and returns it as stored. The caller's ctx bounds
// only the wait for a queue slot; once queued the write runs under the
// writer's own timeout so a cancelled caller cannot leave it half-done.
func (w *Writer) Append(ctx context.Context, event Event) (Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req := appendRequest{
		ctx:   context.WithoutCancel(ctx),
		event: event,
		reply: make(chan appendResult, 1),
	}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return Event{}, ErrWriterClosed
	}
	select {
	case w.reqs <- req:
	case <-ctx.Done():
		w.mu.RUnlock()
		return Event{}, ctx.Err()
	}
	w.mu.RUnlock()

	res := <-req.reply
	return res.event, res.err
}

func (w *Writer) run() {
	defer w.wg.Done()

	for {
		select {
		case req := <-w.reqs:
			req.reply <- w.write(req)
		case <-w.done:
			for {
				select {
				case req := <-w.reqs:
					req.reply <- w.write(req)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(req appendRequest) appendResult {
	ev := req.event

	id, err := uuid.NewV7()
	if err != nil {
		return appendResult{err: fmt.Errorf("audit id: %w", err)}
	}
	ev.ID = id.String()

	ts := w.now().UTC()
	if ts.Before(w.last) {
		ts = w.last
	}
	ev.Timestamp = ts
	ev.Metadata = Redact(ev.Metadata)

	ctx, cancel := context.WithTimeout(req.ctx, w.cfg.OperationTimeout)
	stored, err := w.store.Insert(ctx, ev)
	cancel()
	if err != nil {
		return appendResult{err: err}
	}

	if stored.Timestamp.After(w.last) {
		w.last = stored.Timestamp
	}
	w.mirror.Emit(context.Background(), stored)
	return appendResult{event: stored}
}

// Close drains queued appends, stops the writer and then the mirror.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	w.mirror.Close()
}

// MirrorDropped returns the number of persisted events the mirror dropped.
func (w *Writer) MirrorDropped() uint64 {
	return w.mirror.Dropped()
}

// Redact returns a copy of meta with sensitive values replaced.
func Redact(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if isSensitiveKey(k) {
			v = redacted
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
