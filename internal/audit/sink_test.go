package audit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapSinkWritesFlatFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{
		ID:           "01",
		Seq:          7,
		Timestamp:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		EventType:    "access_denied",
		ActorID:      "u2",
		TargetUserID: "u1",
		Action:       "read_audit",
		Outcome:      "failure",
		Reason:       "insufficient_clearance",
		Metadata:     map[string]string{"b": "2", "a": "1"},
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "audit" || e.Message != "audit event" {
		t.Fatalf("unexpected entry: %s %q", e.LoggerName, e.Message)
	}
	fields := e.ContextMap()
	if fields["event_type"] != "access_denied" || fields["seq"] != int64(7) || fields["reason"] != "insufficient_clearance" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if _, ok := fields["client_ip"]; ok {
		t.Fatal("empty client_ip should be omitted")
	}
	meta, ok := fields["metadata"].(map[string]interface{})
	if !ok || meta["a"] != "1" || meta["b"] != "2" {
		t.Fatalf("unexpected metadata: %#v", fields["metadata"])
	}
}

func TestChannelSinkHonoursContext(t *testing.T) {
	sink := NewChannelSink(0)
	sink.Emit(context.Background(), Event{ID: "first"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, Event{ID: "second"})

	if ev := <-sink.Events(); ev.ID != "first" {
		t.Fatalf("unexpected event %q", ev.ID)
	}
	select {
	case ev := <-sink.Events():
		t.Fatalf("cancelled emit delivered %q", ev.ID)
	default:
	}
}
