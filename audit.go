package fleetauth

import (
	"io"

	"github.com/lrgov/fleetauth/internal/audit"
	"go.uber.org/zap"
)

// AuditSink receives copies of audit events after they are persisted. Sinks
// are a mirror for log shipping; the AuditStore remains the record.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers audit events into a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = audit.JSONWriterSink

// MultiSink fans one event out to several sinks.
type MultiSink = audit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink logs each persisted event as a structured entry on logger.
func NewZapSink(logger *zap.Logger) AuditSink {
	return audit.NewZapSink(logger)
}
