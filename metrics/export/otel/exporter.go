package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/lrgov/fleetauth"
	"github.com/lrgov/fleetauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is read once per collection cycle. *fleetauth.Engine satisfies it.
type Source interface {
	MetricsSnapshot() fleetauth.MetricsSnapshot
	AuditDropped() uint64
}

// observation reports one or more instruments from a snapshot.
type observation func(o metric.Observer, snap fleetauth.MetricsSnapshot, dropped uint64)

// Exporter holds the callback registration for a Source.
type Exporter struct {
	registration metric.Registration
}

// New registers observable instruments for the engine on meter.
func New(meter metric.Meter, engine *fleetauth.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewFromSource(meter, engine)
}

// NewFromSource registers observable instruments for source on meter.
func NewFromSource(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var (
		instruments  []metric.Observable
		observations []observation
	)

	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		instruments = append(instruments, c)
		observations = append(observations, func(o metric.Observer, snap fleetauth.MetricsSnapshot, _ uint64) {
			o.ObserveInt64(c, int64(snap.Counters[id]))
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		gauges, err := histogramGauges(meter, def)
		if err != nil {
			return nil, err
		}
		for _, g := range gauges {
			instruments = append(instruments, g)
		}
		id := def.ID
		observations = append(observations, func(o metric.Observer, snap fleetauth.MetricsSnapshot, _ uint64) {
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[id]))
			for i, v := range cumulative {
				o.ObserveInt64(gauges[i], int64(v))
			}
			// Last gauge is _count, equal to the +Inf bucket.
			o.ObserveInt64(gauges[len(gauges)-1], int64(cumulative[len(cumulative)-1]))
		})
	}

	dropped, err := meter.Int64ObservableCounter("fleetauth_audit_mirror_dropped_total",
		metric.WithDescription("Persisted audit events the mirror sinks dropped under backpressure."))
	if err != nil {
		return nil, fmt.Errorf("counter fleetauth_audit_mirror_dropped_total: %w", err)
	}
	instruments = append(instruments, dropped)
	observations = append(observations, func(o metric.Observer, _ fleetauth.MetricsSnapshot, n uint64) {
		o.ObserveInt64(dropped, int64(n))
	})

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.MetricsSnapshot()
		n := source.AuditDropped()
		for _, observe := range observations {
			observe(o, snap, n)
		}
		return nil
	}, instruments...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return &Exporter{registration: reg}, nil
}

// histogramGauges returns one gauge per bucket followed by the _count gauge.
func histogramGauges(meter metric.Meter, def internaldefs.HistogramDef) ([]metric.Int64ObservableGauge, error) {
	out := make([]metric.Int64ObservableGauge, 0, len(internaldefs.HistogramBoundSuffix)+1)
	for _, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		g, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative bucket count of "+def.Name+"."))
		if err != nil {
			return nil, fmt.Errorf("gauge %s: %w", name, err)
		}
		out = append(out, g)
	}
	g, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Observations in "+def.Name+"."))
	if err != nil {
		return nil, fmt.Errorf("gauge %s_count: %w", def.Name, err)
	}
	return append(out, g), nil
}

// Close unregisters the callback. Instruments stay defined on the meter but
// report nothing further.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
