package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/lrgov/fleetauth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot fleetauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() fleetauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := fleetauth.MetricsSnapshot{
		Counters:   make(map[fleetauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[fleetauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("fleetauth-test")

	src := &fakeSource{
		snapshot: fleetauth.MetricsSnapshot{
			Counters: map[fleetauth.MetricID]uint64{
				fleetauth.MetricLoginSuccess:     3,
				fleetauth.MetricLockoutTriggered: 2,
			},
			Histograms: map[fleetauth.MetricID][]uint64{
				fleetauth.MetricLoginLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)
	if got["fleetauth_login_success_total"] != 3 {
		t.Fatalf("login success: got %d", got["fleetauth_login_success_total"])
	}
	if got["fleetauth_lockout_triggered_total"] != 2 {
		t.Fatalf("lockout triggered: got %d", got["fleetauth_lockout_triggered_total"])
	}
	if got["fleetauth_login_latency_seconds_bucket_le_0_1"] != 3 {
		t.Fatalf("cumulative bucket: got %d", got["fleetauth_login_latency_seconds_bucket_le_0_1"])
	}
	if got["fleetauth_login_latency_seconds_count"] != 8 {
		t.Fatalf("histogram count: got %d", got["fleetauth_login_latency_seconds_count"])
	}
	if got["fleetauth_audit_mirror_dropped_total"] != 1 {
		t.Fatalf("audit dropped: got %d", got["fleetauth_audit_mirror_dropped_total"])
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("fleetauth-test")

	if _, err := NewFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterCloseStopsObservation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("fleetauth-test")

	src := &fakeSource{snapshot: fleetauth.MetricsSnapshot{
		Counters: map[fleetauth.MetricID]uint64{fleetauth.MetricLogout: 4},
	}}
	exp, err := NewFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if v, ok := collect(t, reader)["fleetauth_logout_total"]; ok && v != 0 {
		t.Fatalf("expected no observation after Close, got %d", v)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("fleetauth-test")

	src := &fakeSource{
		snapshot: fleetauth.MetricsSnapshot{
			Counters: map[fleetauth.MetricID]uint64{
				fleetauth.MetricLoginSuccess: 1,
			},
			Histograms: map[fleetauth.MetricID][]uint64{
				fleetauth.MetricLoginLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[fleetauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestNewRejectsNilEngine(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("fleetauth-test")
	if _, err := New(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}
