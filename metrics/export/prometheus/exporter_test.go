package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lrgov/fleetauth"
)

type fakeSource struct {
	snapshot fleetauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() fleetauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderEmptySnapshot(t *testing.T) {
	exp := New(fakeSource{
		snapshot: fleetauth.MetricsSnapshot{
			Counters:   map[fleetauth.MetricID]uint64{},
			Histograms: map[fleetauth.MetricID][]uint64{},
		},
	})
	if out := exp.Render(); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: fleetauth.MetricsSnapshot{
			Counters: map[fleetauth.MetricID]uint64{
				fleetauth.MetricLoginSuccess:     7,
				fleetauth.MetricLockoutTriggered: 1,
				fleetauth.MetricMFAReplay:        2,
			},
			Histograms: map[fleetauth.MetricID][]uint64{
				fleetauth.MetricLoginLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"fleetauth_login_success_total 7",
		"fleetauth_lockout_triggered_total 1",
		"fleetauth_mfa_replay_total 2",
		"fleetauth_login_failure_total 0",
		"# TYPE fleetauth_login_latency_seconds histogram",
		"fleetauth_login_latency_seconds_bucket{le=\"0.025\"} 1",
		"fleetauth_login_latency_seconds_bucket{le=\"0.25\"} 10",
		"fleetauth_login_latency_seconds_bucket{le=\"+Inf\"} 36",
		"fleetauth_login_latency_seconds_count 36",
		"fleetauth_audit_mirror_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestRenderNilExporter(t *testing.T) {
	var exp *Exporter
	if out := exp.Render(); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := New(fakeSource{
		snapshot: fleetauth.MetricsSnapshot{
			Counters:   map[fleetauth.MetricID]uint64{fleetauth.MetricLoginSuccess: 1},
			Histograms: map[fleetauth.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fleetauth_login_success_total 1") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestWriteToReportsWriterError(t *testing.T) {
	exp := New(fakeSource{
		snapshot: fleetauth.MetricsSnapshot{
			Counters:   map[fleetauth.MetricID]uint64{fleetauth.MetricLogout: 3},
			Histograms: map[fleetauth.MetricID][]uint64{},
		},
	})
	if _, err := exp.WriteTo(failingWriter{}); err == nil {
		t.Fatal("expected write error")
	}
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{
		snapshot: fleetauth.MetricsSnapshot{
			Counters: map[fleetauth.MetricID]uint64{
				fleetauth.MetricLoginSuccess:   1000,
				fleetauth.MetricLoginFailure:   40,
				fleetauth.MetricMFARequired:    300,
				fleetauth.MetricMFASuccess:     290,
				fleetauth.MetricSessionCreated: 1290,
				fleetauth.MetricLogout:         900,
			},
			Histograms: map[fleetauth.MetricID][]uint64{
				fleetauth.MetricLoginLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
