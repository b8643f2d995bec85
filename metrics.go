package fleetauth

import (
	"sort"
	"strconv"
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricLoginSuccess counts logins that produced a session directly.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected credential checks.
	MetricLoginFailure
	// MetricLoginBlocked counts attempts refused by an active lockout.
	MetricLoginBlocked
	// MetricLockoutTriggered counts failures that started a block.
	MetricLockoutTriggered
	// MetricMFARequired counts logins that issued an MFA challenge.
	MetricMFARequired
	// MetricMFASuccess counts verified MFA challenges.
	MetricMFASuccess
	// MetricMFAFailure counts wrong or forged MFA submissions.
	MetricMFAFailure
	// MetricMFAExpired counts challenges presented after expiry.
	MetricMFAExpired
	// MetricMFAReplay counts submissions of an already consumed challenge.
	MetricMFAReplay
	// MetricMFAEnabled counts MFA enable calls that changed an account.
	MetricMFAEnabled
	// MetricMFADisabled counts MFA disable calls that changed an account.
	MetricMFADisabled
	// MetricSessionCreated counts created sessions.
	MetricSessionCreated
	// MetricLogout counts destroyed sessions.
	MetricLogout
	// MetricPasswordRehashed counts verifiers upgraded on login.
	MetricPasswordRehashed
	// MetricPermissionDenied counts refused privileged calls.
	MetricPermissionDenied
	// MetricStorageFailure counts operations that failed on a backend.
	MetricStorageFailure
	// MetricAuditAppendFailure counts audit events that could not be persisted.
	MetricAuditAppendFailure
	// MetricAuditPruned counts audit events removed by retention.
	MetricAuditPruned
	// MetricLoginLatency is the login latency histogram.
	MetricLoginLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:       "login_success",
	MetricLoginFailure:       "login_failure",
	MetricLoginBlocked:       "login_blocked",
	MetricLockoutTriggered:   "lockout_triggered",
	MetricMFARequired:        "mfa_required",
	MetricMFASuccess:         "mfa_success",
	MetricMFAFailure:         "mfa_failure",
	MetricMFAExpired:         "mfa_expired",
	MetricMFAReplay:          "mfa_replay",
	MetricMFAEnabled:         "mfa_enabled",
	MetricMFADisabled:        "mfa_disabled",
	MetricSessionCreated:     "session_created",
	MetricLogout:             "logout",
	MetricPasswordRehashed:   "password_rehashed",
	MetricPermissionDenied:   "permission_denied",
	MetricStorageFailure:     "storage_failure",
	MetricAuditAppendFailure: "audit_append_failure",
	MetricAuditPruned:        "audit_pruned",
	MetricLoginLatency:       "login_latency",
}

func (id MetricID) String() string {
	if id < metricIDCount {
		return metricNames[id]
	}
	return "metric(" + strconv.Itoa(int(id)) + ")"
}

// latencyBounds are inclusive upper bounds; anything slower lands in the
// last bucket. Login time is dominated by the password hash, so the first
// bound is already 25ms.
var latencyBounds = [...]time.Duration{
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
}

const latencyBuckets = len(latencyBounds) + 1

// counter sits alone on its cache line so hot counters do not contend.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free counters. A nil or disabled Metrics ignores writes.
type Metrics struct {
	enabled bool
	latency bool
	counts  [metricIDCount]counter
	login   [latencyBuckets]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates counters per cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool        { return m != nil && m.enabled }
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

func (m *Metrics) Inc(id MetricID) { m.Add(id, 1) }

// Add adds n to id. The latency id is not a counter and is ignored.
func (m *Metrics) Add(id MetricID, n uint64) {
	if !m.Enabled() || id >= metricIDCount || id == MetricLoginLatency || n == 0 {
		return
	}
	m.counts[id].Add(n)
}

// Observe records d. Only MetricLoginLatency has a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricLoginLatency {
		return
	}
	i := sort.Search(len(latencyBounds), func(i int) bool { return d <= latencyBounds[i] })
	m.login[i].Add(1)
}

// Value returns the current value of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counts[id].Load()
}

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return snap
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id != MetricLoginLatency {
			snap.Counters[id] = m.counts[id].Load()
		}
	}
	if m.latency {
		buckets := make([]uint64, latencyBuckets)
		for i := range buckets {
			buckets[i] = m.login[i].Load()
		}
		snap.Histograms[MetricLoginLatency] = buckets
	}
	return snap
}
