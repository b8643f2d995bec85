package internaldefs

import (
	"github.com/lrgov/fleetauth"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   fleetauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   fleetauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter both exporters publish.
var CounterDefs = []CounterDef{
	{ID: fleetauth.MetricLoginSuccess, Name: "fleetauth_login_success_total", Help: "Logins that created a session without an MFA step."},
	{ID: fleetauth.MetricLoginFailure, Name: "fleetauth_login_failure_total", Help: "Rejected credential checks."},
	{ID: fleetauth.MetricLoginBlocked, Name: "fleetauth_login_blocked_total", Help: "Login attempts refused by an active lockout."},
	{ID: fleetauth.MetricLockoutTriggered, Name: "fleetauth_lockout_triggered_total", Help: "Failures that started a lockout block."},
	{ID: fleetauth.MetricMFARequired, Name: "fleetauth_mfa_required_total", Help: "Logins that issued an MFA challenge."},
	{ID: fleetauth.MetricMFASuccess, Name: "fleetauth_mfa_success_total", Help: "Verified MFA challenges."},
	{ID: fleetauth.MetricMFAFailure, Name: "fleetauth_mfa_failure_total", Help: "Wrong or forged MFA submissions."},
	{ID: fleetauth.MetricMFAExpired, Name: "fleetauth_mfa_expired_total", Help: "MFA challenges presented after expiry."},
	{ID: fleetauth.MetricMFAReplay, Name: "fleetauth_mfa_replay_total", Help: "Submissions of an already consumed MFA challenge."},
	{ID: fleetauth.MetricMFAEnabled, Name: "fleetauth_mfa_enabled_total", Help: "MFA enable operations that changed an account."},
	{ID: fleetauth.MetricMFADisabled, Name: "fleetauth_mfa_disabled_total", Help: "MFA disable operations that changed an account."},
	{ID: fleetauth.MetricSessionCreated, Name: "fleetauth_session_created_total", Help: "Created sessions."},
	{ID: fleetauth.MetricLogout, Name: "fleetauth_logout_total", Help: "Destroyed sessions."},
	{ID: fleetauth.MetricPasswordRehashed, Name: "fleetauth_password_rehashed_total", Help: "Password verifiers upgraded on login."},
	{ID: fleetauth.MetricPermissionDenied, Name: "fleetauth_permission_denied_total", Help: "Refused privileged calls."},
	{ID: fleetauth.MetricStorageFailure, Name: "fleetauth_storage_failure_total", Help: "Operations that failed on a storage backend."},
	{ID: fleetauth.MetricAuditAppendFailure, Name: "fleetauth_audit_append_failure_total", Help: "Audit events that could not be persisted."},
	{ID: fleetauth.MetricAuditPruned, Name: "fleetauth_audit_pruned_total", Help: "Audit events removed by retention."},
}

// HistogramDefs lists every histogram both exporters publish.
var HistogramDefs = []HistogramDef{
	{ID: fleetauth.MetricLoginLatency, Name: "fleetauth_login_latency_seconds", Help: "Login latency histogram."},
}

// HistogramBounds are the upper bounds of the eight latency buckets.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in instrument-name form.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
