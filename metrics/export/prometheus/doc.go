// Package prometheus renders fleetauth engine counters in Prometheus text
// exposition format.
//
// Counters are named fleetauth_*_total and the single histogram is
// fleetauth_login_latency_seconds. Nothing is registered globally; callers
// mount Handler where they want it.
package prometheus
