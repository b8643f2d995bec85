// Package otel publishes fleetauth engine counters as OpenTelemetry
// observable instruments.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge. One callback reads the engine snapshot per collection
// cycle. Callers own the MeterProvider.
package otel
