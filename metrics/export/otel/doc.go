// Package otel publishes qauth engine counters through an OpenTelemetry
// Meter.
//
// [New] registers one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per latency bucket. A single callback reads
// [qauth.Engine.MetricsSnapshot] on every collection. The caller owns the
// MeterProvider.
package otel
