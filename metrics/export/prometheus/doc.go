// Package prometheus exposes qauth engine counters as a Prometheus
// collector.
//
// [New] wraps an [qauth.Engine]; the result can be registered on any
// registry or served directly through [Exporter.Handler], which uses a
// private registry. Counters are named qauth_*_total and the single
// histogram is qauth_validate_latency_seconds.
package prometheus
