// Package internaldefs holds the metric names, help strings and latency
// bucket bounds shared by the Prometheus and OpenTelemetry exporters.
//
// Both exporters read the same tables, so a renamed counter changes every
// exporter at once.
package internaldefs
