// Package metrics exposes Prometheus counters for assignment outcomes.
//
// Metrics are served from the HTTP address configured in the metrics
// section of the config file, default path /metrics.
package metrics
