// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and an in-memory history of recent deliveries.
package sinks
