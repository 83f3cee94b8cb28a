// Package api hosts the admin HTTP server. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the last scan report and dispatch queue depth.
//   - GET /v1/subscriptions and /v1/titles for read-only state inspection.
//   - GET /v1/deliveries for recently finished deliveries.
//   - POST /v1/titles/refresh to reset a title's watermark.
package api
