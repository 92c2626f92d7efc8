// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape to run a synchronous scrape of every target.
//   - GET /v1/report, /v1/changes and /v1/stats for reading the change history.
//   - POST /v1/changes/notified to acknowledge delivered changes.
package api
