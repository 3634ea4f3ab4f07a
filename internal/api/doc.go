// Package api hosts the optional operations server that runs alongside a
// crawl. Routes:
//   - GET /healthz and /readyz for liveness and dependency checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for live progress of the current run.
package api
