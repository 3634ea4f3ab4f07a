// Package main hosts the registry crawler entrypoint.
//
// A run walks a half-open range of registration codes. For each code a worker
// fetches the registry search page once, extracts the company record (with a
// VAT lookup), and upserts the company, its representatives, and WORKS_IN
// edges into the graph store.
//
// Wiring:
//   - Configuration comes from Viper (CRAWLER_* env vars over an optional
//     -config file); an invalid config exits with status 2 before any request.
//   - When auth.enabled is set, internal/auth logs in first and the session
//     cookie jar is shared by every fetch.
//   - internal/dispatcher paces cycle starts with one token bucket shared by
//     crawl.workers goroutines.
//   - graph.driver picks Neo4j or the in-memory store; db.dsn enables the
//     Postgres outcome ledger.
//   - server.port > 0 starts the ops server (/healthz, /readyz, /metrics,
//     /v1/run) for the lifetime of the run.
//
// SIGINT or SIGTERM stops dispatch; in-flight cycles finish before exit.
//
// Run locally: go run ./cmd/registrycrawler -config config.yaml
package main
