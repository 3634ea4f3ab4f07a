// Package crawler defines the domain types and collaborator interfaces shared
// by the registry crawl pipeline: identifiers and ranges, extracted company
// records, fetch requests/responses, graph store and outcome ledger contracts.
package crawler
