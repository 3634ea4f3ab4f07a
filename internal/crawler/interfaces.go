package crawler

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared across the pipeline.
var (
	// ErrInvalidConfig wraps every configuration violation.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnexpectedStatus is returned for non-success HTTP responses.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrAuthentication is returned when the registry rejects the login.
	ErrAuthentication = errors.New("invalid authentication credentials")
)

// Fetcher issues a GET and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns a search response body into a record. It returns
// (nil, false, nil) when the page carries a deleted or missing marker.
type Extractor interface {
	Extract(ctx context.Context, document []byte, id Identifier) (*CompanyRecord, bool, error)
}

// GraphStore persists a record as company/person nodes and WORKS_IN edges.
type GraphStore interface {
	Upsert(ctx context.Context, record *CompanyRecord) error
}

// Ledger records the outcome of each identifier's crawl cycle.
type Ledger interface {
	RecordOutcome(ctx context.Context, record OutcomeRecord) error
}

// Processor runs one full crawl cycle for an identifier.
type Processor interface {
	Process(ctx context.Context, id Identifier) Outcome
}

// Pacer admits new work at a bounded rate.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Clock abstracts wall time so cycle durations and ledger timestamps can be
// pinned in tests.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether a failed operation may be re-issued.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
