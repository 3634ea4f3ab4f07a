package crawler

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Registration code bounds accepted by the registry.
const (
	MinIdentifier Identifier = 10_000_000
	MaxIdentifier Identifier = 99_999_999
)

// Worker pool bounds.
const (
	MinWorkers = 1
	MaxWorkers = 16
)

// Null marks a field the registry explicitly reports as unknown. It is
// distinct from the field being absent from the record.
const Null = "null"

// Identifier is a numeric registration code.
type Identifier int64

// String renders the identifier the way the registry expects it in queries.
func (id Identifier) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Range is a half-open identifier range [Start, Stop).
type Range struct {
	Start Identifier
	Stop  Identifier
}

// Validate checks the registry bounds.
func (r Range) Validate() error {
	if r.Start < MinIdentifier || r.Stop > MaxIdentifier || r.Start >= r.Stop {
		return fmt.Errorf(
			"%w: illegal range of registration codes [%d, %d): need %d <= start < stop <= %d",
			ErrInvalidConfig, r.Start, r.Stop, MinIdentifier, MaxIdentifier,
		)
	}
	return nil
}

// Len returns the number of identifiers in the range.
func (r Range) Len() int {
	if r.Stop <= r.Start {
		return 0
	}
	return int(r.Stop - r.Start)
}

// ValidRate reports whether rps is a usable pacing rate: finite and positive.
func ValidRate(rps float64) bool {
	return !math.IsNaN(rps) && !math.IsInf(rps, 0) && rps > 0
}

// Field names a normalized company attribute.
type Field string

// Canonical record fields.
const (
	FieldName            Field = "name"
	FieldRC              Field = "rc"
	FieldOpAddress       Field = "op_address"
	FieldLegalAddress    Field = "l_address"
	FieldVATNo           Field = "vat_no"
	FieldFounded         Field = "founded"
	FieldCapital         Field = "capital"
	FieldPhone           Field = "phone"
	FieldEmail           Field = "email"
	FieldRepresentatives Field = "representatives"
	FieldActivity        Field = "activity"
	FieldTaxes           Field = "taxes"
	FieldEmployees       Field = "empl_num"
	FieldVATIncome       Field = "vat_income"
)

// CompanyRecord is the normalized output of extraction for one identifier.
// Scalar fields live in Fields; representatives are kept in page order.
type CompanyRecord struct {
	RC              Identifier
	Fields          map[Field]string
	Representatives []string
}

// NewCompanyRecord returns an empty record bound to id.
func NewCompanyRecord(id Identifier) *CompanyRecord {
	return &CompanyRecord{
		RC:     id,
		Fields: map[Field]string{},
	}
}

// Name returns the company display name, or "" when absent.
func (r *CompanyRecord) Name() string {
	return r.Get(FieldName)
}

// Get returns a scalar field, or "" when absent.
func (r *CompanyRecord) Get(f Field) string {
	return r.Fields[f]
}

// IsNull reports whether the field was explicitly reported as unknown.
func (r *CompanyRecord) IsNull(f Field) bool {
	v, ok := r.Fields[f]
	return ok && v == Null
}

// Properties flattens the scalar fields into graph node properties. The rc
// property always comes from the identifier.
func (r *CompanyRecord) Properties() map[string]any {
	props := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		props[string(k)] = v
	}
	props[string(FieldRC)] = r.RC.String()
	return props
}

// FetchRequest describes a single GET against the registry.
type FetchRequest struct {
	URL     string
	Query   url.Values
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carries a success status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Outcome classifies how one identifier's crawl cycle ended.
type Outcome string

// Crawl cycle outcomes.
const (
	OutcomeStored      Outcome = "stored"
	OutcomeMissing     Outcome = "missing"
	OutcomeFetchFailed Outcome = "fetch_failed"
	OutcomeStoreFailed Outcome = "store_failed"
)

// OutcomeRecord is persisted by a Ledger for every identifier processed.
type OutcomeRecord struct {
	RunID      string
	RC         Identifier
	Outcome    Outcome
	StatusCode int
	Duration   time.Duration
	RecordedAt time.Time
	ErrorText  string
}

// LinkTarget selects the company property WORKS_IN edges are matched on.
type LinkTarget string

// Supported link targets.
const (
	LinkByName LinkTarget = "name"
	LinkByRC   LinkTarget = "rc"
)

// RunSummary tallies one crawl run.
type RunSummary struct {
	RunID      string
	Range      Range
	StartedAt  time.Time
	FinishedAt time.Time
	Dispatched int
	Outcomes   map[Outcome]int
}

// Undispatched returns the number of identifiers in the range that never
// started a cycle.
func (s RunSummary) Undispatched() int {
	return s.Range.Len() - s.Dispatched
}

// Processed returns the number of identifiers that completed a cycle.
func (s RunSummary) Processed() int {
	total := 0
	for _, n := range s.Outcomes {
		total += n
	}
	return total
}
