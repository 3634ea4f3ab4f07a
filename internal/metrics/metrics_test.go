package metrics

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlerFetchesTotal == nil || crawlerOutcomesTotal == nil ||
		crawlerGraphWritesTotal == nil || crawlerPacingDelaySeconds == nil ||
		crawlerBusyWorkers == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetch(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues(TargetVAT, "503"))
	errBefore := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues(TargetVAT, "error"))

	ObserveFetch(TargetVAT, http.StatusServiceUnavailable, 10*time.Millisecond)
	ObserveFetch(TargetVAT, 0, time.Millisecond)

	if val := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues(TargetVAT, "503")); val != before+1 {
		t.Errorf("Expected 503 fetches to be %f, got %f", before+1, val)
	}
	if val := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues(TargetVAT, "error")); val != errBefore+1 {
		t.Errorf("Expected error fetches to be %f, got %f", errBefore+1, val)
	}
}

func TestObserveGraphWrite(t *testing.T) {
	Init()
	okBefore := testutil.ToFloat64(crawlerGraphWritesTotal.WithLabelValues("company", "ok"))
	errBefore := testutil.ToFloat64(crawlerGraphWritesTotal.WithLabelValues("company", "error"))

	ObserveGraphWrite("company", nil)
	ObserveGraphWrite("company", errors.New("boom"))

	if val := testutil.ToFloat64(crawlerGraphWritesTotal.WithLabelValues("company", "ok")); val != okBefore+1 {
		t.Errorf("Expected ok writes to be %f, got %f", okBefore+1, val)
	}
	if val := testutil.ToFloat64(crawlerGraphWritesTotal.WithLabelValues("company", "error")); val != errBefore+1 {
		t.Errorf("Expected error writes to be %f, got %f", errBefore+1, val)
	}
}

func TestBusyWorkersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlerBusyWorkers)
	IncBusyWorkers()
	IncBusyWorkers()
	DecBusyWorkers()
	if val := testutil.ToFloat64(crawlerBusyWorkers); val != before+1 {
		t.Errorf("Expected busy workers to be %f, got %f", before+1, val)
	}
}

func TestObserveOutcomeAndPacing(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlerOutcomesTotal.WithLabelValues("stored"))
	ObserveOutcome("stored")
	if val := testutil.ToFloat64(crawlerOutcomesTotal.WithLabelValues("stored")); val != before+1 {
		t.Errorf("Expected stored outcomes to be %f, got %f", before+1, val)
	}

	ObservePacingDelay(250 * time.Millisecond)
	if val := testutil.CollectAndCount(crawlerPacingDelaySeconds); val != 1 {
		t.Errorf("Expected one pacing histogram series, got %d", val)
	}
}
