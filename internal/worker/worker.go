// Package worker runs the fetch, extract, store cycle for one identifier.
package worker

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
	"github.com/JakeFAU/registry-graph-crawler/internal/logging"
	"github.com/JakeFAU/registry-graph-crawler/internal/metrics"
)

// ledgerTimeout bounds the ledger write, which runs even after cancellation.
const ledgerTimeout = 5 * time.Second

// Config controls Worker behavior.
type Config struct {
	SearchURL string
	Country   string
	RunID     string
}

// Worker implements crawler.Processor.
type Worker struct {
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	store     crawler.GraphStore
	ledger    crawler.Ledger
	retry     crawler.RetryPolicy
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

var _ crawler.Processor = (*Worker)(nil)

// New constructs a Worker. ledger and retry may be nil.
func New(
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	store crawler.GraphStore,
	ledger crawler.Ledger,
	retry crawler.RetryPolicy,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		ledger:    ledger,
		retry:     retry,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process fetches exactly once, extracts, and stores the record. Failures
// are logged and reported through the returned outcome; they never escape.
func (w *Worker) Process(ctx context.Context, id crawler.Identifier) crawler.Outcome {
	metrics.IncBusyWorkers()
	defer metrics.DecBusyWorkers()

	start := w.clock.Now()
	outcome, status, err := w.cycle(ctx, id)
	metrics.ObserveOutcome(string(outcome))
	w.recordOutcome(ctx, id, outcome, status, w.clock.Since(start), err)
	return outcome
}

func (w *Worker) cycle(ctx context.Context, id crawler.Identifier) (crawler.Outcome, int, error) {
	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL: w.cfg.SearchURL,
		Query: url.Values{
			"riik": {w.cfg.Country},
			"q":    {id.String()},
		},
	})
	metrics.ObserveFetch(metrics.TargetSearch, resp.StatusCode, resp.Duration)
	if err != nil {
		w.logger.Warn("search fetch failed",
			logging.RC(id), zap.Int("status", resp.StatusCode), zap.Error(err))
		return crawler.OutcomeFetchFailed, resp.StatusCode, err
	}

	record, found, err := w.extractor.Extract(ctx, resp.Body, id)
	if err != nil {
		w.logger.Warn("extraction failed", logging.RC(id), zap.Error(err))
		return crawler.OutcomeMissing, resp.StatusCode, err
	}
	if !found {
		w.logger.Debug("company missing or deleted", logging.RC(id))
		return crawler.OutcomeMissing, resp.StatusCode, nil
	}

	if err := w.upsert(ctx, record); err != nil {
		w.logger.Error("graph upsert failed", logging.RC(id), zap.Error(err))
		return crawler.OutcomeStoreFailed, resp.StatusCode, err
	}
	w.logger.Debug("company stored",
		logging.RC(id),
		zap.String("name", record.Name()),
		zap.Int("representatives", len(record.Representatives)),
	)
	return crawler.OutcomeStored, resp.StatusCode, nil
}

// upsert retries the whole graph write; every statement is a MERGE so a
// partial earlier attempt is harmless.
func (w *Worker) upsert(ctx context.Context, record *crawler.CompanyRecord) error {
	for attempt := 1; ; attempt++ {
		err := w.store.Upsert(ctx, record)
		if err == nil {
			return nil
		}
		if w.retry == nil || !w.retry.ShouldRetry(err, attempt) {
			return err
		}
		delay := w.retry.Backoff(attempt)
		w.logger.Warn("graph upsert retry",
			logging.RC(record.RC),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("graph upsert canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (w *Worker) recordOutcome(
	ctx context.Context,
	id crawler.Identifier,
	outcome crawler.Outcome,
	status int,
	duration time.Duration,
	cause error,
) {
	if w.ledger == nil {
		return
	}
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	err := w.ledger.RecordOutcome(ledgerCtx, crawler.OutcomeRecord{
		RunID:      w.cfg.RunID,
		RC:         id,
		Outcome:    outcome,
		StatusCode: status,
		Duration:   duration,
		RecordedAt: w.clock.Now(),
		ErrorText:  errText,
	})
	if err != nil {
		w.logger.Warn("ledger write failed", logging.RC(id), zap.Error(err))
	}
}
