// Package dispatcher fans an identifier range out to a bounded, rate-limited
// pool of workers and waits for every cycle to finish.
package dispatcher

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
	"github.com/JakeFAU/registry-graph-crawler/internal/metrics"
	"github.com/JakeFAU/registry-graph-crawler/internal/policy/ratelimit"
)

// RunConfig describes one crawl run.
type RunConfig struct {
	Range             crawler.Range
	RequestsPerSecond float64
	Workers           int
	RunID             string
}

// Validate checks the run parameters. Every violation wraps
// crawler.ErrInvalidConfig.
func (c RunConfig) Validate() error {
	if err := c.Range.Validate(); err != nil {
		return err
	}
	if !crawler.ValidRate(c.RequestsPerSecond) {
		return fmt.Errorf("%w: requests per second must be a finite number > 0, got %v",
			crawler.ErrInvalidConfig, c.RequestsPerSecond)
	}
	if c.Workers < crawler.MinWorkers || c.Workers > crawler.MaxWorkers {
		return fmt.Errorf("%w: workers must be in [%d, %d], got %d",
			crawler.ErrInvalidConfig, crawler.MinWorkers, crawler.MaxWorkers, c.Workers)
	}
	return nil
}

// PacerFactory builds the pacer shared by a run's workers.
type PacerFactory func(rps float64) crawler.Pacer

// Dispatcher fans identifiers out to a pool of workers.
type Dispatcher struct {
	processor crawler.Processor
	clock     crawler.Clock
	newPacer  PacerFactory
	logger    *zap.Logger

	mu      sync.Mutex
	current crawler.RunSummary
	running bool
}

// New creates a Dispatcher pacing with a token bucket of burst 1.
func New(processor crawler.Processor, clock crawler.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor: processor,
		clock:     clock,
		newPacer: func(rps float64) crawler.Pacer {
			return ratelimit.New(ratelimit.Config{RPS: rps, Burst: 1})
		},
		logger: logger,
	}
}

// WithPacerFactory replaces the pacer construction.
func (d *Dispatcher) WithPacerFactory(f PacerFactory) *Dispatcher {
	d.newPacer = f
	return d
}

// Run processes every identifier in cfg.Range exactly once and returns when
// all workers are done. Each worker waits on the shared pacer before starting
// a cycle, so cycle starts never exceed cfg.RequestsPerSecond. Cancelling ctx
// stops dispatch; in-flight cycles finish and Run returns the context error.
// A pacer failure, such as a token that would arrive after the ctx deadline,
// also stops dispatch; the identifiers left over are reported as
// undispatched in the summary.
func (d *Dispatcher) Run(ctx context.Context, cfg RunConfig) (crawler.RunSummary, error) {
	summary := crawler.RunSummary{
		RunID:    cfg.RunID,
		Range:    cfg.Range,
		Outcomes: map[crawler.Outcome]int{},
	}
	if err := cfg.Validate(); err != nil {
		return summary, err
	}

	summary.StartedAt = d.clock.Now()
	d.logger.Info("crawl run starting",
		zap.String("run_id", cfg.RunID),
		zap.Stringer("range_start", cfg.Range.Start),
		zap.Stringer("range_stop", cfg.Range.Stop),
		zap.Int("identifiers", cfg.Range.Len()),
		zap.Int("workers", cfg.Workers),
		zap.Float64("requests_per_second", cfg.RequestsPerSecond),
	)

	d.mu.Lock()
	d.current = summary
	d.running = true
	d.mu.Unlock()

	pacer := d.newPacer(cfg.RequestsPerSecond)
	ids := make(chan crawler.Identifier)
	// dispatchCtx stops the producer; in-flight cycles keep the run ctx.
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	var (
		wg      sync.WaitGroup
		paceErr error
	)
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				if err := pacer.Wait(ctx); err != nil {
					d.mu.Lock()
					if paceErr == nil {
						paceErr = fmt.Errorf("pacing %s: %w", id, err)
					}
					d.mu.Unlock()
					stopDispatch()
					return
				}
				metrics.ObserveDispatch()
				d.mu.Lock()
				d.current.Dispatched++
				d.mu.Unlock()

				outcome := d.processor.Process(ctx, id)
				d.mu.Lock()
				d.current.Outcomes[outcome]++
				d.mu.Unlock()
			}
		}()
	}

	produce(dispatchCtx, cfg.Range, ids)
	close(ids)
	wg.Wait()

	d.mu.Lock()
	d.current.FinishedAt = d.clock.Now()
	d.running = false
	summary = d.current
	d.mu.Unlock()

	err := paceErr
	if ctx.Err() != nil {
		err = fmt.Errorf("crawl interrupted: %w", ctx.Err())
	}
	d.logSummary(summary, err)
	return summary, err
}

// Snapshot returns a copy of the current or most recent run and whether it is
// still in progress.
func (d *Dispatcher) Snapshot() (crawler.RunSummary, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := d.current
	snap.Outcomes = maps.Clone(d.current.Outcomes)
	return snap, d.running
}

// produce hands identifiers to the pool in ascending order until the range
// is exhausted or ctx is done.
func produce(ctx context.Context, r crawler.Range, ids chan<- crawler.Identifier) {
	for id := r.Start; id < r.Stop; id++ {
		if ctx.Err() != nil {
			return
		}
		select {
		case ids <- id:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) logSummary(summary crawler.RunSummary, err error) {
	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.Int("dispatched", summary.Dispatched),
		zap.Int("undispatched", summary.Undispatched()),
		zap.Int("stored", summary.Outcomes[crawler.OutcomeStored]),
		zap.Int("missing", summary.Outcomes[crawler.OutcomeMissing]),
		zap.Int("fetch_failed", summary.Outcomes[crawler.OutcomeFetchFailed]),
		zap.Int("store_failed", summary.Outcomes[crawler.OutcomeStoreFailed]),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	}
	if err != nil {
		d.logger.Warn("crawl run stopped early", append(fields, zap.Error(err))...)
		return
	}
	d.logger.Info("crawl run finished", fields...)
}
