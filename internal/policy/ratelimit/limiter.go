// Package ratelimit paces registry fetch cycles with a single token bucket
// shared by every worker.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
	"github.com/JakeFAU/registry-graph-crawler/internal/metrics"
)

// Limiter admits at most RPS fetch cycles per second across the whole crawl.
type Limiter struct {
	limiter *rate.Limiter
}

var _ crawler.Pacer = (*Limiter)(nil)

// Config holds rate limiter configuration.
type Config struct {
	RPS   float64
	Burst int
}

// New creates a new Limiter. A non-positive or NaN RPS disables pacing.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if math.IsNaN(cfg.RPS) || cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(r, burst)}
}

// Wait blocks until the next fetch cycle may start, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens available immediately are not a delay.
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObservePacingDelay(duration)
	}
	return nil
}

// Limit returns the configured rate in events per second.
func (l *Limiter) Limit() float64 {
	return float64(l.limiter.Limit())
}
