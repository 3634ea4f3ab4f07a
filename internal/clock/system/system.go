// Package system provides the wall clock used by crawl workers.
package system

import (
	"time"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
)

// Clock implements crawler.Clock using the host clock.
type Clock struct{}

var _ crawler.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC, which is how ledger rows are stamped.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t.
func (Clock) Since(t time.Time) time.Duration {
	return time.Since(t)
}
