// Package cache holds refresh batches in an ordered list of tiers, each with its own freshness
// rule, and provides the bounded LRU used on the serving path.
package cache

import (
	"context"
	"time"

	"github.com/rewired-gh/polypulse/internal/models"
)

// Tier is one cache backend. Tiers are interchangeable and consulted in priority order.
type Tier interface {
	// Name identifies the tier in logs, metrics and response sources.
	Name() string
	// Read returns the stored entry, or models.ErrCacheMiss when there is none.
	Read(ctx context.Context) (*models.CacheEntry, error)
	// Write replaces the stored entry wholesale.
	Write(ctx context.Context, entry *models.CacheEntry) error
	// IsFresh reports whether entry is young enough to serve without a refresh.
	IsFresh(entry *models.CacheEntry, now time.Time) bool
}

// Sufficient reports whether entry holds at least ratio × expectedLimit markets. An
// expectedLimit of zero or less is always sufficient.
func Sufficient(entry *models.CacheEntry, expectedLimit int, ratio float64) bool {
	if expectedLimit <= 0 {
		return true
	}
	return float64(entry.Count()) >= ratio*float64(expectedLimit)
}

// ExpectedCount estimates how many markets a complete pull would have produced when only
// okPages of pages succeeded. A pull with no failed pages is complete by definition.
func ExpectedCount(got, pages, okPages int) int {
	if okPages <= 0 || okPages >= pages {
		return got
	}
	return (got*pages + okPages - 1) / okPages
}
