package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/metrics"
	"github.com/rewired-gh/polypulse/internal/models"
)

// ReadResult is the outcome of Tiered.Read.
type ReadResult struct {
	Entry      *models.CacheEntry
	Tier       string
	Fresh      bool
	Sufficient bool
}

// WriteOutcome is the result of writing one tier.
type WriteOutcome struct {
	Tier      string
	Attempted bool
	OK        bool
	Err       error
}

// Tiered consults its tiers in priority order.
type Tiered struct {
	tiers   []Tier
	ratio   float64
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewTiered creates a Tiered over tiers, highest priority first. ratio is the sufficiency
// threshold applied on reads.
func NewTiered(ratio float64, m *metrics.Metrics, tiers ...Tier) *Tiered {
	return &Tiered{tiers: tiers, ratio: ratio, now: time.Now, metrics: m}
}

// SetClock replaces the clock used for freshness decisions.
func (t *Tiered) SetClock(now func() time.Time) {
	t.now = now
}

// Tiers returns the tier names in priority order.
func (t *Tiered) Tiers() []string {
	names := make([]string, len(t.tiers))
	for i, tier := range t.tiers {
		names[i] = tier.Name()
	}
	return names
}

// Read returns the first entry, in tier order, that is both fresh and sufficient. Lower tiers
// are not consulted once one is found, and entries are never merged across tiers.
//
// When no tier qualifies the error is models.ErrCacheMiss and the result carries the first
// stale or insufficient entry seen, if any, for the caller to serve or ignore.
func (t *Tiered) Read(ctx context.Context) (ReadResult, error) {
	var fallback ReadResult
	now := t.now()

	for _, tier := range t.tiers {
		entry, err := tier.Read(ctx)
		if errors.Is(err, models.ErrCacheMiss) {
			t.metrics.CacheRead(tier.Name(), "miss")
			continue
		}
		if err != nil {
			logger.Warn("cache tier read failed", "tier", tier.Name(), "error", err)
			t.metrics.CacheRead(tier.Name(), "error")
			continue
		}

		res := ReadResult{
			Entry:      entry,
			Tier:       tier.Name(),
			Fresh:      tier.IsFresh(entry, now),
			Sufficient: Sufficient(entry, entry.ExpectedLimit, t.ratio),
		}
		if res.Fresh && res.Sufficient {
			t.metrics.CacheRead(tier.Name(), "hit")
			return res, nil
		}

		if !res.Sufficient {
			logger.Warn("cache entry insufficient",
				"tier", tier.Name(), "count", entry.Count(), "expected", entry.ExpectedLimit,
				"error", models.ErrDataInsufficient)
			t.metrics.CacheRead(tier.Name(), "insufficient")
		} else {
			t.metrics.CacheRead(tier.Name(), "stale")
		}
		if fallback.Entry == nil {
			fallback = res
		}
	}

	return fallback, models.ErrCacheMiss
}

// Write writes tiers in priority order and stops after the first tier that fully succeeds, so
// lower tiers only receive the entry as a fallback. Tiers after that are reported as not
// attempted. The error is non-nil only when every attempted tier failed.
func (t *Tiered) Write(ctx context.Context, entry *models.CacheEntry) ([]WriteOutcome, error) {
	outcomes := make([]WriteOutcome, len(t.tiers))
	var errs []error
	written := false

	for i, tier := range t.tiers {
		outcomes[i].Tier = tier.Name()
		if written {
			continue
		}
		outcomes[i].Attempted = true

		if err := tier.Write(ctx, entry); err != nil {
			logger.Warn("cache tier write failed, falling back",
				"tier", tier.Name(), "error", err)
			t.metrics.CacheWrite(tier.Name(), false)
			outcomes[i].Err = err
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
			continue
		}

		t.metrics.CacheWrite(tier.Name(), true)
		outcomes[i].OK = true
		written = true
	}

	if !written {
		if len(errs) == 0 {
			return outcomes, errors.New("no cache tiers configured")
		}
		return outcomes, fmt.Errorf("all cache tiers failed: %w", errors.Join(errs...))
	}
	return outcomes, nil
}
