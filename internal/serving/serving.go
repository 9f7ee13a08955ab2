// Package serving is the read path: it resolves market lists through the tiered cache, serves a
// stale entry or a live build when no tier is fresh, and never returns an error.
package serving

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rewired-gh/polypulse/internal/cache"
	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/metrics"
	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/refresh"
	"github.com/rewired-gh/polypulse/internal/tracing"
)

// Response sources.
const (
	SourceLive  = "live"
	SourceEmpty = "empty"
	stalePrefix = "stale:"
)

// Sort orders accepted by Query.Sort.
const (
	SortTrending  = "trending"
	SortVolume    = "volume"
	SortChange24h = "change24h"
	SortEnding    = "ending"
)

// Reader reads the tiered cache. *cache.Tiered implements it.
type Reader interface {
	Read(ctx context.Context) (cache.ReadResult, error)
}

// Builder produces a batch synchronously. *refresh.Pipeline implements it.
type Builder interface {
	Build(ctx context.Context) (*refresh.Batch, error)
}

// Query selects and orders markets.
type Query struct {
	Category string
	Sort     string
	Limit    int // 0 returns every match
}

// Response is what consumers receive. Markets is never nil.
type Response struct {
	Markets     []models.Market `json:"markets"`
	Stats       models.Stats    `json:"stats"`
	Source      string          `json:"source"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Stale       bool            `json:"stale"`
}

// Options tunes a Service.
type Options struct {
	ServeStale  bool
	MaxStale    time.Duration
	LiveTTL     time.Duration
	LiveTimeout time.Duration
	LRUSize     int
	LRUTTL      time.Duration
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Service serves markets to consumers.
type Service struct {
	reader  Reader
	builder Builder
	opts    Options

	group singleflight.Group
	live  *cache.LRU[string, *models.CacheEntry]
	byID  *cache.LRU[string, models.Market]
}

const liveKey = "live"

// New creates a Service. builder may be nil to disable live builds.
func New(reader Reader, builder Builder, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LiveTimeout <= 0 {
		opts.LiveTimeout = 30 * time.Second
	}
	return &Service{
		reader:  reader,
		builder: builder,
		opts:    opts,
		live:    cache.NewLRU[string, *models.CacheEntry](1, opts.LiveTTL, opts.Now),
		byID:    cache.NewLRU[string, models.Market](opts.LRUSize, opts.LRUTTL, opts.Now),
	}
}

// Markets resolves q. The order is a fresh cache tier, then a stale or insufficient entry when
// allowed, then a live build, then an empty response.
func (s *Service) Markets(ctx context.Context, q Query) Response {
	entry, source, stale := s.resolve(ctx)
	s.opts.Metrics.Served(source)

	resp := Response{Markets: []models.Market{}, Source: source, Stale: stale}
	if entry == nil {
		return resp
	}
	resp.Stats = entry.Stats
	resp.LastUpdated = entry.LastUpdated
	resp.Markets = Select(entry.Markets, q)
	return resp
}

// Market returns one market by id, from the per-id cache when possible.
func (s *Service) Market(ctx context.Context, id string) (models.Market, bool) {
	if m, ok := s.byID.Get(id); ok {
		return m, true
	}

	entry, _, _ := s.resolve(ctx)
	if entry == nil {
		return models.Market{}, false
	}
	for _, m := range entry.Markets {
		if m.ID == id {
			s.byID.Put(id, m)
			return m, true
		}
	}
	return models.Market{}, false
}

func (s *Service) resolve(ctx context.Context) (*models.CacheEntry, string, bool) {
	res, err := s.reader.Read(ctx)
	if err == nil {
		return res.Entry, res.Tier, false
	}

	if res.Entry != nil && s.opts.ServeStale && res.Entry.Age(s.opts.Now()) < s.opts.MaxStale {
		logger.Debug("serving stale cache entry",
			"tier", res.Tier, "fresh", res.Fresh, "sufficient", res.Sufficient,
			"age", res.Entry.Age(s.opts.Now()))
		return res.Entry, stalePrefix + res.Tier, true
	}

	if entry := s.liveEntry(ctx); entry != nil {
		return entry, SourceLive, false
	}

	logger.Warn("no market data available, serving empty response")
	return nil, SourceEmpty, false
}

// liveEntry builds a batch synchronously. Concurrent callers share one build and its result is
// memoised for LiveTTL.
func (s *Service) liveEntry(ctx context.Context) *models.CacheEntry {
	if s.builder == nil {
		return nil
	}
	if e, ok := s.live.Get(liveKey); ok {
		return e
	}

	ch := s.group.DoChan(liveKey, func() (any, error) {
		if e, ok := s.live.Get(liveKey); ok {
			return e, nil
		}
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.LiveTimeout)
		defer cancel()
		bctx, span := tracing.StartSpan(bctx, "serving.live_build")
		defer span.End()

		batch, err := s.builder.Build(bctx)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		e := &models.CacheEntry{
			LastUpdated:   s.opts.Now(),
			Markets:       batch.Markets,
			Stats:         batch.Stats,
			ExpectedLimit: batch.ExpectedLimit,
		}
		s.live.Put(liveKey, e)
		return e, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			logger.Warn("live build failed", "error", r.Err)
			return nil
		}
		return r.Val.(*models.CacheEntry)
	case <-ctx.Done():
		logger.Warn("live build abandoned by caller", "error", ctx.Err())
		return nil
	}
}

// Select filters markets by category, orders them and applies the limit. The input is not
// modified.
func Select(markets []models.Market, q Query) []models.Market {
	out := make([]models.Market, 0, len(markets))
	for _, m := range markets {
		if q.Category == "" || strings.EqualFold(m.Category, q.Category) {
			out = append(out, m)
		}
	}

	slices.SortStableFunc(out, compareBy(q.Sort))

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func compareBy(order string) func(a, b models.Market) int {
	switch order {
	case SortVolume:
		return func(a, b models.Market) int { return cmp.Compare(b.Volume24h, a.Volume24h) }
	case SortChange24h:
		return func(a, b models.Market) int {
			return cmp.Compare(math.Abs(b.Change24h), math.Abs(a.Change24h))
		}
	case SortEnding:
		// Markets without an end date go last.
		return func(a, b models.Market) int {
			switch {
			case a.EndsAt.IsZero() && b.EndsAt.IsZero():
				return 0
			case a.EndsAt.IsZero():
				return 1
			case b.EndsAt.IsZero():
				return -1
			}
			return a.EndsAt.Compare(b.EndsAt)
		}
	default:
		return func(a, b models.Market) int { return cmp.Compare(b.TrendingScore, a.TrendingScore) }
	}
}
