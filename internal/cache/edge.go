package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polypulse/internal/models"
)

// KVClient is the subset of the edge KV API the edge tier needs.
type KVClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// edgeMeta is the pointer key. Markets and stats live under keys suffixed with Version, so a
// reader resolves both through one meta value and never pairs keys from different refreshes.
type edgeMeta struct {
	Version       string    `json:"version"`
	LastUpdated   time.Time `json:"lastUpdated"`
	ExpectedLimit int       `json:"expectedLimit"`
	Count         int       `json:"count"`
}

// EdgeTier stores entries in the edge KV as <prefix>:data:<version>, <prefix>:stats:<version>
// and the <prefix>:meta pointer, which is written last.
type EdgeTier struct {
	kv     KVClient
	prefix string
	ttl    time.Duration
}

// NewEdgeTier creates an EdgeTier. ttl is the meta expiration and the freshness window;
// versioned keys live twice as long so they outlast the pointer that names them.
func NewEdgeTier(kv KVClient, prefix string, ttl time.Duration) *EdgeTier {
	return &EdgeTier{kv: kv, prefix: prefix, ttl: ttl}
}

func (e *EdgeTier) Name() string { return "edge" }

func (e *EdgeTier) dataKey(version string) string  { return e.prefix + ":data:" + version }
func (e *EdgeTier) statsKey(version string) string { return e.prefix + ":stats:" + version }
func (e *EdgeTier) metaKey() string                { return e.prefix + ":meta" }

// IsFresh reports whether entry is younger than the tier TTL.
func (e *EdgeTier) IsFresh(entry *models.CacheEntry, now time.Time) bool {
	return entry.Age(now) < e.ttl
}

// Write puts the versioned data and stats keys in parallel, then the meta pointer. Meta is
// only written once both succeeded, so a failed write leaves the previous entry readable. If
// some but not all puts fail the error wraps models.ErrPartialWrite; if none landed it wraps
// models.ErrStoreUnavailable.
func (e *EdgeTier) Write(ctx context.Context, entry *models.CacheEntry) error {
	payloads := map[string]any{
		e.dataKey(entry.Version):  entry.Markets,
		e.statsKey(entry.Version): entry.Stats,
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for key, v := range payloads {
		g.Go(func() error {
			if err := e.put(ctx, key, v, 2*e.ttl); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	const keys = 3
	if len(errs) == 0 {
		meta := edgeMeta{
			Version:       entry.Version,
			LastUpdated:   entry.LastUpdated,
			ExpectedLimit: entry.ExpectedLimit,
			Count:         len(entry.Markets),
		}
		if err := e.put(ctx, e.metaKey(), meta, e.ttl); err != nil {
			return fmt.Errorf("%w: 1 of %d keys failed: %w", models.ErrPartialWrite, keys, err)
		}
		return nil
	}
	if len(errs) == len(payloads) {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, errors.Join(errs...))
	}
	// meta is skipped, so it counts as failed too
	return fmt.Errorf("%w: %d of %d keys failed: %w",
		models.ErrPartialWrite, len(errs)+1, keys, errors.Join(errs...))
}

func (e *EdgeTier) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err == nil {
		err = e.kv.Put(ctx, key, data, ttl)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Read resolves the meta pointer, then fetches the data and stats keys it names in parallel.
// A missing key reads as models.ErrCacheMiss.
func (e *EdgeTier) Read(ctx context.Context) (*models.CacheEntry, error) {
	var meta edgeMeta
	if err := e.get(ctx, e.metaKey(), &meta); err != nil {
		return nil, err
	}

	var (
		markets []models.Market
		stats   models.Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.get(gctx, e.dataKey(meta.Version), &markets) })
	g.Go(func() error { return e.get(gctx, e.statsKey(meta.Version), &stats) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("entry %s: %w", meta.Version, err)
	}

	return &models.CacheEntry{
		Version:       meta.Version,
		LastUpdated:   meta.LastUpdated,
		Markets:       markets,
		Stats:         stats,
		ExpectedLimit: meta.ExpectedLimit,
	}, nil
}

func (e *EdgeTier) get(ctx context.Context, key string, dst any) error {
	raw, ok, err := e.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, models.ErrCacheMiss)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %w", models.ErrStoreUnavailable, key, err)
	}
	return nil
}
