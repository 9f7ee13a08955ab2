// Package snapshot stores hour-bucketed probability and spread snapshots and computes the
// 1h/6h/24h probability deltas against them.
//
// A bucket is floor(unix seconds / 3600). Keys are human readable: prices:<bucket> and
// spreads:<bucket>. A write replaces the bucket's whole value; buckets are never merged by the
// store.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rewired-gh/polypulse/internal/metrics"
	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/storage"
)

// HourBucket returns the hour-aligned bucket containing t.
func HourBucket(t time.Time) int64 {
	return t.Unix() / 3600
}

// PriceKey returns the store key of the price snapshot for bucket.
func PriceKey(bucket int64) string {
	return fmt.Sprintf("prices:%d", bucket)
}

// SpreadKey returns the store key of the spread snapshot for bucket.
func SpreadKey(bucket int64) string {
	return fmt.Sprintf("spreads:%d", bucket)
}

// Store reads and writes snapshots through a storage.KV.
type Store struct {
	kv        storage.KV
	priceTTL  time.Duration
	spreadTTL time.Duration
	timeout   time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock that decides the current bucket.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTimeout bounds every store call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithMetrics counts store errors by operation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a Store. priceTTL should exceed 24h so the 24h offset stays readable.
func NewStore(kv storage.KV, priceTTL, spreadTTL time.Duration, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		priceTTL:  priceTTL,
		spreadTTL: spreadTTL,
		timeout:   5 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentBucket returns the bucket for the store's clock.
func (s *Store) CurrentBucket() int64 {
	return HourBucket(s.now())
}

// PutPrices replaces the price snapshot of bucket.
func (s *Store) PutPrices(ctx context.Context, bucket int64, snap models.PriceSnapshot) error {
	return s.put(ctx, PriceKey(bucket), snap, s.priceTTL)
}

// Prices returns the price snapshot taken hoursAgo hours before the current bucket.
// A missing snapshot is (nil, false, nil), never an error.
func (s *Store) Prices(ctx context.Context, hoursAgo int) (models.PriceSnapshot, bool, error) {
	var snap models.PriceSnapshot
	ok, err := s.get(ctx, PriceKey(s.CurrentBucket()-int64(hoursAgo)), &snap)
	if err != nil || !ok {
		return nil, false, err
	}
	return snap, true, nil
}

// HasPrices reports whether bucket already has a price snapshot.
func (s *Store) HasPrices(ctx context.Context, bucket int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.kv.Exists(ctx, PriceKey(bucket))
	if err != nil {
		s.metrics.SnapshotError("exists")
		return false, err
	}
	return ok, nil
}

// PutSpreads replaces the spread snapshot of bucket.
func (s *Store) PutSpreads(ctx context.Context, bucket int64, snap models.SpreadSnapshot) error {
	return s.put(ctx, SpreadKey(bucket), snap, s.spreadTTL)
}

// Spreads returns the spread snapshot of bucket. A missing snapshot is (nil, false, nil).
func (s *Store) Spreads(ctx context.Context, bucket int64) (models.SpreadSnapshot, bool, error) {
	var snap models.SpreadSnapshot
	ok, err := s.get(ctx, SpreadKey(bucket), &snap)
	if err != nil || !ok {
		return nil, false, err
	}
	return snap, true, nil
}

func (s *Store) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.kv.Set(ctx, key, data, ttl); err != nil {
		s.metrics.SnapshotError("put")
		return err
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, v any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.metrics.SnapshotError("get")
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.metrics.SnapshotError("decode")
		return false, fmt.Errorf("%w: corrupt snapshot %s: %w", models.ErrStoreUnavailable, key, err)
	}
	return true, nil
}
