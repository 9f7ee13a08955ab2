package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/storage"
)

// countingKV records how often each key is read.
type countingKV struct {
	storage.KV
	mu    sync.Mutex
	gets  map[string]int
	fail  map[string]bool
	total int
}

func newCountingKV(t *testing.T) *countingKV {
	kv, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return &countingKV{KV: kv, gets: map[string]int{}, fail: map[string]bool{}}
}

func (c *countingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	c.gets[key]++
	c.total++
	failing := c.fail[key]
	c.mu.Unlock()
	if failing {
		return nil, false, fmt.Errorf("%w: connection refused", models.ErrStoreUnavailable)
	}
	return c.KV.Get(ctx, key)
}

var fixedNow = time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *countingKV) {
	kv := newCountingKV(t)
	return NewStore(kv, 25*time.Hour, 2*time.Hour, WithClock(func() time.Time { return fixedNow })), kv
}

func TestHourBucketAndKeys(t *testing.T) {
	b := HourBucket(fixedNow)
	assert.Equal(t, fixedNow.Unix()/3600, b)
	assert.Equal(t, b, HourBucket(fixedNow.Truncate(time.Hour)))
	assert.Equal(t, b+1, HourBucket(fixedNow.Truncate(time.Hour).Add(time.Hour)))
	assert.Equal(t, fmt.Sprintf("prices:%d", b), PriceKey(b))
	assert.Equal(t, fmt.Sprintf("spreads:%d", b), SpreadKey(b))
}

func TestPricesAbsentIsNotAnError(t *testing.T) {
	store, _ := newTestStore(t)

	snap, ok, err := store.Prices(context.Background(), 6)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestPutPricesOverwritesBucket(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	bucket := store.CurrentBucket() - 1

	require.NoError(t, store.PutPrices(ctx, bucket, models.PriceSnapshot{"a": 40, "b": 10}))
	require.NoError(t, store.PutPrices(ctx, bucket, models.PriceSnapshot{"a": 55}))

	snap, ok, err := store.Prices(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.PriceSnapshot{"a": 55}, snap, "second payload replaces the first")
}

func TestHasPrices(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	bucket := store.CurrentBucket()

	has, err := store.HasPrices(ctx, bucket)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.PutPrices(ctx, bucket, models.PriceSnapshot{"a": 1}))
	has, err = store.HasPrices(ctx, bucket)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSpreadsRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	bucket := store.CurrentBucket()

	in := models.SpreadSnapshot{"tok": {SpreadPercent: 2, BestBid: 0.48, BestAsk: 0.5, Depth: 1500}}
	require.NoError(t, store.PutSpreads(ctx, bucket, in))

	out, ok, err := store.Spreads(ctx, bucket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, out)

	_, ok, err = store.Spreads(ctx, bucket-1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelta(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		snapshot float64
		ok       bool
		want     float64
	}{
		{"rise", 45, 40, true, 5.0},
		{"fall", 12, 30, true, -18.0},
		{"unchanged", 50, 50, true, 0},
		{"rounds to one decimal", 45, 40.26, true, 4.7},
		{"absent snapshot", 45, 0, false, 0},
		{"absent ignores value", 100, 99, false, 0},
		{"full range", 100, 0, true, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delta(tt.current, tt.snapshot, tt.ok))
		})
	}
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 0.1, Round1(0.05))
	assert.Equal(t, -0.1, Round1(-0.05))
	assert.Equal(t, 2.0, Round1(1.96))
	assert.Equal(t, 3.0, Round1(3))
}

func TestBatchReadsEachOffsetOnce(t *testing.T) {
	for _, n := range []int{3, 1000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			store, kv := newTestStore(t)
			ctx := context.Background()
			now := store.CurrentBucket()

			current := make(map[string]float64, n)
			prev := models.PriceSnapshot{}
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("m%d", i)
				current[id] = 50
				prev[id] = 45
			}
			require.NoError(t, store.PutPrices(ctx, now-1, prev))
			require.NoError(t, store.PutPrices(ctx, now-24, prev))

			deltas, err := NewCalculator(store).Batch(ctx, current)
			require.NoError(t, err)
			require.Len(t, deltas, n)

			assert.Equal(t, 3, kv.total, "one read per offset")
			for _, h := range Offsets {
				assert.Equal(t, 1, kv.gets[PriceKey(now-int64(h))])
			}

			d := deltas["m0"]
			assert.Equal(t, 5.0, d.Change1h)
			assert.Equal(t, 0.0, d.Change6h, "no 6h snapshot")
			assert.Equal(t, 5.0, d.Change24h)
		})
	}
}

func TestBatchMissingMarketInSnapshot(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutPrices(ctx, store.CurrentBucket()-1, models.PriceSnapshot{"a": 40}))

	deltas, err := NewCalculator(store).Batch(ctx, map[string]float64{"a": 45, "c": 70})
	require.NoError(t, err)
	assert.Equal(t, 5.0, deltas["a"].Change1h)
	assert.Equal(t, models.Deltas{}, deltas["c"])
}

func TestBatchStoreFailureDegradesToZero(t *testing.T) {
	store, kv := newTestStore(t)
	ctx := context.Background()
	now := store.CurrentBucket()

	require.NoError(t, store.PutPrices(ctx, now-1, models.PriceSnapshot{"a": 40}))
	require.NoError(t, store.PutPrices(ctx, now-6, models.PriceSnapshot{"a": 30}))
	kv.fail[PriceKey(now-6)] = true

	deltas, err := NewCalculator(store).Batch(ctx, map[string]float64{"a": 45})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))

	assert.Equal(t, 5.0, deltas["a"].Change1h)
	assert.Equal(t, 0.0, deltas["a"].Change6h)
}

func TestBatchWithUnavailableBackend(t *testing.T) {
	store := NewStore(storage.Unavailable{}, 25*time.Hour, 2*time.Hour)

	deltas, err := NewCalculator(store).Batch(context.Background(), map[string]float64{"a": 45, "b": 3})
	require.Error(t, err)
	assert.Len(t, deltas, 2)
	assert.Equal(t, models.Deltas{}, deltas["b"])
}
