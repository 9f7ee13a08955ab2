package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/polypulse/internal/edgekv"
	"github.com/rewired-gh/polypulse/internal/models"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func makeEntry(n int, age time.Duration, expected int) *models.CacheEntry {
	e := &models.CacheEntry{
		Version:       "run-1",
		LastUpdated:   now.Add(-age),
		ExpectedLimit: expected,
		Stats:         models.Stats{MarketCount: n},
	}
	for i := 0; i < n; i++ {
		e.Markets = append(e.Markets, models.Market{ID: fmt.Sprintf("m%d", i), Name: "q", Category: "other"})
	}
	return e
}

// fakeTier is an in-memory Tier counting calls.
type fakeTier struct {
	name     string
	maxAge   time.Duration
	entry    *models.CacheEntry
	readErr  error
	writeErr error
	reads    int
	writes   int
}

func (f *fakeTier) Name() string { return f.name }

func (f *fakeTier) Read(context.Context) (*models.CacheEntry, error) {
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.entry == nil {
		return nil, models.ErrCacheMiss
	}
	return f.entry, nil
}

func (f *fakeTier) Write(_ context.Context, e *models.CacheEntry) error {
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.entry = e
	return nil
}

func (f *fakeTier) IsFresh(e *models.CacheEntry, now time.Time) bool {
	return e.Age(now) < f.maxAge
}

func newTiered(tiers ...Tier) *Tiered {
	t := NewTiered(0.75, nil, tiers...)
	t.SetClock(func() time.Time { return now })
	return t
}

func TestSufficient(t *testing.T) {
	assert.False(t, Sufficient(makeEntry(7400, 0, 10000), 10000, 0.75), "7400 < 7500")
	assert.True(t, Sufficient(makeEntry(7500, 0, 10000), 10000, 0.75))
	assert.True(t, Sufficient(makeEntry(0, 0, 0), 0, 0.75), "no expectation")
	assert.False(t, Sufficient(makeEntry(0, 0, 10), 10, 0.75))
}

func TestExpectedCount(t *testing.T) {
	assert.Equal(t, 800, ExpectedCount(800, 4, 4))
	assert.Equal(t, 800, ExpectedCount(600, 4, 3))
	assert.Equal(t, 7, ExpectedCount(5, 4, 3), "rounds up")
	assert.Equal(t, 0, ExpectedCount(0, 4, 0))
}

func TestReadFreshEdgeSkipsFileTier(t *testing.T) {
	edge := &fakeTier{name: "edge", maxAge: 5 * time.Minute, entry: makeEntry(10, time.Minute, 10)}
	file := &fakeTier{name: "file", maxAge: 10 * time.Minute, entry: makeEntry(10, time.Minute, 10)}

	res, err := newTiered(edge, file).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "edge", res.Tier)
	assert.True(t, res.Fresh)
	assert.Equal(t, 1, edge.reads)
	assert.Equal(t, 0, file.reads, "file tier must not be consulted")
}

func TestReadFallsThroughToFile(t *testing.T) {
	tests := []struct {
		name string
		edge *fakeTier
	}{
		{"edge empty", &fakeTier{name: "edge", maxAge: 5 * time.Minute}},
		{"edge stale", &fakeTier{name: "edge", maxAge: 5 * time.Minute, entry: makeEntry(10, 6*time.Minute, 10)}},
		{"edge down", &fakeTier{name: "edge", maxAge: 5 * time.Minute, readErr: models.ErrStoreUnavailable}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := &fakeTier{name: "file", maxAge: 10 * time.Minute, entry: makeEntry(10, 6*time.Minute, 10)}

			res, err := newTiered(tt.edge, file).Read(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "file", res.Tier)
			assert.Equal(t, 1, file.reads)
		})
	}
}

func TestReadMissReturnsFallbackCandidate(t *testing.T) {
	edge := &fakeTier{name: "edge", maxAge: 5 * time.Minute, entry: makeEntry(7400, time.Minute, 10000)}
	file := &fakeTier{name: "file", maxAge: 10 * time.Minute, entry: makeEntry(10, time.Hour, 10)}

	res, err := newTiered(edge, file).Read(context.Background())
	require.ErrorIs(t, err, models.ErrCacheMiss)
	require.NotNil(t, res.Entry)
	assert.Equal(t, "edge", res.Tier, "first candidate wins")
	assert.True(t, res.Fresh)
	assert.False(t, res.Sufficient)
	assert.Equal(t, 7400, res.Entry.Count(), "entries are never merged")
}

func TestReadTotalMiss(t *testing.T) {
	res, err := newTiered(&fakeTier{name: "edge"}, &fakeTier{name: "file"}).Read(context.Background())
	require.ErrorIs(t, err, models.ErrCacheMiss)
	assert.Nil(t, res.Entry)
}

func TestWriteStopsAtFirstSuccess(t *testing.T) {
	edge := &fakeTier{name: "edge"}
	file := &fakeTier{name: "file"}

	outcomes, err := newTiered(edge, file).Write(context.Background(), makeEntry(3, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, edge.writes)
	assert.Equal(t, 0, file.writes, "file written only as fallback")
	assert.Equal(t, []WriteOutcome{
		{Tier: "edge", Attempted: true, OK: true},
		{Tier: "file"},
	}, outcomes)
}

func TestWriteFallsBackToFile(t *testing.T) {
	edge := &fakeTier{name: "edge", writeErr: models.ErrPartialWrite}
	file := &fakeTier{name: "file"}

	outcomes, err := newTiered(edge, file).Write(context.Background(), makeEntry(3, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, file.writes)
	assert.False(t, outcomes[0].OK)
	assert.ErrorIs(t, outcomes[0].Err, models.ErrPartialWrite)
	assert.True(t, outcomes[1].OK)
}

func TestWriteAllTiersFail(t *testing.T) {
	edge := &fakeTier{name: "edge", writeErr: models.ErrStoreUnavailable}
	file := &fakeTier{name: "file", writeErr: errors.New("disk full")}

	outcomes, err := newTiered(edge, file).Write(context.Background(), makeEntry(3, 0, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.True(t, outcomes[0].Attempted && outcomes[1].Attempted)
}

// kvServer is an httptest stand-in for the edge KV REST API.
type kvServer struct {
	mu      sync.Mutex
	values  map[string][]byte
	failPut map[string]bool // key prefixes whose PUT answers 500
	gets    int
	onPut   func(key string)
}

func (s *kvServer) failing(key string) bool {
	for prefix := range s.failPut {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func newKVServer(t *testing.T) (*kvServer, *edgekv.Client) {
	s := &kvServer{values: map[string][]byte{}, failPut: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		s.mu.Lock()
		switch r.Method {
		case http.MethodGet:
			s.gets++
			v, ok := s.values[key]
			s.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(v)
		case http.MethodPut:
			if s.failing(key) {
				s.mu.Unlock()
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			hook := s.onPut
			s.mu.Unlock()
			if hook != nil {
				hook(key)
			}
			body, _ := io.ReadAll(r.Body)
			s.mu.Lock()
			s.values[key] = body
			s.mu.Unlock()
		default:
			s.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return s, edgekv.NewClient(srv.URL, "acct", "ns", "tok", time.Second)
}

func TestEdgeTierRoundTrip(t *testing.T) {
	_, client := newKVServer(t)
	tier := NewEdgeTier(client, "markets", 5*time.Minute)
	ctx := context.Background()

	_, err := tier.Read(ctx)
	require.ErrorIs(t, err, models.ErrCacheMiss)

	in := makeEntry(3, time.Minute, 3)
	in.Markets[0].CreatedAt = now.Add(-48 * time.Hour)
	require.NoError(t, tier.Write(ctx, in))

	out, err := tier.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, in.Version, out.Version)
	assert.True(t, in.LastUpdated.Equal(out.LastUpdated))
	assert.True(t, out.Markets[0].CreatedAt.Equal(in.Markets[0].CreatedAt), "dates reconstructed")
	assert.Len(t, out.Markets, 3)
	assert.Equal(t, 3, out.Stats.MarketCount)
	assert.Equal(t, 3, out.ExpectedLimit)

	assert.True(t, tier.IsFresh(out, now))
	assert.False(t, tier.IsFresh(out, now.Add(5*time.Minute)))
}

func TestEdgeTierFailedWriteKeepsPreviousEntry(t *testing.T) {
	srv, client := newKVServer(t)
	tier := NewEdgeTier(client, "markets", 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, tier.Write(ctx, makeEntry(2, 0, 2)))

	next := makeEntry(5, 0, 5)
	next.Version = "run-2"
	srv.failPut["markets:data"] = true

	err := tier.Write(ctx, next)
	require.ErrorIs(t, err, models.ErrPartialWrite)

	out, err := tier.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", out.Version)
	assert.Len(t, out.Markets, 2)
	assert.Equal(t, 2, out.Stats.MarketCount)
}

func TestEdgeTierReadDuringWriteSeesWholeEntry(t *testing.T) {
	srv, client := newKVServer(t)
	tier := NewEdgeTier(client, "markets", 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, tier.Write(ctx, makeEntry(2, 0, 2)))

	var (
		during *models.CacheEntry
		errMid error
	)
	srv.mu.Lock()
	srv.onPut = func(key string) {
		if key == "markets:meta" {
			// run-2 data and stats have landed, the pointer has not moved yet
			during, errMid = tier.Read(ctx)
		}
	}
	srv.mu.Unlock()
	next := makeEntry(5, 0, 5)
	next.Version = "run-2"
	require.NoError(t, tier.Write(ctx, next))

	require.NoError(t, errMid)
	assert.Equal(t, "run-1", during.Version)
	assert.Len(t, during.Markets, 2)
	assert.Equal(t, 2, during.Stats.MarketCount)

	out, err := tier.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", out.Version)
	assert.Len(t, out.Markets, 5)
	assert.Equal(t, 5, out.Stats.MarketCount)
}

func TestEdgeTierAllPutsFail(t *testing.T) {
	srv, client := newKVServer(t)
	for _, k := range []string{"markets:data", "markets:stats", "markets:meta"} {
		srv.failPut[k] = true
	}

	err := NewEdgeTier(client, "markets", 5*time.Minute).Write(context.Background(), makeEntry(1, 0, 1))
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, models.ErrPartialWrite)
}

func TestPartialEdgeWriteFallsBackToFile(t *testing.T) {
	srv, client := newKVServer(t)
	srv.failPut["markets:stats"] = true

	edge := NewEdgeTier(client, "markets", 5*time.Minute)
	file := NewFileTier(filepath.Join(t.TempDir(), "cache.json"), 10*time.Minute)
	tiered := newTiered(edge, file)

	outcomes, err := tiered.Write(context.Background(), makeEntry(4, 0, 4))
	require.NoError(t, err)
	assert.ErrorIs(t, outcomes[0].Err, models.ErrPartialWrite)
	assert.True(t, outcomes[1].OK)

	res, err := tiered.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file", res.Tier)
	assert.Equal(t, 4, res.Entry.Count())
}

func TestFileTier(t *testing.T) {
	tier := NewFileTier(filepath.Join(t.TempDir(), "data", "cache.json"), 10*time.Minute)
	ctx := context.Background()

	_, err := tier.Read(ctx)
	require.ErrorIs(t, err, models.ErrCacheMiss)

	require.NoError(t, tier.Write(ctx, makeEntry(2, time.Minute, 2)))
	second := makeEntry(3, 0, 3)
	second.Version = "run-2"
	require.NoError(t, tier.Write(ctx, second))

	out, err := tier.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", out.Version)
	assert.Equal(t, 3, out.Count(), "replaced wholesale")
	assert.True(t, tier.IsFresh(out, now.Add(9*time.Minute)))
	assert.False(t, tier.IsFresh(out, now.Add(10*time.Minute)))
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute, func() time.Time { return now })

	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a") // a is now most recent
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUExpiresByClock(t *testing.T) {
	clock := now
	c := NewLRU[string, int](10, time.Minute, func() time.Time { return clock })

	c.Put("a", 1)
	clock = clock.Add(59 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	clock = clock.Add(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry dropped on access")
}

func TestLRUUpdateRefreshes(t *testing.T) {
	clock := now
	c := NewLRU[string, int](2, time.Minute, func() time.Time { return clock })

	c.Put("a", 1)
	clock = clock.Add(50 * time.Second)
	c.Put("a", 2)
	clock = clock.Add(50 * time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	c.Remove("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	c.Put("x", 1)
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
