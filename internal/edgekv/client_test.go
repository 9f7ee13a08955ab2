package edgekv

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/polypulse/internal/models"
)

// fakeKV mimics the values endpoints of the KV REST API.
type fakeKV struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]string
}

func newFakeKV(t *testing.T) (*fakeKV, *httptest.Server) {
	f := &fakeKV{values: map[string][]byte{}, ttls: map[string]string{}}
	const prefix = "/accounts/acct/storage/kv/namespaces/ns/values/"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.URL.Path, prefix) {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, prefix)

		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			v, ok := f.values[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(v)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			f.values[key] = body
			f.ttls[key] = r.URL.Query().Get("expiration_ttl")
		case http.MethodDelete:
			delete(f.values, key)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestPutGetDelete(t *testing.T) {
	f, srv := newFakeKV(t)
	c := NewClient(srv.URL, "acct", "ns", "tok", time.Second)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "markets:data")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "markets:data", []byte(`{"v":1}`), 5*time.Minute))
	assert.Equal(t, "300", f.ttls["markets:data"])

	val, ok, err := c.Get(ctx, "markets:data")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"v":1}`, string(val))

	require.NoError(t, c.Delete(ctx, "markets:data"))
	_, ok, err = c.Get(ctx, "markets:data")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutTTLFloor(t *testing.T) {
	f, srv := newFakeKV(t)
	c := NewClient(srv.URL, "acct", "ns", "tok", time.Second)

	require.NoError(t, c.Put(context.Background(), "k", []byte("v"), 10*time.Second))
	assert.Equal(t, "60", f.ttls["k"])

	require.NoError(t, c.Put(context.Background(), "k2", []byte("v"), 0))
	assert.Equal(t, "", f.ttls["k2"])
}

func TestAuthFailureIsStoreUnavailable(t *testing.T) {
	_, srv := newFakeKV(t)
	c := NewClient(srv.URL, "acct", "ns", "wrong", time.Second)

	err := c.Put(context.Background(), "k", []byte("v"), time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.False(t, apiErr.IsRetryable())
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(srv.URL, "acct", "ns", "tok", time.Second)
	_, _, err := c.Get(context.Background(), "k")
	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))
}
