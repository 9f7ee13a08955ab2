// Package storage provides the key-value backends behind the snapshot store and the atomic
// JSON file helpers behind the file cache tier.
//
// Every backend speaks the same small contract: SET with a TTL, GET, EXISTS. Values are opaque
// bytes; callers own the encoding. Backend failures are wrapped so that
// errors.Is(err, models.ErrStoreUnavailable) holds.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/polypulse/internal/models"
)

// KV is a TTL-bounded key-value store.
type KV interface {
	// Set stores value under key, replacing any previous value, expiring after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value and true, or nil and false when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Exists reports whether key holds an unexpired value.
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Open returns the KV for the named backend. The "none" backend fails every call with
// models.ErrStoreUnavailable so callers exercise their degraded path.
func Open(ctx context.Context, backend, redisURL, sqlitePath string) (KV, error) {
	switch backend {
	case BackendRedis:
		return NewRedisKV(ctx, redisURL)
	case BackendSQLite:
		return OpenSQLite(sqlitePath)
	case BackendNone:
		return Unavailable{}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", backend)
	}
}

// Unavailable is a KV whose every call fails with models.ErrStoreUnavailable.
type Unavailable struct{}

func (Unavailable) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("%w: no snapshot backend configured", models.ErrStoreUnavailable)
}

func (Unavailable) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: no snapshot backend configured", models.ErrStoreUnavailable)
}

func (Unavailable) Exists(context.Context, string) (bool, error) {
	return false, fmt.Errorf("%w: no snapshot backend configured", models.ErrStoreUnavailable)
}

func (Unavailable) Close() error { return nil }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, op, err)
}
