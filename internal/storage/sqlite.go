package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/polypulse/internal/logger"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv (expires_at);
`

// SQLiteKV stores values in a local SQLite table. Expired rows are invisible to reads and
// purged on writes.
type SQLiteKV struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path (":memory:" for an in-process store) with
// WAL mode enabled and the kv table migrated.
func OpenSQLite(path string) (*SQLiteKV, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteKV{db: db, now: time.Now}, nil
}

// SetClock replaces the clock used for expiry decisions.
func (s *SQLiteKV) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	expiresAt := now.Add(ttl).UnixMilli()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return unavailable("set "+key, err)
	}

	// Expired rows are already invisible to Get; the purge only reclaims space.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at <= ?`, now.UnixMilli()); err != nil {
		logger.Warn("sqlite snapshot purge failed", "error", err)
	}
	return nil
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get "+key, err)
	}
	return value, true, nil
}

func (s *SQLiteKV) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM kv WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("exists "+key, err)
	}
	return true, nil
}

func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
