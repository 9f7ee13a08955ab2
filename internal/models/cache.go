package models

import (
	"errors"
	"time"
)

// CacheEntry is one complete refresh batch. It is replaced wholesale on every refresh and
// never patched.
type CacheEntry struct {
	Version       string    `json:"version"` // refresh run id
	LastUpdated   time.Time `json:"lastUpdated"`
	Markets       []Market  `json:"markets"`
	Stats         Stats     `json:"stats"`
	ExpectedLimit int       `json:"expectedLimit"`
}

// Count returns the number of markets in the entry.
func (e *CacheEntry) Count() int {
	if e == nil {
		return 0
	}
	return len(e.Markets)
}

// Age returns how long ago the entry was produced.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.LastUpdated)
}

// Validate checks that the entry can be written to a cache tier.
func (e *CacheEntry) Validate() error {
	if e.LastUpdated.IsZero() {
		return errors.New("last updated must be set")
	}
	if len(e.Markets) == 0 {
		return errors.New("entry must contain at least one market")
	}
	if e.ExpectedLimit < 0 {
		return errors.New("expected limit must not be negative")
	}
	return nil
}
