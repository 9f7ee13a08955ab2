package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/storage"
)

// fileDocument is the on-disk layout of the file tier.
type fileDocument struct {
	LastUpdated   time.Time       `json:"lastUpdated"`
	Markets       []models.Market `json:"markets"`
	Stats         models.Stats    `json:"stats"`
	ExpectedLimit int             `json:"expectedLimit"`
	Version       string          `json:"version"`
}

// FileTier stores the entry as a single JSON document replaced atomically.
type FileTier struct {
	path   string
	maxAge time.Duration
}

// NewFileTier creates a FileTier at path whose entries are fresh for maxAge.
func NewFileTier(path string, maxAge time.Duration) *FileTier {
	return &FileTier{path: path, maxAge: maxAge}
}

func (f *FileTier) Name() string { return "file" }

// IsFresh reports whether entry is younger than maxAge.
func (f *FileTier) IsFresh(entry *models.CacheEntry, now time.Time) bool {
	return entry.Age(now) < f.maxAge
}

func (f *FileTier) Write(_ context.Context, entry *models.CacheEntry) error {
	doc := fileDocument{
		LastUpdated:   entry.LastUpdated,
		Markets:       entry.Markets,
		Stats:         entry.Stats,
		ExpectedLimit: entry.ExpectedLimit,
		Version:       entry.Version,
	}
	return storage.WriteJSONAtomic(f.path, doc, 0644, 0755)
}

func (f *FileTier) Read(_ context.Context) (*models.CacheEntry, error) {
	var doc fileDocument
	found, err := storage.ReadJSON(f.path, &doc)
	if err != nil {
		return nil, err
	}
	if !found || doc.LastUpdated.IsZero() {
		return nil, fmt.Errorf("%s: %w", f.path, models.ErrCacheMiss)
	}
	return &models.CacheEntry{
		Version:       doc.Version,
		LastUpdated:   doc.LastUpdated,
		Markets:       doc.Markets,
		Stats:         doc.Stats,
		ExpectedLimit: doc.ExpectedLimit,
	}, nil
}
