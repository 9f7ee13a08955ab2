package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/models"
)

// Offsets are the fixed look-back windows, in hours.
var Offsets = [3]int{1, 6, 24}

// Round1 rounds v to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Delta returns Round1(current - snapshot) when the snapshot value exists, else exactly 0.
func Delta(current, snapshot float64, ok bool) float64 {
	if !ok {
		return 0
	}
	return Round1(current - snapshot)
}

// Calculator computes deltas for a whole refresh batch.
type Calculator struct {
	store *Store
}

// NewCalculator creates a Calculator reading from store.
func NewCalculator(store *Store) *Calculator {
	return &Calculator{store: store}
}

// Batch returns the deltas of every market in current (id -> probability 0–100).
//
// Each offset's snapshot is read exactly once, concurrently, no matter how many markets are
// passed. A failed read counts as absent: its deltas are 0 and the failure is returned
// alongside the complete result.
func (c *Calculator) Batch(ctx context.Context, current map[string]float64) (map[string]models.Deltas, error) {
	var snaps [len(Offsets)]models.PriceSnapshot
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	for i, hours := range Offsets {
		g.Go(func() error {
			snap, ok, err := c.store.Prices(ctx, hours)
			if err != nil {
				logger.Warn("price snapshot unavailable, deltas default to 0",
					"hours_ago", hours, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%dh snapshot: %w", hours, err))
				mu.Unlock()
				return nil
			}
			if ok {
				snaps[i] = snap
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]models.Deltas, len(current))
	for id, p := range current {
		var d models.Deltas
		for i := range Offsets {
			prev, ok := snaps[i][id]
			v := Delta(p, prev, ok)
			switch i {
			case 0:
				d.Change1h = v
			case 1:
				d.Change6h = v
			case 2:
				d.Change24h = v
			}
		}
		out[id] = d
	}

	return out, errors.Join(errs...)
}
