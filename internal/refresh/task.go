package refresh

import (
	"context"
	"time"

	"github.com/rewired-gh/polypulse/internal/cache"
	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/models"
)

// CacheWriter persists a refresh batch. *cache.Tiered implements it.
type CacheWriter interface {
	Write(ctx context.Context, entry *models.CacheEntry) ([]cache.WriteOutcome, error)
}

// WriteTask is a cache write running in the background. Its outcome is always logged.
type WriteTask struct {
	done     chan struct{}
	outcomes []cache.WriteOutcome
	err      error
}

// startWrite begins writing entry. cancel is released once the write finishes.
func startWrite(ctx context.Context, cancel context.CancelFunc, w CacheWriter, entry *models.CacheEntry) *WriteTask {
	t := &WriteTask{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()

		start := time.Now()
		t.outcomes, t.err = w.Write(ctx, entry)

		attrs := []any{"run_id", entry.Version, "markets", len(entry.Markets), "duration", time.Since(start)}
		for _, o := range t.outcomes {
			attrs = append(attrs, o.Tier, outcomeLabel(o))
		}
		if t.err != nil {
			logger.Error("cache write failed", append(attrs, "error", t.err)...)
			return
		}
		logger.Info("cache write complete", attrs...)
	}()
	return t
}

// Done is closed when the write has finished.
func (t *WriteTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the write finishes or ctx ends, whichever is first.
func (t *WriteTask) Wait(ctx context.Context) ([]cache.WriteOutcome, error) {
	select {
	case <-t.done:
		return t.outcomes, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// result returns the finished write, or false while it is still running.
func (t *WriteTask) result() (*WriteTask, bool) {
	select {
	case <-t.done:
		return t, true
	default:
		return nil, false
	}
}

func outcomeLabel(o cache.WriteOutcome) string {
	switch {
	case !o.Attempted:
		return "skipped"
	case o.OK:
		return "ok"
	default:
		return "failed"
	}
}
