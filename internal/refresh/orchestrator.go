package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/metrics"
	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/tracing"
)

// Notifier is told about the first failure of a streak and about the recovery that ends it.
type Notifier interface {
	NotifyFailure(ctx context.Context, runID string, err error) error
	NotifyRecovery(ctx context.Context, failures int) error
}

// Result summarizes one refresh run.
type Result struct {
	Success      bool          `json:"success"`
	MarketsCount int           `json:"marketsCount"`
	KVSuccess    bool          `json:"kvSuccess"`
	FileSuccess  bool          `json:"fileSuccess"`
	Duration     time.Duration `json:"-"`
	Timestamp    time.Time     `json:"timestamp"`
	RunID        string        `json:"runId"`
	Degraded     []string      `json:"degraded,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// MarshalJSON renders Duration in milliseconds.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"duration"`
	}{plain(r), r.Duration.Milliseconds()})
}

// Options tunes an Orchestrator.
type Options struct {
	MaxDuration  time.Duration // budget for fetch and scoring; 0 disables it
	WriteTimeout time.Duration
	WaitForWrite bool
	Metrics      *metrics.Metrics
	Notifier     Notifier
}

// Orchestrator runs refresh cycles one at a time.
type Orchestrator struct {
	mu       sync.Mutex
	pipeline *Pipeline
	cache    CacheWriter
	opts     Options
	now      func() time.Time

	stateMu  sync.Mutex
	failures int
	lastTask *WriteTask
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(p *Pipeline, c CacheWriter, opts Options) *Orchestrator {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 20 * time.Second
	}
	return &Orchestrator{pipeline: p, cache: c, opts: opts, now: time.Now}
}

// SetClock replaces the clock stamped on results and cache entries.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// LastWrite returns the most recent cache write task, or nil before the first successful build.
func (o *Orchestrator) LastWrite() *WriteTask {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.lastTask
}

// Run executes one refresh cycle.
//
// A concurrent call returns models.ErrRefreshInProgress without doing anything. Zero fetched
// records fail the run and leave the cache and snapshots untouched. Snapshot and spread store
// failures degrade the batch but the run still writes it. Fetch and scoring share the
// MaxDuration budget; the cache write gets its own WriteTimeout so an exhausted budget still
// persists what was built.
//
// The lock is held until the cache write finishes, even when Run returns before it.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if !o.mu.TryLock() {
		o.opts.Metrics.RefreshSkipped()
		return Result{}, models.ErrRefreshInProgress
	}
	unlock := o.mu.Unlock
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	start := o.now()
	res := Result{RunID: uuid.NewString(), Timestamp: start}
	log := logger.With("run_id", res.RunID)

	ctx, span := tracing.StartSpan(ctx, "refresh.run", attribute.String("run_id", res.RunID))
	defer span.End()

	buildCtx := ctx
	if o.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, o.opts.MaxDuration)
		defer cancel()
	}

	batch, err := o.pipeline.Build(buildCtx)
	if batch != nil {
		res.Degraded = batch.Degraded
	}
	if err != nil {
		return o.finish(ctx, res, start, fmt.Errorf("build batch: %w", err))
	}
	if buildCtx.Err() != nil {
		log.Warn("refresh budget exhausted, writing partial results", "budget", o.opts.MaxDuration)
	}

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), o.opts.WriteTimeout)

	if err := o.pipeline.PersistSnapshots(writeCtx, batch); err != nil {
		log.Warn("snapshot write failed, next deltas may be 0", "error", err)
		res.Degraded = append(res.Degraded, DegradedPersist)
	}

	entry := &models.CacheEntry{
		Version:       res.RunID,
		LastUpdated:   start,
		Markets:       batch.Markets,
		Stats:         batch.Stats,
		ExpectedLimit: batch.ExpectedLimit,
	}
	res.MarketsCount = len(entry.Markets)

	_, wspan := tracing.StartSpan(ctx, "refresh.cache_write")
	task := startWrite(writeCtx, cancelWrite, o.cache, entry)
	o.stateMu.Lock()
	o.lastTask = task
	o.stateMu.Unlock()

	if !o.opts.WaitForWrite {
		release := unlock
		unlock = nil
		go func() {
			<-task.Done()
			wspan.End()
			release()
		}()
		log.Info("cache write continues in background")
		return o.finish(ctx, res, start, nil)
	}

	outcomes, err := task.Wait(ctx)
	wspan.End()
	if done, ok := task.result(); ok {
		// The write may carry context errors of its own; those are write failures.
		outcomes, err = done.outcomes, done.err
	} else if err != nil {
		// The caller gave up; the task keeps the lock until the write lands.
		release := unlock
		unlock = nil
		go func() {
			<-task.Done()
			release()
		}()
		return o.finish(ctx, res, start, nil)
	}
	for _, oc := range outcomes {
		switch oc.Tier {
		case "edge":
			res.KVSuccess = oc.OK
		case "file":
			res.FileSuccess = oc.OK
		}
	}
	if err != nil {
		return o.finish(ctx, res, start, fmt.Errorf("write cache: %w", err))
	}
	return o.finish(ctx, res, start, nil)
}

// finish stamps the result, records metrics and drives the failure/recovery alerts.
func (o *Orchestrator) finish(ctx context.Context, res Result, start time.Time, err error) (Result, error) {
	res.Duration = o.now().Sub(start)
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
		tracing.RecordError(trace.SpanFromContext(ctx), err)
	}
	o.opts.Metrics.ObserveRefresh(res.Success, res.MarketsCount, res.Duration, res.Timestamp)

	log := logger.With("run_id", res.RunID)
	if err != nil {
		log.Error("refresh failed", "duration", res.Duration, "degraded", res.Degraded, "error", err)
	} else {
		log.Info("refresh complete",
			"markets", res.MarketsCount,
			"kv_success", res.KVSuccess,
			"file_success", res.FileSuccess,
			"degraded", res.Degraded,
			"duration", res.Duration)
	}

	o.stateMu.Lock()
	var notifyFailure, notifyRecovery bool
	streak := o.failures
	if err != nil {
		o.failures++
		notifyFailure = o.failures == 1
	} else {
		notifyRecovery = o.failures > 0
		o.failures = 0
	}
	o.stateMu.Unlock()

	if o.opts.Notifier != nil {
		nctx := context.WithoutCancel(ctx)
		if notifyFailure {
			if nerr := o.opts.Notifier.NotifyFailure(nctx, res.RunID, err); nerr != nil {
				log.Warn("failed to send failure notification", "error", nerr)
			}
		}
		if notifyRecovery {
			if nerr := o.opts.Notifier.NotifyRecovery(nctx, streak); nerr != nil {
				log.Warn("failed to send recovery notification", "error", nerr)
			}
		}
	}

	return res, err
}

// Failures returns the length of the current failure streak.
func (o *Orchestrator) Failures() int {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.failures
}

// Schedule runs the orchestrator once immediately and then every interval until ctx ends.
func (o *Orchestrator) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("refresh schedule started", "interval", interval)
	o.runScheduled(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("refresh schedule stopped")
			return
		case <-ticker.C:
			o.runScheduled(ctx)
		}
	}
}

func (o *Orchestrator) runScheduled(ctx context.Context) {
	if _, err := o.Run(ctx); errors.Is(err, models.ErrRefreshInProgress) {
		logger.Debug("scheduled refresh skipped, previous run still active")
	}
}
