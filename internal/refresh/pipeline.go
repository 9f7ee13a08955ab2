// Package refresh runs the fetch → score → snapshot-diff → cache-write cycle.
//
// A Pipeline turns upstream records into a batch of canonical markets. The Orchestrator wraps it
// with single-flight execution, a time budget, snapshot persistence, the asynchronous cache
// write and failure alerting. The serving layer reuses the Pipeline for live builds.
package refresh

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rewired-gh/polypulse/internal/cache"
	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/normalize"
	"github.com/rewired-gh/polypulse/internal/polymarket"
	"github.com/rewired-gh/polypulse/internal/scoring"
	"github.com/rewired-gh/polypulse/internal/snapshot"
	"github.com/rewired-gh/polypulse/internal/tracing"
)

// Fetcher retrieves upstream records. *polymarket.Client implements it.
type Fetcher interface {
	FetchMarkets(ctx context.Context, totalLimit int, minVolume float64) ([]models.RawRecord, polymarket.FetchReport)
}

// SpreadFetcher looks up spread data for instruments. *spread.Lookup implements it.
type SpreadFetcher interface {
	Fetch(ctx context.Context, tokenIDs []string) models.SpreadSnapshot
}

// Degradation labels reported in Result.Degraded.
const (
	DegradedPages     = "upstream_pages"
	DegradedSnapshots = "price_snapshots"
	DegradedSpreads   = "spread_snapshots"
	DegradedPersist   = "snapshot_write"
)

// Batch is the output of one pipeline build.
type Batch struct {
	Markets       []models.Market
	Stats         models.Stats
	ExpectedLimit int
	Report        polymarket.FetchReport
	Prices        models.PriceSnapshot  // current probability per market id
	Spreads       models.SpreadSnapshot // previous and freshly fetched entries merged
	FreshSpreads  int
	Bucket        int64
	Degraded      []string
}

// PipelineConfig holds the pipeline limits.
type PipelineConfig struct {
	TotalLimit     int
	MinVolume      float64
	MaxInstruments int
}

// Pipeline builds batches. Spreads may be nil to disable order book lookups.
type Pipeline struct {
	fetcher    Fetcher
	store      *snapshot.Store
	deltas     *snapshot.Calculator
	spreads    SpreadFetcher
	normalizer *normalize.Normalizer
	cfg        PipelineConfig
	now        func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(fetcher Fetcher, store *snapshot.Store, spreads SpreadFetcher, normalizer *normalize.Normalizer, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		store:      store,
		deltas:     snapshot.NewCalculator(store),
		spreads:    spreads,
		normalizer: normalizer,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetClock replaces the clock used for scoring and stats.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Build fetches and scores one batch. Zero fetched records is models.ErrNoRecords; snapshot and
// spread failures only degrade the batch and are listed in Batch.Degraded.
func (p *Pipeline) Build(ctx context.Context) (*Batch, error) {
	now := p.now()
	batch := &Batch{Bucket: snapshot.HourBucket(now)}

	fctx, span := tracing.StartSpan(ctx, "refresh.fetch")
	records, report := p.fetcher.FetchMarkets(fctx, p.cfg.TotalLimit, p.cfg.MinVolume)
	span.SetAttributes(
		attribute.Int("pages", report.Pages),
		attribute.Int("failed_pages", report.FailedPages),
		attribute.Int("records", len(records)),
	)
	span.End()

	batch.Report = report
	if report.FailedPages > 0 {
		batch.Degraded = append(batch.Degraded, DegradedPages)
	}
	if len(records) == 0 {
		err := fmt.Errorf("%w: %d of %d pages failed", models.ErrNoRecords, report.FailedPages, report.Pages)
		if report.Pages > 0 && report.FailedPages == report.Pages {
			err = fmt.Errorf("%w: %w", err, models.ErrUpstreamUnavailable)
		}
		return batch, err
	}

	trending := make([]float64, len(records))
	batch.Prices = make(models.PriceSnapshot, len(records))
	for i := range records {
		trending[i] = scoring.TrendingScore(scoring.TrendingInputOf(&records[i]), now)
		batch.Prices[records[i].ID] = float64(normalize.Probability(&records[i]))
	}

	dctx, span := tracing.StartSpan(ctx, "refresh.deltas")
	deltas, err := p.deltas.Batch(dctx, batch.Prices)
	if err != nil {
		tracing.RecordError(span, err)
		batch.Degraded = append(batch.Degraded, DegradedSnapshots)
	}
	span.End()

	sctx, span := tracing.StartSpan(ctx, "refresh.spreads")
	batch.Spreads, batch.FreshSpreads, err = p.collectSpreads(sctx, batch.Bucket, records)
	if err != nil {
		tracing.RecordError(span, err)
		batch.Degraded = append(batch.Degraded, DegradedSpreads)
	}
	span.SetAttributes(attribute.Int("fresh", batch.FreshSpreads), attribute.Int("total", len(batch.Spreads)))
	span.End()

	_, span = tracing.StartSpan(ctx, "refresh.normalize")
	batch.Markets = make([]models.Market, 0, len(records))
	for i := range records {
		batch.Markets = append(batch.Markets,
			p.normalizer.Normalize(&records[i], deltas[records[i].ID], batch.Spreads, trending[i]))
	}
	batch.Stats = normalize.ComputeStats(batch.Markets, now)
	span.End()

	// Min-volume filtering makes the requested limit useless as an expected count, so the
	// expectation is what the pull would have produced had every page succeeded.
	batch.ExpectedLimit = cache.ExpectedCount(len(records), report.Pages, report.Pages-report.FailedPages)

	return batch, nil
}

// collectSpreads reads the bucket's spread snapshot and fetches the instruments it lacks, limited
// to the highest-volume records.
func (p *Pipeline) collectSpreads(ctx context.Context, bucket int64, records []models.RawRecord) (models.SpreadSnapshot, int, error) {
	merged := make(models.SpreadSnapshot)

	prev, _, err := p.store.Spreads(ctx, bucket)
	if err != nil {
		logger.Warn("spread snapshot unavailable", "bucket", bucket, "error", err)
	}
	for id, info := range prev {
		merged[id] = info
	}

	if p.spreads == nil || p.cfg.MaxInstruments <= 0 {
		return merged, 0, err
	}

	byVolume := make([]*models.RawRecord, 0, len(records))
	for i := range records {
		byVolume = append(byVolume, &records[i])
	}
	slices.SortStableFunc(byVolume, func(a, b *models.RawRecord) int {
		return cmp.Compare(b.Volume24h, a.Volume24h)
	})

	var missing []string
	for _, r := range byVolume[:min(len(byVolume), p.cfg.MaxInstruments)] {
		id := r.InstrumentID()
		if id == "" {
			continue
		}
		if _, ok := merged[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return merged, 0, err
	}

	fresh := p.spreads.Fetch(ctx, missing)
	for id, info := range fresh {
		merged[id] = info
	}
	logger.Debug("spread lookup complete", "requested", len(missing), "fetched", len(fresh))
	return merged, len(fresh), err
}

// PersistSnapshots writes the batch's current-hour price snapshot, once per hour, and the merged
// spread snapshot when it gained entries.
func (p *Pipeline) PersistSnapshots(ctx context.Context, batch *Batch) error {
	var errs []error

	exists, err := p.store.HasPrices(ctx, batch.Bucket)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("check price snapshot: %w", err))
	case !exists:
		if err := p.store.PutPrices(ctx, batch.Bucket, batch.Prices); err != nil {
			errs = append(errs, fmt.Errorf("write price snapshot: %w", err))
		} else {
			logger.Info("price snapshot written", "bucket", batch.Bucket, "markets", len(batch.Prices))
		}
	}

	if batch.FreshSpreads > 0 {
		if err := p.store.PutSpreads(ctx, batch.Bucket, batch.Spreads); err != nil {
			errs = append(errs, fmt.Errorf("write spread snapshot: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("persist snapshots: %w", errors.Join(errs...))
	}
	return nil
}
