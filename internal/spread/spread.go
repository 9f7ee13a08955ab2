// Package spread summarizes CLOB order books into spread and depth figures and looks them up
// for many instruments with bounded parallelism.
package spread

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/metrics"
	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/polymarket"
)

var hundred = decimal.NewFromInt(100)

// Compute summarizes a book. Best bid is the highest bid, best ask the lowest ask, spread is
// (ask − bid) in percentage points of the $1 payout, and depth is Σ price × size over both
// sides in USD. Books with an empty or crossed side yield false.
func Compute(book *polymarket.OrderBook) (models.SpreadInfo, bool) {
	if book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return models.SpreadInfo{}, false
	}

	bestBid := book.Bids[0].Price
	bestAsk := book.Asks[0].Price
	depth := decimal.Zero

	for _, l := range book.Bids {
		if l.Price.GreaterThan(bestBid) {
			bestBid = l.Price
		}
		depth = depth.Add(l.Price.Mul(l.Size))
	}
	for _, l := range book.Asks {
		if l.Price.LessThan(bestAsk) {
			bestAsk = l.Price
		}
		depth = depth.Add(l.Price.Mul(l.Size))
	}

	if bestAsk.LessThan(bestBid) {
		return models.SpreadInfo{}, false
	}

	return models.SpreadInfo{
		SpreadPercent: bestAsk.Sub(bestBid).Mul(hundred).InexactFloat64(),
		BestBid:       bestBid.InexactFloat64(),
		BestAsk:       bestAsk.InexactFloat64(),
		Depth:         depth.Round(2).InexactFloat64(),
	}, true
}

// BookFetcher retrieves one order book.
type BookFetcher interface {
	FetchOrderBook(ctx context.Context, tokenID string) (*polymarket.OrderBook, error)
}

// Lookup fetches and summarizes order books for a batch of instruments.
type Lookup struct {
	fetcher     BookFetcher
	concurrency int
	timeout     time.Duration
	metrics     *metrics.Metrics
}

// NewLookup creates a Lookup with at most concurrency books in flight, each bounded by timeout.
func NewLookup(fetcher BookFetcher, concurrency int, timeout time.Duration, m *metrics.Metrics) *Lookup {
	return &Lookup{
		fetcher:     fetcher,
		concurrency: max(concurrency, 1),
		timeout:     timeout,
		metrics:     m,
	}
}

// Fetch returns a summary for every instrument whose book could be fetched and summarized.
// Failures are logged and skipped; they never cancel sibling lookups.
func (l *Lookup) Fetch(ctx context.Context, tokenIDs []string) models.SpreadSnapshot {
	var (
		mu  sync.Mutex
		out = make(models.SpreadSnapshot, len(tokenIDs))
	)

	var g errgroup.Group
	g.SetLimit(l.concurrency)

	for _, id := range tokenIDs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			reqCtx, cancel := context.WithTimeout(ctx, l.timeout)
			defer cancel()

			book, err := l.fetcher.FetchOrderBook(reqCtx, id)
			if err != nil {
				logger.Debug("order book lookup failed", "token_id", id, "error", err)
				l.metrics.OrderBookFailed()
				return nil
			}
			info, ok := Compute(book)
			if !ok {
				return nil
			}
			mu.Lock()
			out[id] = info
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}
