package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/models"
)

// gammaMarket is one entry of the Gamma /markets list.
//
// Several metrics arrive under two names with inconsistent presence: a precomputed numeric
// field and a raw CLOB or string field. toRawRecord resolves them in one place.
// Outcomes, prices and token ids are JSON-encoded string arrays, not arrays.
type gammaMarket struct {
	ID                string     `json:"id"`
	ConditionID       string     `json:"conditionId"`
	Slug              string     `json:"slug"`
	Question          string     `json:"question"`
	Category          string     `json:"category"`
	Outcomes          string     `json:"outcomes"`
	OutcomePrices     string     `json:"outcomePrices"`
	ClobTokenIds      string     `json:"clobTokenIds"`
	Volume24hr        *float64   `json:"volume24hr"`
	Volume24hrClob    *float64   `json:"volume24hrClob"`
	Volume1wk         *float64   `json:"volume1wk"`
	Volume1wkClob     *float64   `json:"volume1wkClob"`
	LiquidityNum      *float64   `json:"liquidityNum"`
	Liquidity         string     `json:"liquidity"`
	OneDayPriceChange *float64   `json:"oneDayPriceChange"`
	CreatedAt         string     `json:"createdAt"`
	EndDate           string     `json:"endDate"`
	Tags              []gammaTag `json:"tags"`
}

type gammaTag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// FetchReport summarizes one FetchMarkets call for logging.
type FetchReport struct {
	Pages       int
	FailedPages int
	Received    int
	Duplicates  int
	Invalid     int
	Excluded    int
	BelowVolume int
}

// FetchMarkets retrieves up to totalLimit open markets ordered by 24h volume, split into pages
// fetched with bounded parallelism.
//
// A failed page is logged and contributes nothing; siblings keep running. The result is whatever
// the successful pages produced, possibly empty, minus excluded-tag and below-minVolume records.
func (c *Client) FetchMarkets(ctx context.Context, totalLimit int, minVolume float64) ([]models.RawRecord, FetchReport) {
	var report FetchReport
	if totalLimit <= 0 {
		return nil, report
	}

	report.Pages = (totalLimit + c.pageSize - 1) / c.pageSize
	pages := make([][]gammaMarket, report.Pages)
	failed := make([]bool, report.Pages)

	var g errgroup.Group
	g.SetLimit(c.maxConcurrentPages)

	for i := 0; i < report.Pages; i++ {
		offset := i * c.pageSize
		limit := min(c.pageSize, totalLimit-offset)
		g.Go(func() error {
			page, err := c.fetchPage(ctx, offset, limit)
			if err != nil {
				logger.Warn("market page failed, treating as empty",
					"offset", offset, "limit", limit, "error", err)
				c.metrics.PageFailed()
				failed[i] = true
				return nil
			}
			pages[i] = page
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var records []models.RawRecord

	for i, page := range pages {
		if failed[i] {
			report.FailedPages++
		}
		for _, gm := range page {
			report.Received++
			if seen[gm.ID] {
				report.Duplicates++
				continue
			}
			seen[gm.ID] = true

			rec, err := toRawRecord(gm)
			if err != nil {
				logger.Debug("skipping malformed market", "id", gm.ID, "error", err)
				report.Invalid++
				continue
			}
			if rec.HasTag(c.excludedTagIDs, c.excludedTagSlugs) {
				report.Excluded++
				continue
			}
			if rec.Volume24h < minVolume {
				report.BelowVolume++
				continue
			}
			records = append(records, rec)
		}
	}

	return records, report
}

// fetchPage retrieves one page. Pages are not retried inline.
func (c *Client) fetchPage(ctx context.Context, offset, limit int) ([]gammaMarket, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("closed", "false")
	q.Set("active", "true")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	q.Set("include_tag", "true")
	for id := range c.excludedTagIDs {
		q.Add("exclude_tag_id", id)
	}

	body, err := c.doRequest(ctx, c.gammaURL+"/markets?"+q.Encode(), 1)
	if err != nil {
		return nil, err
	}

	var page []gammaMarket
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode markets page: %w", err)
	}
	return page, nil
}

// toRawRecord converts a Gamma market, resolving duplicated metrics in this order:
// the numeric field, then the raw CLOB or string field, then zero.
func toRawRecord(gm gammaMarket) (models.RawRecord, error) {
	outcomes, err := decodeStringArray(gm.Outcomes)
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("outcomes: %w", err)
	}
	priceStrs, err := decodeStringArray(gm.OutcomePrices)
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("outcome prices: %w", err)
	}
	tokens, err := decodeStringArray(gm.ClobTokenIds)
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("clob token ids: %w", err)
	}

	prices := make([]decimal.Decimal, 0, len(priceStrs))
	for _, s := range priceStrs {
		p, err := decimal.NewFromString(s)
		if err != nil {
			return models.RawRecord{}, fmt.Errorf("outcome price %q: %w", s, err)
		}
		prices = append(prices, p)
	}

	rec := models.RawRecord{
		ID:                gm.ID,
		ConditionID:       gm.ConditionID,
		Slug:              gm.Slug,
		Question:          gm.Question,
		Category:          gm.Category,
		Outcomes:          outcomes,
		OutcomePrices:     prices,
		TokenIDs:          tokens,
		Volume24h:         firstOf(gm.Volume24hr, gm.Volume24hrClob),
		Volume7d:          firstOf(gm.Volume1wk, gm.Volume1wkClob),
		Liquidity:         firstOf(gm.LiquidityNum, parseNumber(gm.Liquidity)),
		OneDayPriceChange: firstOf(gm.OneDayPriceChange),
		CreatedAt:         parseTime(gm.CreatedAt),
		EndDate:           parseTime(gm.EndDate),
	}
	for _, t := range gm.Tags {
		rec.Tags = append(rec.Tags, models.Tag{ID: t.ID, Label: t.Label, Slug: t.Slug})
	}

	if err := rec.Validate(); err != nil {
		return models.RawRecord{}, err
	}
	return rec, nil
}

// firstOf returns the first present value, or 0.
func firstOf(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func parseNumber(s string) *float64 {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// decodeStringArray decodes a JSON-encoded string array such as "[\"Yes\", \"No\"]".
// An empty string decodes to nil.
func decodeStringArray(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
