// Package normalize merges an upstream record with its deltas, spread data and trending score
// into the canonical Market, and aggregates batch statistics.
package normalize

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/scoring"
)

// Normalizer converts upstream records into canonical markets.
type Normalizer struct {
	categorizer *Categorizer
}

// New creates a Normalizer using categorizer.
func New(categorizer *Categorizer) *Normalizer {
	return &Normalizer{categorizer: categorizer}
}

// Normalize builds the canonical Market for raw.
//
// Markets with more than two outcomes are multi. Probability is the first outcome's price as
// a rounded integer percent. The outcome breakdown is always present, in upstream order, so
// consumers never special-case binary markets. Tradability comes from the spread entry of the
// first outcome's token, or is "unknown" when spreads has none.
func (n *Normalizer) Normalize(raw *models.RawRecord, deltas models.Deltas, spreads models.SpreadSnapshot, trending float64) models.Market {
	m := models.Market{
		ID:            raw.ID,
		ConditionID:   raw.ConditionID,
		Slug:          raw.Slug,
		Name:          raw.Question,
		Category:      n.categorizer.Categorize(raw),
		MarketType:    models.MarketTypeBinary,
		Probability:   Probability(raw),
		Change1h:      deltas.Change1h,
		Change6h:      deltas.Change6h,
		Change24h:     deltas.Change24h,
		Volume24h:     raw.Volume24h,
		Liquidity:     raw.Liquidity,
		CreatedAt:     raw.CreatedAt,
		EndsAt:        raw.EndDate,
		TrendingScore: trending,
		Outcomes:      make([]models.Outcome, 0, len(raw.Outcomes)),
	}
	if len(raw.Outcomes) > 2 {
		m.MarketType = models.MarketTypeMulti
	}

	for i, name := range raw.Outcomes {
		o := models.Outcome{Name: name}
		if i < len(raw.TokenIDs) {
			o.TokenID = raw.TokenIDs[i]
		}
		if i < len(raw.OutcomePrices) {
			o.Price = raw.OutcomePrices[i].InexactFloat64()
			o.Probability = percent(raw.OutcomePrices[i])
		}
		m.Outcomes = append(m.Outcomes, o)
	}

	var info *models.SpreadInfo
	if s, ok := spreads[raw.InstrumentID()]; ok && raw.InstrumentID() != "" {
		info = &s
		m.Spread = s.SpreadPercent
	}
	m.TradabilityScore, m.TradabilityStatus = scoring.TradabilityOf(info)

	return m
}

// Probability returns the first outcome's price as an integer percent in [0, 100], or 0 when
// the record carries no prices.
func Probability(raw *models.RawRecord) int {
	if len(raw.OutcomePrices) == 0 {
		return 0
	}
	return percent(raw.OutcomePrices[0])
}

var hundred = decimal.NewFromInt(100)

func percent(price decimal.Decimal) int {
	p := int(price.Mul(hundred).Round(0).IntPart())
	return min(max(p, 0), 100)
}

// ComputeStats aggregates a batch. A market is active when it has no end date or ends after now.
func ComputeStats(markets []models.Market, now time.Time) models.Stats {
	stats := models.Stats{
		MarketCount: len(markets),
		Categories:  make(map[string]int),
	}
	for _, m := range markets {
		stats.TotalVolume24h += m.Volume24h
		if m.EndsAt.IsZero() || m.EndsAt.After(now) {
			stats.ActiveCount++
		}
		stats.Categories[m.Category]++
	}
	return stats
}
