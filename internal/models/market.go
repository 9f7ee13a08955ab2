// Package models defines the core domain entities for polypulse.
// These models represent upstream market records, the canonical scored markets served to
// consumers, hour-bucketed snapshot values, and the cache entry that carries a refresh batch.
//
// Terminology (matching Polymarket's own naming):
//   - RawRecord: one market as returned by the Gamma list endpoint, after field normalization.
//   - Market: the canonical record derived from a RawRecord plus deltas and scores.
//   - Outcome: one tradable side of a market, backed by a CLOB token.
package models

import (
	"errors"
	"time"
)

// MarketType distinguishes two-outcome markets from markets with more outcomes.
type MarketType string

const (
	MarketTypeBinary MarketType = "binary"
	MarketTypeMulti  MarketType = "multi"
)

// TradabilityStatus buckets the 0–10 tradability composite.
type TradabilityStatus string

const (
	TradabilityExcellent TradabilityStatus = "excellent"
	TradabilityGood      TradabilityStatus = "good"
	TradabilityFair      TradabilityStatus = "fair"
	TradabilityPoor      TradabilityStatus = "poor"
	TradabilityUnknown   TradabilityStatus = "unknown"
)

// Outcome is one entry of a market's outcome breakdown. Binary markets carry two.
type Outcome struct {
	Name        string  `json:"name"`
	TokenID     string  `json:"tokenId,omitempty"`
	Price       float64 `json:"price"`       // 0–1
	Probability int     `json:"probability"` // 0–100
}

// Market is the canonical, derived record served to consumers.
//
// Probability is the first outcome's price as an integer percent. Change fields are signed
// percentage points against the hour-bucketed snapshots 1, 6 and 24 hours back, and are exactly
// zero when no snapshot exists for that offset.
type Market struct {
	ID                string            `json:"id"`
	ConditionID       string            `json:"conditionId,omitempty"`
	Slug              string            `json:"slug,omitempty"`
	Name              string            `json:"name"`
	Category          string            `json:"category"`
	MarketType        MarketType        `json:"marketType"`
	Probability       int               `json:"probability"`
	Change1h          float64           `json:"change1h"`
	Change6h          float64           `json:"change6h"`
	Change24h         float64           `json:"change24h"`
	Volume24h         float64           `json:"volume24h"`
	Liquidity         float64           `json:"liquidity"`
	CreatedAt         time.Time         `json:"createdAt"`
	EndsAt            time.Time         `json:"endsAt"`
	TrendingScore     float64           `json:"trendingScore"`
	Spread            float64           `json:"spread"` // percentage points, 0 when unknown
	TradabilityScore  int               `json:"tradabilityScore"`
	TradabilityStatus TradabilityStatus `json:"tradabilityStatus"`
	Outcomes          []Outcome         `json:"outcomes"`
}

// Validate checks that all market fields are valid.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.Name == "" {
		return errors.New("market name must not be empty")
	}
	if m.Category == "" {
		return errors.New("market category must not be empty")
	}
	if m.MarketType != MarketTypeBinary && m.MarketType != MarketTypeMulti {
		return errors.New("market type must be 'binary' or 'multi'")
	}
	if m.Probability < 0 || m.Probability > 100 {
		return errors.New("probability must be between 0 and 100")
	}
	if m.Volume24h < 0 {
		return errors.New("volume 24h must not be negative")
	}
	if m.TrendingScore < 0 {
		return errors.New("trending score must not be negative")
	}
	if m.TradabilityScore < 0 || m.TradabilityScore > 10 {
		return errors.New("tradability score must be between 0 and 10")
	}
	if len(m.Outcomes) == 0 {
		return errors.New("market must carry an outcome breakdown")
	}
	if !m.EndsAt.IsZero() && !m.CreatedAt.IsZero() && m.EndsAt.Before(m.CreatedAt) {
		return errors.New("ends at must not be before created at")
	}
	return nil
}

// InstrumentID returns the CLOB token of the first outcome, which keys spread data.
func (m *Market) InstrumentID() string {
	if len(m.Outcomes) == 0 {
		return ""
	}
	return m.Outcomes[0].TokenID
}

// Stats aggregates a refresh batch.
type Stats struct {
	TotalVolume24h float64        `json:"totalVolume24h"`
	MarketCount    int            `json:"marketCount"`
	ActiveCount    int            `json:"activeCount"`
	Categories     map[string]int `json:"categories,omitempty"`
}
