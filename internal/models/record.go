package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tag is a classification label attached to an upstream record.
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// RawRecord is one upstream market after field-precedence normalization.
// It lives for a single refresh cycle and is never persisted as-is.
type RawRecord struct {
	ID                string
	ConditionID       string
	Slug              string
	Question          string
	Category          string // upstream category, frequently empty
	Outcomes          []string
	OutcomePrices     []decimal.Decimal
	TokenIDs          []string
	Volume24h         float64
	Volume7d          float64
	Liquidity         float64
	OneDayPriceChange float64 // fraction, e.g. 0.05 for +5 points
	CreatedAt         time.Time
	EndDate           time.Time
	Tags              []Tag
}

// Validate checks the minimum a record needs to be normalized.
func (r *RawRecord) Validate() error {
	if r.ID == "" {
		return errors.New("record ID must not be empty")
	}
	if r.Question == "" {
		return errors.New("record question must not be empty")
	}
	if len(r.Outcomes) == 0 {
		return errors.New("record must have at least one outcome")
	}
	if r.Volume24h < 0 || r.Volume7d < 0 || r.Liquidity < 0 {
		return errors.New("volume and liquidity must not be negative")
	}
	for _, p := range r.OutcomePrices {
		if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(1)) {
			return errors.New("outcome prices must be between 0 and 1")
		}
	}
	return nil
}

// InstrumentID returns the CLOB token of the first outcome.
func (r *RawRecord) InstrumentID() string {
	if len(r.TokenIDs) == 0 {
		return ""
	}
	return r.TokenIDs[0]
}

// HasTag reports whether the record carries a tag matching any of the given ids or slugs.
// Slugs and labels compare case-insensitively.
func (r *RawRecord) HasTag(ids map[string]bool, slugs map[string]bool) bool {
	for _, t := range r.Tags {
		if ids[t.ID] {
			return true
		}
		if slugs[strings.ToLower(t.Slug)] || slugs[strings.ToLower(t.Label)] {
			return true
		}
	}
	return false
}
