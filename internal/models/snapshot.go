package models

import (
	"errors"
)

// SpreadInfo is the per-instrument order book summary stored in spread snapshots.
type SpreadInfo struct {
	SpreadPercent float64 `json:"spreadPercent"` // (bestAsk - bestBid) in percentage points of the $1 payout
	BestBid       float64 `json:"bestBid"`
	BestAsk       float64 `json:"bestAsk"`
	Depth         float64 `json:"depth"` // USD notional resting on both sides
}

// SpreadFraction returns the spread as a fraction (0.01 for one point).
func (s SpreadInfo) SpreadFraction() float64 {
	return s.SpreadPercent / 100
}

// Validate checks that all spread fields are valid
func (s *SpreadInfo) Validate() error {
	if s.BestBid < 0.0 || s.BestBid > 1.0 {
		return errors.New("best bid must be between 0.0 and 1.0")
	}
	if s.BestAsk < 0.0 || s.BestAsk > 1.0 {
		return errors.New("best ask must be between 0.0 and 1.0")
	}
	if s.BestAsk < s.BestBid {
		return errors.New("best ask must not be below best bid")
	}
	if s.SpreadPercent < 0 {
		return errors.New("spread must not be negative")
	}
	if s.Depth < 0 {
		return errors.New("depth must not be negative")
	}
	return nil
}

// PriceSnapshot maps market id to probability (0–100) at one hour bucket.
type PriceSnapshot map[string]float64

// SpreadSnapshot maps instrument id to its spread summary at one hour bucket.
type SpreadSnapshot map[string]SpreadInfo
