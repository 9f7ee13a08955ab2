package models

import (
	"errors"
	"math"
)

// Deltas holds the signed probability changes of one market, in percentage points,
// against the snapshots 1, 6 and 24 hours back.
type Deltas struct {
	Change1h  float64 `json:"change1h"`
	Change6h  float64 `json:"change6h"`
	Change24h float64 `json:"change24h"`
}

// Validate checks that every change is a possible difference of two probabilities.
func (d *Deltas) Validate() error {
	for _, c := range []float64{d.Change1h, d.Change6h, d.Change24h} {
		if math.IsNaN(c) || math.Abs(c) > 100 {
			return errors.New("change must be between -100 and 100")
		}
	}
	return nil
}
