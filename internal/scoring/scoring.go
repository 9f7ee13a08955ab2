// Package scoring provides the pure ranking heuristics applied to every market of a refresh.
//
// The trending score is the sum of four clamped terms:
//
//	trending = volumeScore (0–40) + priceScore (0–30) + liquidityScore (0–20) + recencyScore (0–10)
//
// and is forced to 0 below a 24h volume floor. The tradability score is the sum of a spread
// sub-score and a depth sub-score, each 0–5, mapped onto a status bucket.
//
// Every function here is deterministic: the clock is an argument, never read.
package scoring

import (
	"math"
	"time"

	"github.com/rewired-gh/polypulse/internal/models"
)

// Trending score parameters.
const (
	// VolumeFloor is the 24h volume below which a market never trends.
	VolumeFloor = 5000.0

	maxVolumeRatio  = 10.0
	volumeWeight    = 4.0
	daysPerWeek     = 7.0
	priceVolumeRef  = 100000.0
	priceWeight     = 3.0
	maxPriceScore   = 30.0
	liquidityRef    = 500000.0
	liquidityWeight = 20.0
	recencyHorizonH = 720.0 // 30 days
	recencyWeight   = 10.0
)

// TrendingInput carries the signals of one market the trending score depends on.
type TrendingInput struct {
	Volume24h         float64
	Volume7d          float64
	Liquidity         float64
	OneDayPriceChange float64 // fraction of the payout, e.g. 0.05 for five points
	CreatedAt         time.Time
}

// TrendingInputOf extracts the trending signals from an upstream record.
func TrendingInputOf(r *models.RawRecord) TrendingInput {
	return TrendingInput{
		Volume24h:         r.Volume24h,
		Volume7d:          r.Volume7d,
		Liquidity:         r.Liquidity,
		OneDayPriceChange: r.OneDayPriceChange,
		CreatedAt:         r.CreatedAt,
	}
}

// TrendingScore returns the composite trending score in [0, 100], or 0 when
// Volume24h < VolumeFloor regardless of the other signals.
func TrendingScore(in TrendingInput, now time.Time) float64 {
	if in.Volume24h < VolumeFloor {
		return 0
	}
	return VolumeScore(in.Volume24h, in.Volume7d) +
		PriceScore(in.OneDayPriceChange, in.Volume24h) +
		LiquidityScore(in.Liquidity) +
		RecencyScore(in.CreatedAt, now)
}

// VolumeScore returns min(volume24h / dailyAverage, 10) × 4, in [0, 40].
// dailyAverage is volume7d/7, or volume24h itself when there is no 7d data (ratio 1).
func VolumeScore(volume24h, volume7d float64) float64 {
	avg := volume24h
	if volume7d > 0 {
		avg = volume7d / daysPerWeek
	}
	if avg <= 0 || volume24h <= 0 {
		return 0
	}
	return math.Min(volume24h/avg, maxVolumeRatio) * volumeWeight
}

// PriceScore returns |oneDayPriceChange| × min(volume24h/100000, 1) × 100 × 3, capped at 30.
// Price movement on thin volume counts proportionally less.
func PriceScore(oneDayPriceChange, volume24h float64) float64 {
	weight := math.Max(0, math.Min(volume24h/priceVolumeRef, 1))
	return math.Min(math.Abs(oneDayPriceChange)*weight*100*priceWeight, maxPriceScore)
}

// LiquidityScore returns min(liquidity/500000, 1) × 20, in [0, 20].
func LiquidityScore(liquidity float64) float64 {
	return math.Max(0, math.Min(liquidity/liquidityRef, 1)) * liquidityWeight
}

// RecencyScore returns max(0, 1 − hoursSinceCreated/720) × 10, in [0, 10].
// A zero createdAt scores 0; a createdAt after now counts as brand new.
func RecencyScore(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	hours := math.Max(0, now.Sub(createdAt).Hours())
	return math.Max(0, 1-hours/recencyHorizonH) * recencyWeight
}

// SpreadSubScore maps a spread fraction (0.01 = one point) to 0–5. Tiers are strict upper bounds.
func SpreadSubScore(spread float64) int {
	switch {
	case spread < 0.005:
		return 5
	case spread < 0.01:
		return 4
	case spread < 0.02:
		return 3
	case spread < 0.05:
		return 2
	case spread < 0.10:
		return 1
	default:
		return 0
	}
}

// DepthSubScore maps USD order book depth to 0–5. Tiers are strict lower bounds.
func DepthSubScore(depth float64) int {
	switch {
	case depth > 100000:
		return 5
	case depth > 50000:
		return 4
	case depth > 20000:
		return 3
	case depth > 5000:
		return 2
	case depth > 1000:
		return 1
	default:
		return 0
	}
}

// Status maps a 0–10 composite to its bucket. Higher scores never map to a worse bucket.
func Status(score int) models.TradabilityStatus {
	switch {
	case score >= 8:
		return models.TradabilityExcellent
	case score >= 6:
		return models.TradabilityGood
	case score >= 4:
		return models.TradabilityFair
	default:
		return models.TradabilityPoor
	}
}

// Tradability returns the 0–10 composite of spread and depth and its status.
func Tradability(spread, depth float64) (int, models.TradabilityStatus) {
	score := SpreadSubScore(spread) + DepthSubScore(depth)
	return score, Status(score)
}

// TradabilityOf scores a spread snapshot entry. nil means no spread data: score 0, "unknown".
func TradabilityOf(info *models.SpreadInfo) (int, models.TradabilityStatus) {
	if info == nil {
		return 0, models.TradabilityUnknown
	}
	return Tradability(info.SpreadFraction(), info.Depth)
}
