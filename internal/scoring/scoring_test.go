package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/polypulse/internal/models"
)

const eps = 1e-9

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTrendingScore_VolumeFloor(t *testing.T) {
	// Below the floor nothing else matters
	inputs := []TrendingInput{
		{Volume24h: 4999.99, Volume7d: 1, Liquidity: 1e9, OneDayPriceChange: 0.9, CreatedAt: now},
		{Volume24h: 10, OneDayPriceChange: -0.5, CreatedAt: now.Add(-time.Minute)},
		{Volume24h: 0},
	}
	for _, in := range inputs {
		if got := TrendingScore(in, now); got != 0 {
			t.Errorf("TrendingScore(%+v) = %v, want 0", in, got)
		}
	}

	at := TrendingScore(TrendingInput{Volume24h: 5000}, now)
	if at <= 0 {
		t.Errorf("TrendingScore at the floor = %v, want > 0", at)
	}
}

func TestTrendingScore_Composite(t *testing.T) {
	in := TrendingInput{
		Volume24h:         50000,
		Volume7d:          175000, // avg 25000/day, ratio 2
		Liquidity:         250000,
		OneDayPriceChange: 0.05,
		CreatedAt:         now.Add(-360 * time.Hour),
	}
	// volume 2×4=8, price 0.05×0.5×100×3=7.5, liquidity 10, recency 5
	want := 8 + 7.5 + 10 + 5.0
	if got := TrendingScore(in, now); !approx(got, want) {
		t.Errorf("TrendingScore = %v, want %v", got, want)
	}
}

func TestTrendingScore_Bounds(t *testing.T) {
	top := TrendingInput{
		Volume24h:         1e9,
		Volume7d:          7,
		Liquidity:         1e12,
		OneDayPriceChange: -1,
		CreatedAt:         now,
	}
	if got := TrendingScore(top, now); !approx(got, 100) {
		t.Errorf("maximal TrendingScore = %v, want 100", got)
	}
}

func TestVolumeScore(t *testing.T) {
	tests := []struct {
		name      string
		volume24h float64
		volume7d  float64
		want      float64
	}{
		{"no 7d data is ratio 1", 10000, 0, 4},
		{"steady volume", 10000, 70000, 4},
		{"spike capped at 10x", 1e6, 7000, 40},
		{"quiet day", 5000, 70000, 2},
		{"zero volume", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VolumeScore(tt.volume24h, tt.volume7d); !approx(got, tt.want) {
				t.Errorf("VolumeScore(%v, %v) = %v, want %v", tt.volume24h, tt.volume7d, got, tt.want)
			}
		})
	}
}

func TestPriceScore(t *testing.T) {
	tests := []struct {
		name      string
		change    float64
		volume24h float64
		want      float64
	}{
		{"full weight", 0.05, 100000, 15},
		{"half weight", 0.05, 50000, 7.5},
		{"negative change counts", -0.04, 200000, 12},
		{"capped", 0.5, 1e6, 30},
		{"no movement", 0, 1e6, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriceScore(tt.change, tt.volume24h); !approx(got, tt.want) {
				t.Errorf("PriceScore(%v, %v) = %v, want %v", tt.change, tt.volume24h, got, tt.want)
			}
		})
	}
}

func TestLiquidityScore(t *testing.T) {
	tests := []struct {
		liquidity float64
		want      float64
	}{
		{0, 0},
		{-5, 0},
		{125000, 5},
		{500000, 20},
		{2e6, 20},
	}
	for _, tt := range tests {
		if got := LiquidityScore(tt.liquidity); !approx(got, tt.want) {
			t.Errorf("LiquidityScore(%v) = %v, want %v", tt.liquidity, got, tt.want)
		}
	}
}

func TestRecencyScore(t *testing.T) {
	tests := []struct {
		name      string
		createdAt time.Time
		want      float64
	}{
		{"just created", now, 10},
		{"15 days old", now.Add(-360 * time.Hour), 5},
		{"30 days old", now.Add(-720 * time.Hour), 0},
		{"a year old", now.Add(-8760 * time.Hour), 0},
		{"created in the future", now.Add(2 * time.Hour), 10},
		{"unknown creation time", time.Time{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecencyScore(tt.createdAt, now); !approx(got, tt.want) {
				t.Errorf("RecencyScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTradability(t *testing.T) {
	tests := []struct {
		name       string
		spread     float64
		depth      float64
		wantScore  int
		wantStatus models.TradabilityStatus
	}{
		{"tightest and deepest", 0.0049, 100001, 10, models.TradabilityExcellent},
		{"widest and empty", 0.10, 0, 0, models.TradabilityPoor},
		{"spread boundary is strict", 0.005, 100001, 9, models.TradabilityExcellent},
		{"depth boundary is strict", 0.0049, 100000, 9, models.TradabilityExcellent},
		{"mid spread deep book", 0.015, 60000, 7, models.TradabilityGood},
		{"good", 0.009, 25000, 7, models.TradabilityGood},
		{"fair", 0.03, 10000, 4, models.TradabilityFair},
		{"poor", 0.08, 2000, 2, models.TradabilityPoor},
		{"excellent", 0.004, 60000, 9, models.TradabilityExcellent},
		{"exactly eight", 0.009, 60000, 8, models.TradabilityExcellent},
		{"exactly six", 0.015, 20001, 6, models.TradabilityGood},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, status := Tradability(tt.spread, tt.depth)
			if score != tt.wantScore || status != tt.wantStatus {
				t.Errorf("Tradability(%v, %v) = %d %s, want %d %s",
					tt.spread, tt.depth, score, status, tt.wantScore, tt.wantStatus)
			}
		})
	}
}

func TestStatusIsMonotonic(t *testing.T) {
	rank := map[models.TradabilityStatus]int{
		models.TradabilityPoor:      0,
		models.TradabilityFair:      1,
		models.TradabilityGood:      2,
		models.TradabilityExcellent: 3,
	}
	for s := 1; s <= 10; s++ {
		if rank[Status(s)] < rank[Status(s-1)] {
			t.Errorf("Status(%d)=%s ranks below Status(%d)=%s", s, Status(s), s-1, Status(s-1))
		}
	}
}

func TestTradabilityOf(t *testing.T) {
	score, status := TradabilityOf(nil)
	if score != 0 || status != models.TradabilityUnknown {
		t.Errorf("TradabilityOf(nil) = %d %s, want 0 unknown", score, status)
	}

	info := &models.SpreadInfo{SpreadPercent: 0.49, BestBid: 0.5, BestAsk: 0.5049, Depth: 100001}
	score, status = TradabilityOf(info)
	if score != 10 || status != models.TradabilityExcellent {
		t.Errorf("TradabilityOf = %d %s, want 10 excellent", score, status)
	}
}
