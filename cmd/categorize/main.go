// Command categorize fetches open markets and prints how the configured category rules classify
// them, along with the highest-volume markets that fell through to the default category.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/polypulse/internal/config"
	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/normalize"
	"github.com/rewired-gh/polypulse/internal/polymarket"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (defaults only when empty)")
	limit      = flag.Int("limit", 1000, "Number of markets to fetch")
	unmatched  = flag.Int("unmatched", 15, "Number of default-category markets to list")
)

type categoryStats struct {
	name     string
	count    int
	totalVol float64
	maxVol   float64
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	rules := normalize.DefaultRules
	if len(cfg.Categories.Rules) > 0 {
		rules = make([]normalize.Rule, 0, len(cfg.Categories.Rules))
		for _, r := range cfg.Categories.Rules {
			rules = append(rules, normalize.Rule{Name: r.Name, Keywords: r.Keywords})
		}
	}
	categorizer := normalize.NewCategorizer(rules, cfg.Categories.Default)

	client := polymarket.NewClient(
		cfg.Polymarket.GammaAPIURL,
		cfg.Polymarket.ClobAPIURL,
		cfg.Polymarket.Timeout,
		polymarket.WithPaging(cfg.Polymarket.PageSize, cfg.Polymarket.MaxConcurrentPages),
		polymarket.WithExcludedTags(cfg.Polymarket.ExcludedTagIDs, cfg.Polymarket.ExcludedTagSlugs),
	)

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("POLYMARKET CATEGORY DISTRIBUTION")
	fmt.Println(strings.Repeat("=", 80))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	records, report := client.FetchMarkets(ctx, *limit, cfg.Polymarket.MinVolume)
	fmt.Printf("Fetched %d markets (%d/%d pages ok, %d excluded by tag, %d below $%.0f volume)\n\n",
		len(records), report.Pages-report.FailedPages, report.Pages,
		report.Excluded, report.BelowVolume, cfg.Polymarket.MinVolume)
	if len(records) == 0 {
		return
	}

	byCategory := make(map[string]*categoryStats)
	var fallthroughs []models.RawRecord
	for _, r := range records {
		name := categorizer.Categorize(&r)
		s, ok := byCategory[name]
		if !ok {
			s = &categoryStats{name: name}
			byCategory[name] = s
		}
		s.count++
		s.totalVol += r.Volume24h
		s.maxVol = max(s.maxVol, r.Volume24h)
		if name == categorizer.Default() {
			fallthroughs = append(fallthroughs, r)
		}
	}

	printDistribution(byCategory, len(records))
	printUnmatched(fallthroughs, *unmatched)
}

func printDistribution(byCategory map[string]*categoryStats, total int) {
	stats := make([]*categoryStats, 0, len(byCategory))
	for _, s := range byCategory {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].totalVol > stats[j].totalVol
	})

	fmt.Printf("%-15s %-10s %-8s %-20s %-20s\n", "Category", "Markets", "Share", "Total 24hr Volume", "Max 24hr Volume")
	fmt.Println(strings.Repeat("-", 75))
	for _, s := range stats {
		share := float64(s.count) / float64(total) * 100
		fmt.Printf("%-15s %-10d %-7.1f%% $%-19.0f $%-19.0f\n", s.name, s.count, share, s.totalVol, s.maxVol)
	}
}

func printUnmatched(records []models.RawRecord, n int) {
	if len(records) == 0 || n <= 0 {
		return
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Volume24h > records[j].Volume24h
	})

	fmt.Printf("\nTop %d markets in the default category:\n", min(n, len(records)))
	for i := 0; i < n && i < len(records); i++ {
		r := records[i]
		var tags []string
		for _, t := range r.Tags {
			tags = append(tags, t.Slug)
		}
		fmt.Printf("%2d. $%-10.0f | %s | %s\n", i+1, r.Volume24h, truncate(strings.Join(tags, ","), 30), truncate(r.Question, 50))
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
