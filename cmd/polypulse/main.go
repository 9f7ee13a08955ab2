package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rewired-gh/polypulse/internal/cache"
	"github.com/rewired-gh/polypulse/internal/config"
	"github.com/rewired-gh/polypulse/internal/edgekv"
	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/metrics"
	"github.com/rewired-gh/polypulse/internal/normalize"
	"github.com/rewired-gh/polypulse/internal/polymarket"
	"github.com/rewired-gh/polypulse/internal/refresh"
	"github.com/rewired-gh/polypulse/internal/server"
	"github.com/rewired-gh/polypulse/internal/serving"
	"github.com/rewired-gh/polypulse/internal/snapshot"
	"github.com/rewired-gh/polypulse/internal/spread"
	"github.com/rewired-gh/polypulse/internal/storage"
	"github.com/rewired-gh/polypulse/internal/telegram"
	"github.com/rewired-gh/polypulse/internal/tracing"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	once       = flag.Bool("once", false, "Run a single refresh, print the result and exit")
)

func main() {
	flag.Parse()

	// Deferred first so it runs after every other cleanup.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "path", *configPath)

	if err := tracing.Init(cfg.Tracing.Enabled, cfg.Tracing.ServiceName); err != nil {
		logger.Fatal("failed to initialize tracing", "error", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.NewRegistry())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Snapshot store. An unreachable backend degrades deltas to 0 instead of stopping the service.
	kv, err := storage.Open(ctx, cfg.Snapshots.Backend, cfg.Snapshots.RedisURL, cfg.Snapshots.SQLitePath)
	if err != nil {
		logger.Warn("snapshot store unavailable, deltas will be 0",
			"backend", cfg.Snapshots.Backend, "error", err)
		kv = storage.Unavailable{}
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("failed to close snapshot store", "error", err)
		}
	}()
	store := snapshot.NewStore(kv, cfg.Snapshots.PriceTTL, cfg.Snapshots.SpreadTTL,
		snapshot.WithTimeout(cfg.Snapshots.Timeout),
		snapshot.WithMetrics(m),
	)

	polyClient := polymarket.NewClient(
		cfg.Polymarket.GammaAPIURL,
		cfg.Polymarket.ClobAPIURL,
		cfg.Polymarket.Timeout,
		polymarket.WithPaging(cfg.Polymarket.PageSize, cfg.Polymarket.MaxConcurrentPages),
		polymarket.WithRetry(cfg.Polymarket.MaxRetries, cfg.Polymarket.RetryDelayBase),
		polymarket.WithExcludedTags(cfg.Polymarket.ExcludedTagIDs, cfg.Polymarket.ExcludedTagSlugs),
		polymarket.WithMetrics(m),
	)

	var spreads refresh.SpreadFetcher
	if cfg.Spread.Enabled {
		spreads = spread.NewLookup(polyClient, cfg.Spread.Concurrency, cfg.Spread.Timeout, m)
	}

	normalizer := normalize.New(normalize.NewCategorizer(categoryRules(cfg), cfg.Categories.Default))

	tiered := cache.NewTiered(cfg.Cache.SufficiencyRatio, m, cacheTiers(cfg)...)
	logger.Info("cache tiers configured", "tiers", tiered.Tiers())

	pipeline := refresh.NewPipeline(polyClient, store, spreads, normalizer, refresh.PipelineConfig{
		TotalLimit:     cfg.Polymarket.TotalLimit,
		MinVolume:      cfg.Polymarket.MinVolume,
		MaxInstruments: cfg.Spread.MaxInstruments,
	})

	opts := refresh.Options{
		MaxDuration:  cfg.Refresh.MaxDuration,
		WriteTimeout: cfg.Refresh.WriteTimeout,
		WaitForWrite: cfg.Refresh.WaitForWrite || *once,
		Metrics:      m,
	}
	if cfg.Telegram.Enabled {
		tg, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("failed to initialize Telegram client", "error", err)
		}
		opts.Notifier = tg
		logger.Info("telegram alerts enabled")
	}
	orchestrator := refresh.NewOrchestrator(pipeline, tiered, opts)

	if *once {
		res, err := orchestrator.Run(ctx)
		out, _ := json.MarshalIndent(res, "", "  ")
		os.Stdout.Write(append(out, '\n'))
		if err != nil {
			exitCode = 1
		}
		return
	}

	// Live builds on the read path skip order book lookups and pull a smaller slice.
	livePipeline := refresh.NewPipeline(polyClient, store, nil, normalizer, refresh.PipelineConfig{
		TotalLimit: cfg.Serving.LiveLimit,
		MinVolume:  cfg.Polymarket.MinVolume,
	})
	svc := serving.New(tiered, livePipeline, serving.Options{
		ServeStale:  cfg.Serving.ServeStale,
		MaxStale:    cfg.Serving.MaxStale,
		LiveTTL:     cfg.Serving.LiveTTL,
		LiveTimeout: cfg.Refresh.MaxDuration,
		LRUSize:     cfg.Serving.LRUSize,
		LRUTTL:      cfg.Serving.LRUTTL,
		Metrics:     m,
	})

	if !cfg.RefreshAuthConfigured() {
		logger.Warn("no refresh secret or trusted header configured, /api/refresh will refuse every call")
	}
	serverOpts := server.Options{
		Auth: server.Auth{
			Secret:             cfg.Refresh.Secret,
			TrustedHeader:      cfg.Refresh.TrustedHeader,
			TrustedHeaderValue: cfg.Refresh.TrustedHeaderValue,
		},
		MetricsPath: cfg.Metrics.Path,
	}
	if m != nil {
		serverOpts.Metrics = m.Handler()
	}
	srv := server.New(cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout,
		server.NewHandler(orchestrator, svc, serverOpts))

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	if cfg.Refresh.Interval > 0 {
		go orchestrator.Schedule(ctx, cfg.Refresh.Interval)
	} else {
		logger.Info("internal schedule disabled, waiting for external refresh calls")
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, cleaning up")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", "error", err)
	}
	if task := orchestrator.LastWrite(); task != nil {
		if _, err := task.Wait(shutdownCtx); err != nil {
			logger.Warn("cache write unfinished at shutdown", "error", err)
		}
	}
	logger.Info("service stopped")
}

func categoryRules(cfg *config.Config) []normalize.Rule {
	if len(cfg.Categories.Rules) == 0 {
		return normalize.DefaultRules
	}
	rules := make([]normalize.Rule, 0, len(cfg.Categories.Rules))
	for _, r := range cfg.Categories.Rules {
		rules = append(rules, normalize.Rule{Name: r.Name, Keywords: r.Keywords})
	}
	return rules
}

// cacheTiers returns the tiers in priority order: the edge KV when enabled, then the file.
func cacheTiers(cfg *config.Config) []cache.Tier {
	var tiers []cache.Tier
	if e := cfg.Cache.Edge; e.Enabled {
		client := edgekv.NewClient(e.BaseURL, e.AccountID, e.NamespaceID, e.APIToken, e.Timeout)
		tiers = append(tiers, cache.NewEdgeTier(client, e.KeyPrefix, e.TTL))
	}
	return append(tiers, cache.NewFileTier(cfg.Cache.File.Path, cfg.Cache.File.MaxAge))
}
