package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Snapshots  SnapshotsConfig  `mapstructure:"snapshots"`
	Spread     SpreadConfig     `mapstructure:"spread"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Refresh    RefreshConfig    `mapstructure:"refresh"`
	Serving    ServingConfig    `mapstructure:"serving"`
	Categories CategoriesConfig `mapstructure:"categories"`
	Server     ServerConfig     `mapstructure:"server"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaAPIURL        string        `mapstructure:"gamma_api_url"`
	ClobAPIURL         string        `mapstructure:"clob_api_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	PageSize           int           `mapstructure:"page_size"`
	MaxConcurrentPages int           `mapstructure:"max_concurrent_pages"`
	TotalLimit         int           `mapstructure:"total_limit"`
	MinVolume          float64       `mapstructure:"min_volume"`
	ExcludedTagIDs     []string      `mapstructure:"excluded_tag_ids"`
	ExcludedTagSlugs   []string      `mapstructure:"excluded_tag_slugs"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelayBase     time.Duration `mapstructure:"retry_delay_base"`
}

// SnapshotsConfig selects and tunes the hour-bucketed snapshot store
type SnapshotsConfig struct {
	Backend    string        `mapstructure:"backend"`
	RedisURL   string        `mapstructure:"redis_url"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	PriceTTL   time.Duration `mapstructure:"price_ttl"`
	SpreadTTL  time.Duration `mapstructure:"spread_ttl"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SpreadConfig holds order book lookup configuration
type SpreadConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxInstruments int           `mapstructure:"max_instruments"`
	Concurrency    int           `mapstructure:"concurrency"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// CacheConfig holds tiered cache configuration
type CacheConfig struct {
	SufficiencyRatio float64         `mapstructure:"sufficiency_ratio"`
	Edge             EdgeCacheConfig `mapstructure:"edge"`
	File             FileCacheConfig `mapstructure:"file"`
}

// EdgeCacheConfig holds the edge key-value tier configuration
type EdgeCacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	AccountID   string        `mapstructure:"account_id"`
	NamespaceID string        `mapstructure:"namespace_id"`
	APIToken    string        `mapstructure:"api_token"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	TTL         time.Duration `mapstructure:"ttl"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// FileCacheConfig holds the local file tier configuration
type FileCacheConfig struct {
	Path   string        `mapstructure:"path"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

// RefreshConfig holds refresh orchestration configuration
type RefreshConfig struct {
	Secret             string        `mapstructure:"secret"`
	TrustedHeader      string        `mapstructure:"trusted_header"`
	TrustedHeaderValue string        `mapstructure:"trusted_header_value"`
	MaxDuration        time.Duration `mapstructure:"max_duration"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	WaitForWrite       bool          `mapstructure:"wait_for_write"`
	Interval           time.Duration `mapstructure:"interval"`
}

// ServingConfig holds read path configuration
type ServingConfig struct {
	ServeStale bool          `mapstructure:"serve_stale"`
	MaxStale   time.Duration `mapstructure:"max_stale"`
	LiveLimit  int           `mapstructure:"live_limit"`
	LiveTTL    time.Duration `mapstructure:"live_ttl"`
	LRUSize    int           `mapstructure:"lru_size"`
	LRUTTL     time.Duration `mapstructure:"lru_ttl"`
}

// CategoryRule maps a category name to the keywords that select it
type CategoryRule struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
}

// CategoriesConfig holds the ordered categorization rules
type CategoriesConfig struct {
	Rules   []CategoryRule `mapstructure:"rules"`
	Default string         `mapstructure:"default"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// POLYPULSE_CACHE_EDGE_API_TOKEN overrides cache.edge.api_token
	v.SetEnvPrefix("POLYPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key is registered so AutomaticEnv can override it even when absent from the file.
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.clob_api_url", "https://clob.polymarket.com")
	v.SetDefault("polymarket.timeout", "15s")
	v.SetDefault("polymarket.page_size", 500)
	v.SetDefault("polymarket.max_concurrent_pages", 4)
	v.SetDefault("polymarket.total_limit", 10000)
	v.SetDefault("polymarket.min_volume", 1000.0)
	v.SetDefault("polymarket.excluded_tag_ids", []string{})
	v.SetDefault("polymarket.excluded_tag_slugs", []string{})
	v.SetDefault("polymarket.max_retries", 2)
	v.SetDefault("polymarket.retry_delay_base", "500ms")

	// Snapshot defaults
	v.SetDefault("snapshots.backend", "sqlite")
	v.SetDefault("snapshots.redis_url", "")
	v.SetDefault("snapshots.sqlite_path", "./data/snapshots.db")
	v.SetDefault("snapshots.price_ttl", "25h")
	v.SetDefault("snapshots.spread_ttl", "2h")
	v.SetDefault("snapshots.timeout", "5s")

	// Spread defaults
	v.SetDefault("spread.enabled", true)
	v.SetDefault("spread.max_instruments", 300)
	v.SetDefault("spread.concurrency", 10)
	v.SetDefault("spread.timeout", "5s")

	// Cache defaults
	v.SetDefault("cache.sufficiency_ratio", 0.75)
	v.SetDefault("cache.edge.enabled", false)
	v.SetDefault("cache.edge.base_url", "https://api.cloudflare.com/client/v4")
	v.SetDefault("cache.edge.account_id", "")
	v.SetDefault("cache.edge.namespace_id", "")
	v.SetDefault("cache.edge.api_token", "")
	v.SetDefault("cache.edge.key_prefix", "markets")
	v.SetDefault("cache.edge.ttl", "5m")
	v.SetDefault("cache.edge.timeout", "5s")
	v.SetDefault("cache.file.path", "./data/markets-cache.json")
	v.SetDefault("cache.file.max_age", "10m")

	// Refresh defaults
	v.SetDefault("refresh.secret", "")
	v.SetDefault("refresh.trusted_header", "")
	v.SetDefault("refresh.trusted_header_value", "")
	v.SetDefault("refresh.max_duration", "50s")
	v.SetDefault("refresh.write_timeout", "20s")
	v.SetDefault("refresh.wait_for_write", true)
	v.SetDefault("refresh.interval", "0s")

	// Serving defaults
	v.SetDefault("serving.serve_stale", true)
	v.SetDefault("serving.max_stale", "1h")
	v.SetDefault("serving.live_limit", 1000)
	v.SetDefault("serving.live_ttl", "1m")
	v.SetDefault("serving.lru_size", 100)
	v.SetDefault("serving.lru_ttl", "5m")

	v.SetDefault("categories.default", "other")

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "70s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "polypulse")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.ClobAPIURL == "" {
		return fmt.Errorf("polymarket.clob_api_url is required")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.PageSize < 1 || c.Polymarket.PageSize > 500 {
		return fmt.Errorf("polymarket.page_size must be between 1 and 500")
	}
	if c.Polymarket.MaxConcurrentPages < 1 {
		return fmt.Errorf("polymarket.max_concurrent_pages must be at least 1")
	}
	if c.Polymarket.TotalLimit < 1 {
		return fmt.Errorf("polymarket.total_limit must be at least 1")
	}
	if c.Polymarket.MinVolume < 0 {
		return fmt.Errorf("polymarket.min_volume must not be negative")
	}
	if c.Polymarket.MaxRetries < 0 {
		return fmt.Errorf("polymarket.max_retries must not be negative")
	}

	// Validate Snapshots config
	switch c.Snapshots.Backend {
	case "redis":
		if c.Snapshots.RedisURL == "" {
			return fmt.Errorf("snapshots.redis_url is required when snapshots.backend is redis")
		}
	case "sqlite":
		if c.Snapshots.SQLitePath == "" {
			return fmt.Errorf("snapshots.sqlite_path is required when snapshots.backend is sqlite")
		}
	case "none":
	default:
		return fmt.Errorf("snapshots.backend must be one of: redis, sqlite, none")
	}
	if c.Snapshots.PriceTTL < 24*time.Hour {
		return fmt.Errorf("snapshots.price_ttl must be at least 24h to serve 24h deltas")
	}
	if c.Snapshots.SpreadTTL < time.Hour {
		return fmt.Errorf("snapshots.spread_ttl must be at least 1h")
	}
	if c.Snapshots.Timeout <= 0 {
		return fmt.Errorf("snapshots.timeout must be positive")
	}

	// Validate Spread config
	if c.Spread.Enabled {
		if c.Spread.MaxInstruments < 1 {
			return fmt.Errorf("spread.max_instruments must be at least 1")
		}
		if c.Spread.Concurrency < 1 {
			return fmt.Errorf("spread.concurrency must be at least 1")
		}
		if c.Spread.Timeout <= 0 {
			return fmt.Errorf("spread.timeout must be positive")
		}
	}

	// Validate Cache config
	if c.Cache.SufficiencyRatio < 0.0 || c.Cache.SufficiencyRatio > 1.0 {
		return fmt.Errorf("cache.sufficiency_ratio must be between 0.0 and 1.0")
	}
	if c.Cache.Edge.Enabled {
		if c.Cache.Edge.BaseURL == "" {
			return fmt.Errorf("cache.edge.base_url is required when the edge tier is enabled")
		}
		if c.Cache.Edge.AccountID == "" || c.Cache.Edge.NamespaceID == "" {
			return fmt.Errorf("cache.edge.account_id and cache.edge.namespace_id are required when the edge tier is enabled")
		}
		if c.Cache.Edge.APIToken == "" {
			return fmt.Errorf("cache.edge.api_token is required when the edge tier is enabled")
		}
		if c.Cache.Edge.TTL < time.Minute {
			return fmt.Errorf("cache.edge.ttl must be at least 1 minute")
		}
	}
	if c.Cache.File.Path == "" {
		return fmt.Errorf("cache.file.path is required")
	}
	if c.Cache.File.MaxAge <= 0 {
		return fmt.Errorf("cache.file.max_age must be positive")
	}

	// Validate Refresh config
	if c.Refresh.MaxDuration <= 0 {
		return fmt.Errorf("refresh.max_duration must be positive")
	}
	if c.Refresh.WriteTimeout <= 0 {
		return fmt.Errorf("refresh.write_timeout must be positive")
	}
	if c.Refresh.Interval != 0 && c.Refresh.Interval < time.Minute {
		return fmt.Errorf("refresh.interval must be 0 or at least 1 minute")
	}

	// Validate Serving config
	if c.Serving.LiveLimit < 1 {
		return fmt.Errorf("serving.live_limit must be at least 1")
	}
	if c.Serving.LRUSize < 1 {
		return fmt.Errorf("serving.lru_size must be at least 1")
	}

	for i, r := range c.Categories.Rules {
		if r.Name == "" {
			return fmt.Errorf("categories.rules[%d].name is required", i)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("categories.rules[%d].keywords must contain at least one keyword", i)
		}
	}
	if c.Categories.Default == "" {
		return fmt.Errorf("categories.default is required")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// RefreshAuthConfigured reports whether any caller can be authorised to trigger a refresh.
func (c *Config) RefreshAuthConfigured() bool {
	return c.Refresh.Secret != "" || c.Refresh.TrustedHeader != ""
}
