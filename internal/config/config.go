// Package config defines the top-level configuration for polygraph and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYGRAPH_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Poller     PollerConfig     `toml:"poller"`
	Detection  DetectionConfig  `toml:"detection"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost      string   `toml:"gamma_host"`
	ClobHost       string   `toml:"clob_host"`
	RequestTimeout duration `toml:"request_timeout"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: when
// disabled, signals are not fanned out and cycles run without a lock.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PollerConfig controls the poll cycle.
type PollerConfig struct {
	Interval          duration `toml:"interval"`
	MaxTrackedMarkets int      `toml:"max_tracked_markets"`
	// Order is the sort key passed to the market data source ("volume").
	Order string `toml:"order"`
	// AutoTrack registers markets returned by the source that are not yet
	// tracked. When false only seeded markets are polled.
	AutoTrack   bool `toml:"auto_track"`
	FetchDepth  bool `toml:"fetch_depth"`
	DepthLevels int  `toml:"depth_levels"`
	SeedCount   int  `toml:"seed_count"`
}

// DetectionConfig holds detector thresholds and the publish gate.
type DetectionConfig struct {
	VolumeSpikeThreshold float64  `toml:"volume_spike_threshold"`
	VolumeMinimum        float64  `toml:"volume_minimum"`
	VolumeLookback       duration `toml:"volume_lookback"`
	VolumeMinSamples     int      `toml:"volume_min_samples"`

	ImbalanceThreshold float64 `toml:"imbalance_threshold"`
	ImbalanceMinimum   float64 `toml:"imbalance_minimum"`

	PriceChangeThreshold float64  `toml:"price_change_threshold"`
	DivergenceLookback   duration `toml:"divergence_lookback"`
	// VolumeSensitivity scales how much volume a price move is expected to
	// attract when estimating divergence.
	VolumeSensitivity float64 `toml:"volume_sensitivity"`
	BaselineVolume    float64 `toml:"baseline_volume"`

	MinPublishScore float64 `toml:"min_publish_score"`
}

// ArchiveConfig controls cold-storage archival of old snapshots and signals.
// Rows older than RetentionDays are copied to S3 and kept in the database.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required on every route except the health check.
	APIKey string `toml:"api_key"`
	// RateLimit caps API requests per client IP per RateWindow. It needs
	// Redis; zero disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// MinScore is the lowest signal score that triggers a notification.
	MinScore float64 `toml:"min_score"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:      "https://gamma-api.polymarket.com",
			ClobHost:       "https://clob.polymarket.com",
			RequestTimeout: duration{30 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
			LockTTL:      duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polygraph-data",
			ForcePathStyle: true,
		},
		Poller: PollerConfig{
			Interval:          duration{60 * time.Second},
			MaxTrackedMarkets: 50,
			Order:             "volume",
			DepthLevels:       10,
			SeedCount:         20,
		},
		Detection: DetectionConfig{
			VolumeSpikeThreshold: 2.5,
			VolumeMinimum:        10_000,
			VolumeLookback:       duration{24 * time.Hour},
			VolumeMinSamples:     10,
			ImbalanceThreshold:   3.0,
			ImbalanceMinimum:     5_000,
			PriceChangeThreshold: 0.05,
			DivergenceLookback:   duration{time.Hour},
			VolumeSensitivity:    2.0,
			BaselineVolume:       1_000,
			MinPublishScore:      30,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"volume_spike", "orderbook_imbalance", "price_divergence"},
			MinScore: 50,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"poll":   true,
	"seed":   true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: poll, seed, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Poller.FetchDepth && c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty when poller.fetch_depth is set")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		} else if c.Redis.LockTTL.Duration < c.Poller.Interval.Duration {
			errs = append(errs, "redis: lock_ttl must not be shorter than poller.interval")
		}
	}

	// S3 is only needed for archival.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %q", c.Archive.Cron))
		}
	}

	// Poller
	if c.Poller.Interval.Duration <= 0 {
		errs = append(errs, "poller: interval must be > 0")
	}
	if c.Poller.MaxTrackedMarkets < 1 {
		errs = append(errs, "poller: max_tracked_markets must be >= 1")
	}
	if c.Poller.Order == "" {
		errs = append(errs, "poller: order must not be empty")
	}
	if c.Poller.FetchDepth && c.Poller.DepthLevels < 1 {
		errs = append(errs, "poller: depth_levels must be >= 1 when fetch_depth is set")
	}
	if c.Mode == "seed" && c.Poller.SeedCount < 1 {
		errs = append(errs, "poller: seed_count must be >= 1 for mode seed")
	}

	// Detection
	d := c.Detection
	if d.VolumeSpikeThreshold <= 0 {
		errs = append(errs, "detection: volume_spike_threshold must be > 0")
	}
	if d.VolumeMinimum < 0 {
		errs = append(errs, "detection: volume_minimum must be >= 0")
	}
	if d.VolumeLookback.Duration <= 0 {
		errs = append(errs, "detection: volume_lookback must be > 0")
	}
	if d.VolumeMinSamples < 2 {
		errs = append(errs, "detection: volume_min_samples must be >= 2")
	}
	if d.ImbalanceThreshold <= 1 {
		errs = append(errs, "detection: imbalance_threshold must be > 1")
	}
	if d.ImbalanceMinimum < 0 {
		errs = append(errs, "detection: imbalance_minimum must be >= 0")
	}
	if d.PriceChangeThreshold <= 0 {
		errs = append(errs, "detection: price_change_threshold must be > 0")
	}
	if d.DivergenceLookback.Duration <= 0 {
		errs = append(errs, "detection: divergence_lookback must be > 0")
	}
	if d.VolumeSensitivity < 0 {
		errs = append(errs, "detection: volume_sensitivity must be >= 0")
	}
	if d.BaselineVolume <= 0 {
		errs = append(errs, "detection: baseline_volume must be > 0")
	}
	if d.MinPublishScore < 0 || d.MinPublishScore > 100 {
		errs = append(errs, fmt.Sprintf("detection: min_publish_score must be 0-100, got %g", d.MinPublishScore))
	}

	// Server
	if c.Mode == "server" || c.Mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
