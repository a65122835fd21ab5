package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYGRAPH_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus the environment. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYGRAPH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYGRAPH_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "POLYGRAPH_POLYMARKET_CLOB_HOST")
	setDuration(&cfg.Polymarket.RequestTimeout, "POLYGRAPH_POLYMARKET_REQUEST_TIMEOUT")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "POLYGRAPH_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "POLYGRAPH_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "POLYGRAPH_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "POLYGRAPH_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "POLYGRAPH_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "POLYGRAPH_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "POLYGRAPH_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "POLYGRAPH_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "POLYGRAPH_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "POLYGRAPH_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYGRAPH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYGRAPH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYGRAPH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYGRAPH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYGRAPH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYGRAPH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYGRAPH_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "POLYGRAPH_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.LockTTL, "POLYGRAPH_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYGRAPH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYGRAPH_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYGRAPH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYGRAPH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYGRAPH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYGRAPH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYGRAPH_S3_FORCE_PATH_STYLE")

	// ── Poller ──
	setDuration(&cfg.Poller.Interval, "POLYGRAPH_POLLER_INTERVAL")
	setInt(&cfg.Poller.MaxTrackedMarkets, "POLYGRAPH_POLLER_MAX_TRACKED_MARKETS")
	setStr(&cfg.Poller.Order, "POLYGRAPH_POLLER_ORDER")
	setBool(&cfg.Poller.AutoTrack, "POLYGRAPH_POLLER_AUTO_TRACK")
	setBool(&cfg.Poller.FetchDepth, "POLYGRAPH_POLLER_FETCH_DEPTH")
	setInt(&cfg.Poller.DepthLevels, "POLYGRAPH_POLLER_DEPTH_LEVELS")
	setInt(&cfg.Poller.SeedCount, "POLYGRAPH_POLLER_SEED_COUNT")

	// ── Detection ──
	setFloat64(&cfg.Detection.VolumeSpikeThreshold, "POLYGRAPH_DETECTION_VOLUME_SPIKE_THRESHOLD")
	setFloat64(&cfg.Detection.VolumeMinimum, "POLYGRAPH_DETECTION_VOLUME_MINIMUM")
	setDuration(&cfg.Detection.VolumeLookback, "POLYGRAPH_DETECTION_VOLUME_LOOKBACK")
	setInt(&cfg.Detection.VolumeMinSamples, "POLYGRAPH_DETECTION_VOLUME_MIN_SAMPLES")
	setFloat64(&cfg.Detection.ImbalanceThreshold, "POLYGRAPH_DETECTION_IMBALANCE_THRESHOLD")
	setFloat64(&cfg.Detection.ImbalanceMinimum, "POLYGRAPH_DETECTION_IMBALANCE_MINIMUM")
	setFloat64(&cfg.Detection.PriceChangeThreshold, "POLYGRAPH_DETECTION_PRICE_CHANGE_THRESHOLD")
	setDuration(&cfg.Detection.DivergenceLookback, "POLYGRAPH_DETECTION_DIVERGENCE_LOOKBACK")
	setFloat64(&cfg.Detection.VolumeSensitivity, "POLYGRAPH_DETECTION_VOLUME_SENSITIVITY")
	setFloat64(&cfg.Detection.BaselineVolume, "POLYGRAPH_DETECTION_BASELINE_VOLUME")
	setFloat64(&cfg.Detection.MinPublishScore, "POLYGRAPH_DETECTION_MIN_PUBLISH_SCORE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYGRAPH_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYGRAPH_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "POLYGRAPH_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "POLYGRAPH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYGRAPH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYGRAPH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYGRAPH_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYGRAPH_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYGRAPH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYGRAPH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYGRAPH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYGRAPH_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.MinScore, "POLYGRAPH_NOTIFY_MIN_SCORE")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYGRAPH_MODE")
	setStr(&cfg.LogLevel, "POLYGRAPH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
