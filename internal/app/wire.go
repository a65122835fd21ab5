package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polygraph/internal/blob/s3"
	"github.com/alanyoungcy/polygraph/internal/cache/redis"
	"github.com/alanyoungcy/polygraph/internal/config"
	"github.com/alanyoungcy/polygraph/internal/detector"
	"github.com/alanyoungcy/polygraph/internal/domain"
	"github.com/alanyoungcy/polygraph/internal/metrics"
	"github.com/alanyoungcy/polygraph/internal/notify"
	"github.com/alanyoungcy/polygraph/internal/pipeline"
	"github.com/alanyoungcy/polygraph/internal/platform/polymarket"
	"github.com/alanyoungcy/polygraph/internal/server/handler"
	"github.com/alanyoungcy/polygraph/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional collaborators are nil when their backend is not
// configured.
type Dependencies struct {
	// Persistence
	Store domain.Store
	Feed  domain.SignalFeed
	Audit domain.AuditStore

	// Market data
	Source domain.MarketDataSource
	Depth  domain.DepthSource

	Detector *detector.Coordinator

	// Redis, optional
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Cold storage, optional
	Archiver domain.Archiver

	Notifier pipeline.Notifier
	Metrics  *metrics.Recorder

	// HealthChecks name every backend /api/health probes.
	HealthChecks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics:      metrics.New(),
		HealthChecks: map[string]handler.Check{},
	}

	// --- PostgreSQL (every mode) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	deps.Store = postgres.NewStore(pool)
	deps.Feed = postgres.NewFeedStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

	// --- Polymarket ---
	timeout := cfg.Polymarket.RequestTimeout.Duration
	deps.Source = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, timeout)
	if cfg.Poller.FetchDepth {
		deps.Depth = polymarket.NewClobClient(cfg.Polymarket.ClobHost, timeout)
	}

	deps.Detector = detector.NewCoordinator(detectorConfig(cfg.Detection), logger)

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "redis disabled: no signal fan-out, cycle lock or rate limiting")
	}

	// --- S3 (archival only) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			postgres.NewArchiveStore(pool),
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Audit,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	if n := notify.FromConfig(cfg.Notify, logger); n != nil {
		deps.Notifier = n
	}

	return deps, cleanup, nil
}

func detectorConfig(c config.DetectionConfig) detector.Config {
	return detector.Config{
		VolumeSpike: detector.VolumeSpike{
			Threshold:  c.VolumeSpikeThreshold,
			Minimum:    c.VolumeMinimum,
			MinSamples: c.VolumeMinSamples,
		},
		Imbalance: detector.OrderbookImbalance{
			Threshold: c.ImbalanceThreshold,
			Minimum:   c.ImbalanceMinimum,
		},
		Divergence: detector.PriceDivergence{
			Threshold:      c.PriceChangeThreshold,
			Sensitivity:    c.VolumeSensitivity,
			BaselineVolume: c.BaselineVolume,
		},
		VolumeLookback:     c.VolumeLookback.Duration,
		DivergenceLookback: c.DivergenceLookback.Duration,
		MinPublishScore:    c.MinPublishScore,
	}
}
