package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polygraph/internal/pipeline"
	"github.com/alanyoungcy/polygraph/internal/server"
	"github.com/alanyoungcy/polygraph/internal/server/handler"
	"github.com/alanyoungcy/polygraph/internal/server/ws"
)

// shutdownTimeout bounds how long in-flight HTTP requests may run after
// cancellation.
const shutdownTimeout = 10 * time.Second

// PollMode runs the poll cycle and, when enabled, the archive cron.
func (a *App) PollMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting poll mode")
	orch, err := a.newOrchestrator(deps)
	if err != nil {
		return fmt.Errorf("poll mode: %w", err)
	}
	return orch.Run(ctx)
}

// SeedMode registers the current top markets as tracked and returns.
func (a *App) SeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting seed mode",
		slog.Int("count", a.cfg.Poller.SeedCount),
	)
	seeder := pipeline.NewSeeder(deps.Store, deps.Source, a.cfg.Poller.Order, a.logger)
	n, err := seeder.Seed(ctx, a.cfg.Poller.SeedCount)
	if err != nil {
		return fmt.Errorf("seed mode: %w", err)
	}
	if deps.Audit != nil {
		if err := deps.Audit.Log(ctx, "markets.seed", map[string]any{"seeded": n}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// ServerMode serves the signal feed API without polling.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode polls and serves the API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	orch, err := a.newOrchestrator(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, orch.Poller())
	return g.Wait()
}

func (a *App) newOrchestrator(deps *Dependencies) (*pipeline.Orchestrator, error) {
	poller := pipeline.NewPoller(pipeline.PollerConfig{
		Interval:       a.cfg.Poller.Interval.Duration,
		MaxMarkets:     a.cfg.Poller.MaxTrackedMarkets,
		Order:          a.cfg.Poller.Order,
		AutoTrack:      a.cfg.Poller.AutoTrack,
		FetchDepth:     a.cfg.Poller.FetchDepth,
		DepthLevels:    a.cfg.Poller.DepthLevels,
		LockTTL:        a.cfg.Redis.LockTTL.Duration,
		NotifyMinScore: a.cfg.Notify.MinScore,
	}, pipeline.PollerDeps{
		Store:    deps.Store,
		Source:   deps.Source,
		Detector: deps.Detector,
		Depth:    deps.Depth,
		Bus:      deps.SignalBus,
		Locks:    deps.LockManager,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
	}, a.logger)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		if err := pipeline.ValidateCron(a.cfg.Archive.Cron); err != nil {
			return nil, err
		}
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}
	return pipeline.NewOrchestrator(poller, archiver, a.cfg.Archive.Cron, a.logger), nil
}

// startHTTPServer adds the API server to g. poller may be nil when this
// process does not poll. The server is shut down gracefully when ctx is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, poller handler.PollerStatus) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, poller, a.startedAt),
		Signals: handler.NewSignalHandler(deps.Feed, a.logger),
		Markets: handler.NewMarketHandler(deps.Feed, a.logger),
		Audit:   handler.NewAuditHandler(deps.Audit, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, server.Options{
		Hub:      hub,
		Limiter:  deps.RateLimiter,
		Observer: deps.Metrics,
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
