// Package pipeline runs the background work of polygraph: the poll cycle
// that snapshots markets and detects signals, market seeding, and the cron
// driven cold-storage archiver.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the poller and, when configured, the archiver cron side
// by side.
type Orchestrator struct {
	poller      *Poller
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archiver may be nil to disable
// archival.
func NewOrchestrator(poller *Poller, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		poller:      poller,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
}

// Poller returns the poller the orchestrator drives.
func (o *Orchestrator) Poller() *Poller {
	return o.poller
}

// Run starts every sub-pipeline in an errgroup. A sub-pipeline that stops
// for any reason other than ctx cancellation cancels the others, and Run
// returns its error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("archiver", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.poller.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("poller: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
