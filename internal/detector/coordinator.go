package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// Config holds detector thresholds and the publish gate.
type Config struct {
	VolumeSpike        VolumeSpike
	Imbalance          OrderbookImbalance
	Divergence         PriceDivergence
	VolumeLookback     time.Duration
	DivergenceLookback time.Duration
	// MinPublishScore is the lowest score that is persisted as a signal.
	MinPublishScore float64
}

// HistoryReader is the read side of the snapshot repository the coordinator
// needs. domain.Tx satisfies it.
type HistoryReader interface {
	SnapshotsBetween(ctx context.Context, marketID string, from, to time.Time) ([]domain.PriceSnapshot, error)
	SnapshotAtOrBefore(ctx context.Context, marketID string, at time.Time) (domain.PriceSnapshot, error)
}

// HistoryWriter adds signal persistence to HistoryReader.
type HistoryWriter interface {
	HistoryReader
	InsertSignal(ctx context.Context, s domain.Signal) (int64, error)
}

// Coordinator runs every detector for one market snapshot.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// Analyze evaluates snap and returns every detected result, in detector
// order. The snapshot's own timestamp is the reference time, and only
// snapshots strictly older than it are consulted. Analyze has no side
// effects, so repeated calls over unchanged history return equal results.
func (c *Coordinator) Analyze(ctx context.Context, h HistoryReader, snap domain.PriceSnapshot) ([]Result, error) {
	now := snap.Timestamp
	var out []Result

	window, err := h.SnapshotsBetween(ctx, snap.MarketID, now.Add(-c.cfg.VolumeLookback), now)
	if err != nil {
		return nil, fmt.Errorf("detector: volume history for %s: %w", snap.MarketID, err)
	}
	volumes := make([]float64, 0, len(window))
	for _, s := range window {
		volumes = append(volumes, s.Volume)
	}
	if r := c.cfg.VolumeSpike.Detect(snap.Volume, volumes); r.Detected {
		out = append(out, r)
	}

	if snap.BidDepth > 0 || snap.AskDepth > 0 {
		if r := c.cfg.Imbalance.Detect(snap.BidDepth, snap.AskDepth); r.Detected {
			out = append(out, r)
		}
	}

	var hist *domain.PriceSnapshot
	past, err := h.SnapshotAtOrBefore(ctx, snap.MarketID, now.Add(-c.cfg.DivergenceLookback))
	switch {
	case err == nil:
		hist = &past
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("detector: divergence history for %s: %w", snap.MarketID, err)
	}
	if r := c.cfg.Divergence.Detect(snap.YesPrice, snap.Volume, hist); r.Detected {
		out = append(out, r)
	}

	return out, nil
}

// Detect analyzes snap and persists every result scoring at least the
// publish threshold as a signal stamped with the snapshot's timestamp. It
// returns the signals written, with their assigned IDs.
func (c *Coordinator) Detect(ctx context.Context, h HistoryWriter, snap domain.PriceSnapshot) ([]domain.Signal, error) {
	results, err := c.Analyze(ctx, h, snap)
	if err != nil {
		return nil, err
	}

	var written []domain.Signal
	for _, r := range results {
		if r.Score < c.cfg.MinPublishScore {
			c.logger.DebugContext(ctx, "signal below publish score",
				slog.String("market_id", snap.MarketID),
				slog.String("kind", string(r.Kind)),
				slog.Float64("score", r.Score),
			)
			continue
		}
		sig := domain.Signal{
			MarketID:       snap.MarketID,
			Kind:           r.Kind,
			Timestamp:      snap.Timestamp,
			Score:          r.Score,
			Detail:         r.Detail,
			PriceAtSignal:  snap.YesPrice,
			VolumeAtSignal: snap.Volume,
		}
		id, err := h.InsertSignal(ctx, sig)
		if err != nil {
			return nil, fmt.Errorf("detector: insert %s signal for %s: %w", r.Kind, snap.MarketID, err)
		}
		sig.ID = id
		written = append(written, sig)
		c.logger.InfoContext(ctx, "signal detected",
			slog.String("market_id", snap.MarketID),
			slog.String("kind", string(r.Kind)),
			slog.Float64("score", r.Score),
		)
	}
	return written, nil
}
