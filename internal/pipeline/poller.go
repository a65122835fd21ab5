package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/polygraph/internal/detector"
	"github.com/alanyoungcy/polygraph/internal/domain"
	"github.com/alanyoungcy/polygraph/internal/store"
)

// cycleLockKey guards poll cycles across processes sharing one database.
const cycleLockKey = "poller:cycle"

// Cycle stages, used in logs and metrics.
const (
	StageLock   = "lock"
	StageFetch  = "fetch"
	StageDepth  = "depth"
	StageIngest = "ingest"
	StageDetect = "detect"
)

// errUntracked marks a fetched market that has no row and is not auto-tracked.
var errUntracked = errors.New("market not tracked")

// Notifier delivers operator alerts for high-scoring signals.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Metrics records poll cycle outcomes.
type Metrics interface {
	CycleCompleted(elapsed time.Duration, marketsUpdated int)
	CycleFailed(stage string)
	MarketFailed(stage string)
	SignalRecorded(kind domain.SignalKind, score float64)
}

type nopMetrics struct{}

func (nopMetrics) CycleCompleted(time.Duration, int)         {}
func (nopMetrics) CycleFailed(string)                        {}
func (nopMetrics) MarketFailed(string)                       {}
func (nopMetrics) SignalRecorded(domain.SignalKind, float64) {}

// PollerConfig controls the poll cycle.
type PollerConfig struct {
	Interval   time.Duration
	MaxMarkets int
	Order      string
	// AutoTrack registers fetched markets that have no row yet.
	AutoTrack   bool
	FetchDepth  bool
	DepthLevels int
	// LockTTL bounds how long a crashed holder keeps other pollers out.
	LockTTL        time.Duration
	NotifyMinScore float64
}

// PollerDeps are the collaborators of a Poller. Store, Source and Detector
// are required; the rest are optional.
type PollerDeps struct {
	Store    domain.Store
	Source   domain.MarketDataSource
	Detector *detector.Coordinator
	Depth    domain.DepthSource
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Notifier Notifier
	Metrics  Metrics
}

// Stats are the Poller's running counters.
type Stats struct {
	Running           bool          `json:"running"`
	CyclesCompleted   int64         `json:"cycles_completed"`
	CyclesSkipped     int64         `json:"cycles_skipped"`
	SignalsDetected   int64         `json:"signals_detected"`
	ErrorsEncountered int64         `json:"errors_encountered"`
	FetchFailures     int64         `json:"fetch_failures"`
	MarketsUpdated    int64         `json:"markets_updated"`
	LastCycleAt       time.Time     `json:"last_cycle_at"`
	LastCycleDuration time.Duration `json:"last_cycle_duration_ns"`
}

// CycleResult describes one poll cycle.
type CycleResult struct {
	Timestamp      time.Time
	Skipped        bool
	MarketsFetched int
	MarketsUpdated int
	MarketsFailed  int
	Signals        []domain.Signal
}

// Poller fetches market state, records snapshots, and runs detection, one
// cycle at a time.
type Poller struct {
	cfg      PollerConfig
	store    domain.Store
	source   domain.MarketDataSource
	detector *detector.Coordinator
	depth    domain.DepthSource
	bus      domain.SignalBus
	locks    domain.LockManager
	notifier Notifier
	metrics  Metrics
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewPoller creates a Poller.
func NewPoller(cfg PollerConfig, deps PollerDeps, logger *slog.Logger) *Poller {
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &Poller{
		cfg:      cfg,
		store:    deps.Store,
		source:   deps.Source,
		detector: deps.Detector,
		depth:    deps.Depth,
		bus:      deps.Bus,
		locks:    deps.Locks,
		notifier: deps.Notifier,
		metrics:  m,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "poller")),
	}
}

// Stats returns a copy of the running counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run polls until ctx is cancelled. A cycle that has started always runs to
// completion; cancellation is only observed while sleeping between cycles.
func (p *Poller) Run(ctx context.Context) error {
	p.setRunning(true)
	defer p.setRunning(false)

	p.logger.Info("poller started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("max_markets", p.cfg.MaxMarkets),
		slog.Bool("auto_track", p.cfg.AutoTrack),
		slog.Bool("fetch_depth", p.cfg.FetchDepth),
	)
	defer p.logStats()

	cycleCtx := context.WithoutCancel(ctx)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := p.PollOnce(cycleCtx); err != nil {
			p.logger.Error("poll cycle failed", slog.String("error", err.Error()))
		}
		timer.Reset(p.cfg.Interval)
	}
}

// PollOnce runs a single cycle. Snapshot writes and signal writes are
// committed in two separate transactions; a failure inside one market only
// rolls back that market's savepoint.
func (p *Poller) PollOnce(ctx context.Context) (CycleResult, error) {
	started := time.Now()
	// Stored timestamps have microsecond precision.
	ts := p.now().UTC().Truncate(time.Microsecond)
	res := CycleResult{Timestamp: ts}

	if p.locks != nil {
		unlock, err := p.locks.Acquire(ctx, cycleLockKey, p.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			p.logger.Info("poll cycle skipped, lock held elsewhere")
			p.mu.Lock()
			p.stats.CyclesSkipped++
			p.mu.Unlock()
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			p.failCycle(StageLock, false, 0)
			return res, fmt.Errorf("pipeline: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	states, err := p.source.Fetch(ctx, p.cfg.MaxMarkets, p.cfg.Order)
	if err != nil {
		p.failCycle(StageFetch, true, 0)
		return res, fmt.Errorf("pipeline: fetch markets: %w", err)
	}
	res.MarketsFetched = len(states)

	if p.cfg.FetchDepth && p.depth != nil {
		p.fillDepth(ctx, states)
	}

	updated, failed, err := p.ingest(ctx, states, ts)
	res.MarketsFailed = failed
	if err != nil {
		p.failCycle(StageIngest, false, res.MarketsFailed)
		return res, fmt.Errorf("pipeline: commit snapshots: %w", err)
	}
	res.MarketsUpdated = updated

	signals, questions, detectFailed, err := p.detect(ctx, ts)
	res.MarketsFailed += detectFailed
	if err != nil {
		p.failCycle(StageDetect, false, res.MarketsFailed)
		return res, fmt.Errorf("pipeline: commit signals: %w", err)
	}
	res.Signals = signals

	elapsed := time.Since(started)
	p.mu.Lock()
	p.stats.CyclesCompleted++
	p.stats.SignalsDetected += int64(len(signals))
	p.stats.ErrorsEncountered += int64(res.MarketsFailed)
	p.stats.MarketsUpdated += int64(updated)
	p.stats.LastCycleAt = ts
	p.stats.LastCycleDuration = elapsed
	p.mu.Unlock()

	p.metrics.CycleCompleted(elapsed, updated)
	p.fanOut(ctx, signals, questions)

	p.logger.Info("poll cycle complete",
		slog.Int("fetched", res.MarketsFetched),
		slog.Int("updated", updated),
		slog.Int("failed", res.MarketsFailed),
		slog.Int("signals", len(signals)),
		slog.Duration("elapsed", elapsed),
	)
	return res, nil
}

// fillDepth annotates states with CLOB depth for their yes token. A failed
// lookup leaves the market without depth.
func (p *Poller) fillDepth(ctx context.Context, states []domain.MarketState) {
	for i := range states {
		st := &states[i]
		if st.TokenIDs[0] == "" || !st.Active {
			continue
		}
		bid, ask, err := p.depth.Depth(ctx, st.TokenIDs[0], p.cfg.DepthLevels)
		if err != nil {
			p.metrics.MarketFailed(StageDepth)
			p.logger.Warn("orderbook depth unavailable",
				slog.String("market_id", st.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		st.BidDepth, st.AskDepth = bid, ask
	}
}

// ingest writes one snapshot per known market in a single transaction.
func (p *Poller) ingest(ctx context.Context, states []domain.MarketState, ts time.Time) (updated, failed int, err error) {
	err = store.InTx(ctx, p.store, func(tx domain.Tx) error {
		for _, st := range states {
			err := store.InTx(ctx, tx, func(sp domain.Tx) error {
				return p.ingestMarket(ctx, sp, st, ts)
			})
			switch {
			case err == nil:
				updated++
			case errors.Is(err, errUntracked):
			default:
				failed++
				p.metrics.MarketFailed(StageIngest)
				p.logger.Warn("market update failed",
					slog.String("market_id", st.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	})
	if err != nil {
		return 0, failed, err
	}
	return updated, failed, nil
}

func (p *Poller) ingestMarket(ctx context.Context, tx domain.Tx, st domain.MarketState, ts time.Time) error {
	m, err := tx.GetMarket(ctx, st.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if !p.cfg.AutoTrack || !st.Active {
			return errUntracked
		}
		m = marketFromState(st)
		if err := tx.UpsertMarket(ctx, m); err != nil {
			return fmt.Errorf("register market: %w", err)
		}
		p.logger.Info("market auto-tracked", slog.String("market_id", st.ID))
	case err != nil:
		return fmt.Errorf("load market: %w", err)
	}

	yes := parsePrice(st.Prices, 0, m.YesPrice)
	no := parsePrice(st.Prices, 1, m.NoPrice)
	volume, err := parseAmount(st.Volume)
	if err != nil {
		return fmt.Errorf("volume: %w", err)
	}
	liquidity, err := parseAmount(st.Liquidity)
	if err != nil {
		return fmt.Errorf("liquidity: %w", err)
	}

	snap := domain.PriceSnapshot{
		MarketID:         m.ID,
		Timestamp:        ts,
		YesPrice:         yes,
		NoPrice:          no,
		CumulativeVolume: volume,
		BidDepth:         st.BidDepth,
		AskDepth:         st.AskDepth,
	}
	last, err := tx.LatestSnapshot(ctx, m.ID)
	switch {
	case err == nil:
		snap.Volume = max(0, volume-last.CumulativeVolume)
		snap.CumulativeVolume = max(volume, last.CumulativeVolume)
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("load last snapshot: %w", err)
	}
	if _, err := tx.InsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	m.YesPrice, m.NoPrice = yes, no
	m.Volume = snap.CumulativeVolume
	m.Liquidity = liquidity
	m.Active = st.Active
	m.UpdatedAt = ts
	if err := tx.UpdateMarketState(ctx, m); err != nil {
		return fmt.Errorf("update market: %w", err)
	}
	return nil
}

// detect runs the coordinator over every tracked market that was observed in
// this cycle and commits the resulting signals together.
func (p *Poller) detect(ctx context.Context, ts time.Time) ([]domain.Signal, map[string]string, int, error) {
	var (
		signals   []domain.Signal
		questions = map[string]string{}
		failed    int
	)
	err := store.InTx(ctx, p.store, func(tx domain.Tx) error {
		markets, err := tx.ListTrackedMarkets(ctx)
		if err != nil {
			return fmt.Errorf("list tracked markets: %w", err)
		}
		for _, m := range markets {
			var written []domain.Signal
			err := store.InTx(ctx, tx, func(sp domain.Tx) error {
				snap, err := sp.LatestSnapshot(ctx, m.ID)
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("load latest snapshot: %w", err)
				}
				if snap.Timestamp.Before(ts) {
					return nil
				}
				written, err = p.detector.Detect(ctx, sp, snap)
				return err
			})
			if err != nil {
				failed++
				p.metrics.MarketFailed(StageDetect)
				p.logger.Warn("signal detection failed",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if len(written) > 0 {
				questions[m.ID] = m.Question
				signals = append(signals, written...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, failed, err
	}
	return signals, questions, failed, nil
}

// fanOut publishes committed signals. Failures here are logged only.
func (p *Poller) fanOut(ctx context.Context, signals []domain.Signal, questions map[string]string) {
	for _, s := range signals {
		p.metrics.SignalRecorded(s.Kind, s.Score)

		ev, err := domain.NewSignalEvent(s, questions[s.MarketID])
		if err != nil {
			p.logger.Warn("signal event encode failed", slog.Int64("signal_id", s.ID), slog.String("error", err.Error()))
			continue
		}
		if p.bus != nil {
			p.publish(ctx, ev)
		}
		if p.notifier != nil && s.Score >= p.cfg.NotifyMinScore {
			title, msg := alertText(ev)
			if err := p.notifier.Notify(ctx, string(s.Kind), title, msg); err != nil {
				p.logger.Warn("signal notification failed", slog.Int64("signal_id", s.ID), slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Poller) publish(ctx context.Context, ev domain.SignalEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("signal event marshal failed", slog.Int64("signal_id", ev.ID), slog.String("error", err.Error()))
		return
	}
	// Log first so the live event carries its resume position.
	id, err := p.bus.StreamAppend(ctx, domain.StreamSignals, payload)
	if err != nil {
		p.logger.Warn("signal stream append failed", slog.Int64("signal_id", ev.ID), slog.String("error", err.Error()))
	} else {
		ev.StreamID = id
		if payload, err = json.Marshal(ev); err != nil {
			return
		}
	}
	if err := p.bus.Publish(ctx, domain.ChannelSignals, payload); err != nil {
		p.logger.Warn("signal publish failed", slog.Int64("signal_id", ev.ID), slog.String("error", err.Error()))
	}
}

// failCycle records an aborted cycle. marketsFailed counts the per-market
// failures seen before the abort.
func (p *Poller) failCycle(stage string, fetch bool, marketsFailed int) {
	p.mu.Lock()
	p.stats.ErrorsEncountered += 1 + int64(marketsFailed)
	if fetch {
		p.stats.FetchFailures++
	}
	p.mu.Unlock()
	p.metrics.CycleFailed(stage)
}

func (p *Poller) setRunning(v bool) {
	p.mu.Lock()
	p.stats.Running = v
	p.mu.Unlock()
}

func (p *Poller) logStats() {
	s := p.Stats()
	p.logger.Info("polling session summary",
		slog.Int64("cycles_completed", s.CyclesCompleted),
		slog.Int64("cycles_skipped", s.CyclesSkipped),
		slog.Int64("signals_detected", s.SignalsDetected),
		slog.Int64("errors_encountered", s.ErrorsEncountered),
		slog.Int64("fetch_failures", s.FetchFailures),
	)
}

func marketFromState(st domain.MarketState) domain.Market {
	return domain.Market{
		ID:          st.ID,
		ConditionID: st.ConditionID,
		Question:    st.Question,
		Slug:        st.Slug,
		TokenIDs:    st.TokenIDs,
		Active:      st.Active,
		Tracked:     true,
	}
}

// parsePrice returns prices[i] when present and a finite probability,
// otherwise fallback.
func parsePrice(prices []string, i int, fallback float64) float64 {
	if i >= len(prices) {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(prices[i]), 64)
	if err != nil || !finite(v) || v < 0 || v > 1 {
		return fallback
	}
	return v
}

// parseAmount parses a wire amount. An empty value is zero.
func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(v) {
		return 0, fmt.Errorf("parse %q: %w", s, domain.ErrInvalidInput)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative amount %q: %w", s, domain.ErrInvalidInput)
	}
	return v, nil
}

// finite rejects the NaN and Inf spellings strconv accepts.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func alertText(ev domain.SignalEvent) (title, message string) {
	name := strings.ReplaceAll(string(ev.Kind), "_", " ")
	title = fmt.Sprintf("Polygraph: %s (score %.0f)", name, ev.Score)
	q := ev.Question
	if q == "" {
		q = ev.MarketID
	}
	message = fmt.Sprintf("%s\nprice %.3f, volume %.0f", q, ev.PriceAtSignal, ev.VolumeAtSignal)
	return title, message
}
