package detector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// memHistory is an in-memory HistoryWriter over one or more markets.
type memHistory struct {
	snaps   []domain.PriceSnapshot
	signals []domain.Signal
	failAt  error
}

func (m *memHistory) SnapshotsBetween(_ context.Context, marketID string, from, to time.Time) ([]domain.PriceSnapshot, error) {
	if m.failAt != nil {
		return nil, m.failAt
	}
	var out []domain.PriceSnapshot
	for _, s := range m.snaps {
		if s.MarketID == marketID && !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memHistory) SnapshotAtOrBefore(_ context.Context, marketID string, at time.Time) (domain.PriceSnapshot, error) {
	var best *domain.PriceSnapshot
	for i := range m.snaps {
		s := &m.snaps[i]
		if s.MarketID != marketID || s.Timestamp.After(at) {
			continue
		}
		if best == nil || s.Timestamp.After(best.Timestamp) {
			best = s
		}
	}
	if best == nil {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}
	return *best, nil
}

func (m *memHistory) InsertSignal(_ context.Context, s domain.Signal) (int64, error) {
	m.signals = append(m.signals, s)
	return int64(len(m.signals)), nil
}

func testConfig() Config {
	return Config{
		VolumeSpike:        defaultVolumeSpike(),
		Imbalance:          defaultImbalance(),
		Divergence:         defaultDivergence(),
		VolumeLookback:     24 * time.Hour,
		DivergenceLookback: time.Hour,
		MinPublishScore:    30,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// spikeHistory builds ten snapshots, one every 10 minutes, ending 10 minutes
// before t0. The oldest is more than an hour old, so callers pick a current
// price 4% away from 0.5 to keep the divergence detector quiet.
func spikeHistory(marketID string) []domain.PriceSnapshot {
	vols := []float64{1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 9000}
	out := make([]domain.PriceSnapshot, len(vols))
	for i, v := range vols {
		out[i] = domain.PriceSnapshot{
			MarketID:  marketID,
			Timestamp: t0.Add(-time.Duration(len(vols)-i) * 10 * time.Minute),
			YesPrice:  0.5,
			NoPrice:   0.5,
			Volume:    v,
		}
	}
	return out
}

func TestAnalyzeExcludesCurrentSnapshot(t *testing.T) {
	h := &memHistory{snaps: spikeHistory("m1")}
	current := domain.PriceSnapshot{MarketID: "m1", Timestamp: t0, YesPrice: 0.52, Volume: 12_000}
	// The current snapshot is already persisted when detection runs.
	h.snaps = append(h.snaps, current)

	c := NewCoordinator(testConfig(), discardLogger())
	results, err := c.Analyze(context.Background(), h, current)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(results) != 1 || results[0].Kind != domain.SignalVolumeSpike {
		t.Fatalf("Analyze() = %+v, want one volume spike", results)
	}
	d := results[0].Detail.(domain.VolumeSpikeDetail)
	if d.DataPoints != 10 {
		t.Errorf("DataPoints = %d, want 10 (current excluded)", d.DataPoints)
	}
	if !approx(results[0].Score, 44) {
		t.Errorf("Score = %v, want 44", results[0].Score)
	}
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	h := &memHistory{snaps: spikeHistory("m1")}
	current := domain.PriceSnapshot{
		MarketID: "m1", Timestamp: t0, YesPrice: 0.52, Volume: 12_000,
		BidDepth: 6000, AskDepth: 1000,
	}
	c := NewCoordinator(testConfig(), discardLogger())

	first, err := c.Analyze(context.Background(), h, current)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Analyze(context.Background(), h, current)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Analyze() not idempotent:\n first  %+v\n second %+v", first, second)
	}
	if len(h.signals) != 0 {
		t.Errorf("Analyze() wrote %d signals, want none", len(h.signals))
	}
}

func TestAnalyzeSkipsImbalanceWithoutDepth(t *testing.T) {
	h := &memHistory{}
	current := domain.PriceSnapshot{MarketID: "m1", Timestamp: t0, YesPrice: 0.5}
	results, err := NewCoordinator(testConfig(), discardLogger()).Analyze(context.Background(), h, current)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("Analyze() = %+v, want no results", results)
	}
}

func TestAnalyzeDivergenceUsesLookback(t *testing.T) {
	h := &memHistory{snaps: []domain.PriceSnapshot{
		{MarketID: "m1", Timestamp: t0.Add(-90 * time.Minute), YesPrice: 0.50, Volume: 2000},
		// Inside the last hour, so not eligible as the divergence reference.
		{MarketID: "m1", Timestamp: t0.Add(-30 * time.Minute), YesPrice: 0.60, Volume: 2000},
	}}
	current := domain.PriceSnapshot{MarketID: "m1", Timestamp: t0, YesPrice: 0.60, Volume: 500}

	results, err := NewCoordinator(testConfig(), discardLogger()).Analyze(context.Background(), h, current)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Kind != domain.SignalPriceDivergence {
		t.Fatalf("Analyze() = %+v, want one divergence", results)
	}
	if results[0].Score != 60 {
		t.Errorf("Score = %v, want 60", results[0].Score)
	}
}

func TestDetectPersistsAtOrAboveGate(t *testing.T) {
	h := &memHistory{snaps: spikeHistory("m1")}
	current := domain.PriceSnapshot{
		MarketID: "m1", Timestamp: t0, YesPrice: 0.52, Volume: 12_000,
		BidDepth: 6000, AskDepth: 1000,
	}
	cfg := testConfig()
	cfg.MinPublishScore = 42
	c := NewCoordinator(cfg, discardLogger())

	written, err := c.Detect(context.Background(), h, current)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	// Volume spike scores 44 and passes; imbalance scores 40 and is dropped.
	if len(written) != 1 {
		t.Fatalf("Detect() wrote %d signals, want 1: %+v", len(written), written)
	}
	s := written[0]
	if s.Kind != domain.SignalVolumeSpike || s.ID != 1 {
		t.Errorf("signal = %+v, want volume spike with id 1", s)
	}
	if !s.Timestamp.Equal(t0) || s.PriceAtSignal != 0.52 || s.VolumeAtSignal != 12_000 {
		t.Errorf("signal stamp = %v price %v volume %v", s.Timestamp, s.PriceAtSignal, s.VolumeAtSignal)
	}
}

func TestDetectOneSignalPerKind(t *testing.T) {
	h := &memHistory{snaps: spikeHistory("m1")}
	current := domain.PriceSnapshot{
		MarketID: "m1", Timestamp: t0, YesPrice: 0.52, Volume: 12_000,
		BidDepth: 6000, AskDepth: 1000,
	}
	written, err := NewCoordinator(testConfig(), discardLogger()).Detect(context.Background(), h, current)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[domain.SignalKind]int{}
	for _, s := range written {
		seen[s.Kind]++
	}
	for kind, n := range seen {
		if n > 1 {
			t.Errorf("%s written %d times", kind, n)
		}
	}
	if seen[domain.SignalVolumeSpike] != 1 || seen[domain.SignalOrderbookImbalance] != 1 {
		t.Errorf("kinds written = %v, want volume spike and imbalance", seen)
	}
}

func TestAnalyzePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("boom")
	h := &memHistory{failAt: boom}
	_, err := NewCoordinator(testConfig(), discardLogger()).Analyze(context.Background(), h, domain.PriceSnapshot{MarketID: "m1", Timestamp: t0})
	if !errors.Is(err, boom) {
		t.Errorf("Analyze() error = %v, want wrapping boom", err)
	}
}
