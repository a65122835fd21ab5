package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
	"github.com/alanyoungcy/polygraph/internal/store/memstore"
)

func TestSeedRegistersActiveMarkets(t *testing.T) {
	st := memstore.New()
	src := &fakeSource{states: []domain.MarketState{
		{ID: "a", Question: "A?", Prices: []string{"0.3", "0.7"}, Volume: "5000", Liquidity: "100", Active: true},
		{ID: "b", Question: "B?", Prices: []string{"0.9", "0.1"}, Volume: "900", Active: true},
		{ID: "c", Question: "Closed", Volume: "1", Active: false},
	}}
	s := NewSeeder(st, src, "volume", discardLogger())
	s.now = func() time.Time { return t0 }

	n, err := s.Seed(context.Background(), 3)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Seed() = %d, want 2", n)
	}
	ms := st.Markets()
	if len(ms) != 2 || !ms[0].Tracked || ms[0].YesPrice != 0.3 || ms[0].Volume != 5000 {
		t.Fatalf("markets = %+v", ms)
	}
	snaps := st.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].Volume != 0 || snaps[0].CumulativeVolume != 5000 || !snaps[0].Timestamp.Equal(t0) {
		t.Errorf("initial snapshot = %+v", snaps[0])
	}

	// Seeding again refreshes metadata without adding baselines.
	s.now = func() time.Time { return t0.Add(time.Hour) }
	if _, err := s.Seed(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if got := len(st.Snapshots()); got != 2 {
		t.Errorf("snapshots after reseed = %d, want 2", got)
	}
}

func TestSeedFetchFailure(t *testing.T) {
	st := memstore.New()
	src := &fakeSource{err: context.DeadlineExceeded}
	if _, err := NewSeeder(st, src, "volume", discardLogger()).Seed(context.Background(), 5); err == nil {
		t.Fatal("Seed() error = nil, want fetch failure")
	}
	if len(st.Markets()) != 0 {
		t.Error("markets written after failed fetch")
	}
}
