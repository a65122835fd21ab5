package domain

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestImbalanceDetailInfiniteRatio(t *testing.T) {
	d := ImbalanceDetail{BidDepth: 8000, AskDepth: 0, Ratio: math.Inf(1), Unbounded: true, Direction: "bid", Threshold: 3}

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(b), `"ratio":"infinite"`) {
		t.Errorf("Marshal() = %s, want ratio \"infinite\"", b)
	}

	got, err := DecodeDetail(SignalOrderbookImbalance, b)
	if err != nil {
		t.Fatalf("DecodeDetail() error = %v", err)
	}
	back := got.(ImbalanceDetail)
	if !back.Unbounded || !math.IsInf(back.Ratio, 1) {
		t.Errorf("decoded ratio = %v unbounded=%v, want +Inf unbounded", back.Ratio, back.Unbounded)
	}
	if back.Direction != "bid" {
		t.Errorf("Direction = %q, want bid", back.Direction)
	}
}

func TestImbalanceDetailFiniteRatio(t *testing.T) {
	b, err := json.Marshal(ImbalanceDetail{BidDepth: 12000, AskDepth: 3000, Ratio: 4, Direction: "bid", Threshold: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"ratio":4`) {
		t.Errorf("Marshal() = %s, want numeric ratio", b)
	}
}

func TestImbalanceDetailNoLiquidityOmitsRatio(t *testing.T) {
	b, err := json.Marshal(ImbalanceDetail{Reason: "no_liquidity"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "ratio") {
		t.Errorf("Marshal() = %s, want no ratio key", b)
	}
}

func TestImbalanceDetailRejectsUnknownRatioString(t *testing.T) {
	_, err := DecodeDetail(SignalOrderbookImbalance, []byte(`{"ratio":"huge"}`))
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("DecodeDetail() error = %v, want ErrInvalidInput", err)
	}
}

func TestDecodeDetailUnknownKind(t *testing.T) {
	_, err := DecodeDetail(SignalCrossMarket, []byte(`{}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("DecodeDetail(cross_market) error = %v, want ErrUnknownKind", err)
	}
}

func TestNewSignalEvent(t *testing.T) {
	s := Signal{
		ID:       7,
		MarketID: "m1",
		Kind:     SignalPriceDivergence,
		Score:    60,
		Detail:   DivergenceDetail{DivergenceType: PriceWithoutVolume, PriceChangePct: 0.2},
	}
	ev, err := NewSignalEvent(s, "Will it rain?")
	if err != nil {
		t.Fatalf("NewSignalEvent() error = %v", err)
	}
	if !strings.Contains(string(ev.Detail), `"divergence_type":"price_without_volume"`) {
		t.Errorf("Detail = %s, want divergence_type", ev.Detail)
	}
	if ev.Question != "Will it rain?" || ev.ID != 7 {
		t.Errorf("event = %+v", ev)
	}
}

func TestNotional(t *testing.T) {
	levels := []PriceLevel{{Price: 0.5, Size: 100}, {Price: 0.25, Size: 200}, {Price: 0.125, Size: 1000}}
	if got := Notional(levels, 2); got != 100 {
		t.Errorf("Notional(2) = %v, want 100", got)
	}
	if got := Notional(levels, 10); got != 225 {
		t.Errorf("Notional(10) = %v, want 225", got)
	}
	if got := Notional(nil, 10); got != 0 {
		t.Errorf("Notional(nil) = %v, want 0", got)
	}
}
