package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SignalKind identifies which detector produced a signal.
type SignalKind string

const (
	SignalVolumeSpike        SignalKind = "volume_spike"
	SignalOrderbookImbalance SignalKind = "orderbook_imbalance"
	SignalPriceDivergence    SignalKind = "price_divergence"
	// SignalCrossMarket is reserved. No detector produces it.
	SignalCrossMarket SignalKind = "cross_market"
)

// Valid reports whether k is one of the known kinds.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalVolumeSpike, SignalOrderbookImbalance, SignalPriceDivergence, SignalCrossMarket:
		return true
	}
	return false
}

// Signal is a persisted detection result.
type Signal struct {
	ID        int64
	MarketID  string
	Kind      SignalKind
	Timestamp time.Time // cycle timestamp of the snapshot that triggered it
	Score     float64   // 0-100
	Detail    SignalDetail
	// PriceAtSignal and VolumeAtSignal are the yes price and period volume of
	// the triggering snapshot.
	PriceAtSignal  float64
	VolumeAtSignal float64
	Acknowledged   bool
	Published      bool
	CreatedAt      time.Time
}

// SignalDetail is the kind-specific payload of a detection result. Each
// detector has exactly one implementation.
type SignalDetail interface {
	Kind() SignalKind
}

// VolumeSpikeDetail explains a volume spike evaluation. Reason is set, and the
// statistics are zero, when there was too little history to evaluate.
type VolumeSpikeDetail struct {
	Reason        string  `json:"reason,omitempty"`
	CurrentVolume float64 `json:"current_volume"`
	MeanVolume    float64 `json:"mean_volume"`
	StdVolume     float64 `json:"std_volume"`
	ZScore        float64 `json:"z_score"`
	Threshold     float64 `json:"threshold"`
	DataPoints    int     `json:"data_points"`
}

func (VolumeSpikeDetail) Kind() SignalKind { return SignalVolumeSpike }

// ImbalanceDetail explains an orderbook imbalance evaluation. When one side of
// the book is empty the ratio is unbounded: Unbounded is true and Ratio is
// +Inf. On the wire the ratio is then the string "infinite".
type ImbalanceDetail struct {
	Reason    string
	BidDepth  float64
	AskDepth  float64
	Ratio     float64
	Unbounded bool
	Direction string // "bid" or "ask"
	Threshold float64
}

func (ImbalanceDetail) Kind() SignalKind { return SignalOrderbookImbalance }

const infiniteRatio = "infinite"

type imbalanceWire struct {
	Reason    string          `json:"reason,omitempty"`
	BidDepth  float64         `json:"bid_depth"`
	AskDepth  float64         `json:"ask_depth"`
	Ratio     json.RawMessage `json:"ratio,omitempty"`
	Direction string          `json:"direction,omitempty"`
	Threshold float64         `json:"threshold"`
}

// MarshalJSON renders an unbounded ratio as "infinite".
func (d ImbalanceDetail) MarshalJSON() ([]byte, error) {
	w := imbalanceWire{
		Reason:    d.Reason,
		BidDepth:  d.BidDepth,
		AskDepth:  d.AskDepth,
		Direction: d.Direction,
		Threshold: d.Threshold,
	}
	if d.Reason == "" {
		if d.Unbounded || math.IsInf(d.Ratio, 1) {
			w.Ratio = json.RawMessage(`"` + infiniteRatio + `"`)
		} else {
			b, err := json.Marshal(d.Ratio)
			if err != nil {
				return nil, err
			}
			w.Ratio = b
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the ratio as a number or as "infinite".
func (d *ImbalanceDetail) UnmarshalJSON(data []byte) error {
	var w imbalanceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = ImbalanceDetail{
		Reason:    w.Reason,
		BidDepth:  w.BidDepth,
		AskDepth:  w.AskDepth,
		Direction: w.Direction,
		Threshold: w.Threshold,
	}
	if len(w.Ratio) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(w.Ratio, &s); err == nil {
		if s != infiniteRatio {
			return fmt.Errorf("imbalance ratio %q: %w", s, ErrInvalidInput)
		}
		d.Ratio = math.Inf(1)
		d.Unbounded = true
		return nil
	}
	return json.Unmarshal(w.Ratio, &d.Ratio)
}

// DivergenceCase names which way price and volume disagree.
type DivergenceCase string

const (
	// PriceWithoutVolume is a large price move on thin volume.
	PriceWithoutVolume DivergenceCase = "price_without_volume"
	// VolumeWithoutPrice is heavy volume with a flat price.
	VolumeWithoutPrice DivergenceCase = "volume_without_price"
)

// DivergenceDetail explains a price/volume divergence evaluation.
type DivergenceDetail struct {
	Reason          string         `json:"reason,omitempty"`
	DivergenceType  DivergenceCase `json:"divergence_type,omitempty"`
	CurrentPrice    float64        `json:"current_price"`
	HistoricalPrice float64        `json:"historical_price"`
	PriceChangePct  float64        `json:"price_change_pct"`
	CurrentVolume   float64        `json:"current_volume"`
	BaselineVolume  float64        `json:"baseline_volume"`
	ExpectedVolume  float64        `json:"expected_volume"`
	Threshold       float64        `json:"threshold"`
}

func (DivergenceDetail) Kind() SignalKind { return SignalPriceDivergence }

// DecodeDetail parses a stored detail payload according to kind.
func DecodeDetail(kind SignalKind, raw []byte) (SignalDetail, error) {
	switch kind {
	case SignalVolumeSpike:
		var d VolumeSpikeDetail
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s detail: %w", kind, err)
		}
		return d, nil
	case SignalOrderbookImbalance:
		var d ImbalanceDetail
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s detail: %w", kind, err)
		}
		return d, nil
	case SignalPriceDivergence:
		var d DivergenceDetail
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s detail: %w", kind, err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("decode detail %q: %w", kind, ErrUnknownKind)
}

// SignalEvent is the JSON form of a signal published on the signal bus and
// pushed to websocket clients.
type SignalEvent struct {
	ID             int64           `json:"id"`
	MarketID       string          `json:"market_id"`
	Question       string          `json:"question,omitempty"`
	Kind           SignalKind      `json:"signal_type"`
	Score          float64         `json:"score"`
	Timestamp      time.Time       `json:"timestamp"`
	PriceAtSignal  float64         `json:"price_at_signal"`
	VolumeAtSignal float64         `json:"volume_at_signal"`
	Detail         json.RawMessage `json:"details"`
	// StreamID is the signal log entry ID, set on live events once the
	// event has been logged. Clients resume from it after a reconnect.
	StreamID string `json:"stream_id,omitempty"`
}

// NewSignalEvent builds the bus representation of s.
func NewSignalEvent(s Signal, question string) (SignalEvent, error) {
	detail, err := json.Marshal(s.Detail)
	if err != nil {
		return SignalEvent{}, fmt.Errorf("encode signal detail: %w", err)
	}
	return SignalEvent{
		ID:             s.ID,
		MarketID:       s.MarketID,
		Question:       question,
		Kind:           s.Kind,
		Score:          s.Score,
		Timestamp:      s.Timestamp,
		PriceAtSignal:  s.PriceAtSignal,
		VolumeAtSignal: s.VolumeAtSignal,
		Detail:         detail,
	}, nil
}
