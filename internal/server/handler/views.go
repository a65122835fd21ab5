package handler

import (
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// The domain types carry no JSON tags; these views fix the wire shape of the
// API independently of storage.

type marketView struct {
	ID          string    `json:"id"`
	ConditionID string    `json:"condition_id,omitempty"`
	Question    string    `json:"question"`
	Slug        string    `json:"slug,omitempty"`
	YesPrice    float64   `json:"yes_price"`
	NoPrice     float64   `json:"no_price"`
	Volume      float64   `json:"volume"`
	Liquidity   float64   `json:"liquidity"`
	Active      bool      `json:"is_active"`
	Tracked     bool      `json:"is_tracked"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newMarketView(m domain.Market) marketView {
	return marketView{
		ID:          m.ID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Slug:        m.Slug,
		YesPrice:    m.YesPrice,
		NoPrice:     m.NoPrice,
		Volume:      m.Volume,
		Liquidity:   m.Liquidity,
		Active:      m.Active,
		Tracked:     m.Tracked,
		UpdatedAt:   m.UpdatedAt,
	}
}

type marketSummaryView struct {
	marketView
	RecentSignals int        `json:"recent_signals"`
	LastSignalAt  *time.Time `json:"last_signal_at"`
}

func newMarketSummaryView(s domain.MarketSummary) marketSummaryView {
	return marketSummaryView{
		marketView:    newMarketView(s.Market),
		RecentSignals: s.RecentSignals,
		LastSignalAt:  s.LastSignalAt,
	}
}

type snapshotView struct {
	Timestamp        time.Time `json:"timestamp"`
	YesPrice         float64   `json:"yes_price"`
	NoPrice          float64   `json:"no_price"`
	Volume           float64   `json:"volume"`
	CumulativeVolume float64   `json:"cumulative_volume"`
	BidDepth         float64   `json:"bid_depth"`
	AskDepth         float64   `json:"ask_depth"`
}

type signalView struct {
	ID             int64               `json:"id"`
	MarketID       string              `json:"market_id"`
	Kind           domain.SignalKind   `json:"signal_type"`
	Timestamp      time.Time           `json:"timestamp"`
	Score          float64             `json:"score"`
	Detail         domain.SignalDetail `json:"details"`
	PriceAtSignal  float64             `json:"price_at_signal"`
	VolumeAtSignal float64             `json:"volume_at_signal"`
	Acknowledged   bool                `json:"is_acknowledged"`
	Published      bool                `json:"is_published"`
	CreatedAt      time.Time           `json:"created_at"`
}

func newSignalView(s domain.Signal) signalView {
	return signalView{
		ID:             s.ID,
		MarketID:       s.MarketID,
		Kind:           s.Kind,
		Timestamp:      s.Timestamp,
		Score:          s.Score,
		Detail:         s.Detail,
		PriceAtSignal:  s.PriceAtSignal,
		VolumeAtSignal: s.VolumeAtSignal,
		Acknowledged:   s.Acknowledged,
		Published:      s.Published,
		CreatedAt:      s.CreatedAt,
	}
}

func newSignalViews(signals []domain.Signal) []signalView {
	out := make([]signalView, len(signals))
	for i, s := range signals {
		out[i] = newSignalView(s)
	}
	return out
}
