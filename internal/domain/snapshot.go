package domain

import "time"

// PriceSnapshot is an immutable point-in-time observation of a market. One is
// written per market per poll cycle.
type PriceSnapshot struct {
	ID        int64
	MarketID  string
	Timestamp time.Time
	YesPrice  float64
	NoPrice   float64
	// Volume is the traded volume since the previous snapshot, never negative.
	Volume float64
	// CumulativeVolume never decreases across a market's snapshots.
	CumulativeVolume float64
	BidDepth         float64
	AskDepth         float64
}
