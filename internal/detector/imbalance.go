package detector

import (
	"math"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// OrderbookImbalance flags books where one side's resting notional dwarfs
// the other's.
type OrderbookImbalance struct {
	// Threshold is the larger/smaller depth ratio that must be reached.
	Threshold float64
	// Minimum is the depth the larger side must reach.
	Minimum float64
}

// Detect evaluates USD notional bid and ask depth.
func (o OrderbookImbalance) Detect(bid, ask float64) Result {
	res := Result{Kind: domain.SignalOrderbookImbalance}
	if bid == 0 && ask == 0 {
		res.Detail = domain.ImbalanceDetail{Reason: ReasonNoLiquidity, Threshold: o.Threshold}
		return res
	}

	var (
		ratio      float64
		normalized float64
		unbounded  bool
		direction  = "ask"
	)
	if bid == 0 || ask == 0 {
		unbounded = true
		ratio = math.Inf(1)
		normalized = 1
		if ask == 0 {
			direction = "bid"
		}
	} else {
		ratio = math.Max(bid, ask) / math.Min(bid, ask)
		normalized = (ratio - o.Threshold) / (2 * o.Threshold)
		if bid > ask {
			direction = "bid"
		}
	}

	res.Detected = ratio >= o.Threshold && math.Max(bid, ask) >= o.Minimum
	if res.Detected {
		res.Score = band(normalized, 30, 25)
	}
	res.Detail = domain.ImbalanceDetail{
		BidDepth:  bid,
		AskDepth:  ask,
		Ratio:     ratio,
		Unbounded: unbounded,
		Direction: direction,
		Threshold: o.Threshold,
	}
	return res
}
