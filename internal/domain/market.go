package domain

import "time"

// Market is a tracked binary-outcome prediction market. Rows are created by
// seeding or auto-tracking and afterwards mutated only by the poller. They are
// never deleted; an inactive market keeps its history.
type Market struct {
	ID          string
	ConditionID string
	Question    string
	Slug        string
	TokenIDs    [2]string // yes, no
	// YesPrice and NoPrice are stored independently; their sum is not forced
	// to 1.0.
	YesPrice  float64
	NoPrice   float64
	Volume    float64 // cumulative, as last reported
	Liquidity float64
	Active    bool
	Tracked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarketState is the current state of one market as reported by a market
// data source. Numeric fields stay in their wire form so a malformed value
// fails only the market it belongs to.
type MarketState struct {
	ID          string
	ConditionID string
	Question    string
	Slug        string
	TokenIDs    [2]string
	// Prices holds the outcome prices, yes first. Either entry may be missing
	// or unparseable.
	Prices    []string
	Volume    string
	Liquidity string
	Active    bool
	// BidDepth and AskDepth are USD notional depth near the top of book, or
	// zero when the source does not provide them.
	BidDepth float64
	AskDepth float64
}
