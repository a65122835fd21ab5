package domain

import "context"

// MarketDataSource returns the current state of up to limit markets in one
// batched call, sorted by order. Any error fails the whole fetch.
type MarketDataSource interface {
	Fetch(ctx context.Context, limit int, order string) ([]MarketState, error)
}

// DepthSource reports USD notional resting on each side of a token's book
// within the first levels price levels.
type DepthSource interface {
	Depth(ctx context.Context, tokenID string, levels int) (bid, ask float64, err error)
}
