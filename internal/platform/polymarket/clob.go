package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// ClobClient reads public order book data from the Polymarket CLOB API. It
// implements domain.DepthSource.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewClobClient creates a CLOB client for baseURL, e.g.
// "https://clob.polymarket.com".
func NewClobClient(baseURL string, timeout time.Duration) *ClobClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetOrderBook returns the book for tokenID with bids best (highest) first
// and asks best (lowest) first.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (bids, asks []domain.PriceLevel, err error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := doGet(ctx, c.httpClient, c.baseURL+"/book?"+params.Encode())
	if err != nil {
		return nil, nil, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return nil, nil, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}

	bids, asks = levels(book.Bids), levels(book.Asks)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	return bids, asks, nil
}

// Depth returns the USD notional on each side within the best n levels.
func (c *ClobClient) Depth(ctx context.Context, tokenID string, n int) (bid, ask float64, err error) {
	if tokenID == "" {
		return 0, 0, fmt.Errorf("polymarket/clob: depth: empty token id: %w", domain.ErrInvalidInput)
	}
	bids, asks, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, 0, err
	}
	return domain.Notional(bids, n), domain.Notional(asks, n), nil
}
