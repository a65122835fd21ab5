package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// maxPageSize is the largest page the Gamma markets endpoint serves.
const maxPageSize = 100

// GammaClient is the REST client for the Polymarket Gamma API. It implements
// domain.MarketDataSource.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch returns up to limit active, open markets sorted descending by order.
// Requests above the page size are split into sequential pages; any page
// failure fails the whole fetch.
func (g *GammaClient) Fetch(ctx context.Context, limit int, order string) ([]domain.MarketState, error) {
	out := make([]domain.MarketState, 0, limit)
	for offset := 0; offset < limit; offset += maxPageSize {
		size := min(limit-offset, maxPageSize)
		page, err := g.getMarkets(ctx, size, offset, order)
		if err != nil {
			return nil, err
		}
		for i := range page {
			out = append(out, page[i].ToMarketState())
		}
		if len(page) < size {
			break
		}
	}
	return out, nil
}

func (g *GammaClient) getMarkets(ctx context.Context, limit, offset int, order string) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", order)
	params.Set("ascending", "false")

	body, err := doGet(ctx, g.httpClient, g.baseURL+"/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	var page marketsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	return page, nil
}
