// Package pricing fetches USD prices from CoinGecko and caches them for a fixed TTL.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/ratelimit"
)

// Quote is a price, its 24h percentage change, and the market size figures
type Quote struct {
	PriceUSD     float64 `json:"usd"`
	Change24h    float64 `json:"usd_24h_change"`
	MarketCapUSD float64 `json:"usd_market_cap,omitempty"`
	VolumeUSD    float64 `json:"usd_24h_vol,omitempty"`
}

// Fetcher loads a fresh quote for a price-feed token id
type Fetcher interface {
	FetchPrice(ctx context.Context, tokenID string) (Quote, error)
}

// CoinGeckoClient calls /simple/price
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    ratelimit.Waiter
}

// NewCoinGeckoClient creates a client. limiter may be nil.
func NewCoinGeckoClient(baseURL, apiKey string, timeout time.Duration, limiter ratelimit.Waiter) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// FetchPrice returns the USD quote for tokenID.
// Rate limiting, 5xx responses and transport failures are transient; an unknown id is not.
func (c *CoinGeckoClient) FetchPrice(ctx context.Context, tokenID string) (Quote, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, ratelimit.ProviderCoinGecko); err != nil {
			return Quote{}, err
		}
	}

	q := url.Values{}
	q.Set("ids", tokenID)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_vol", "true")
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, apperrors.NewTransientNetworkError(ratelimit.ProviderCoinGecko, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Quote{}, apperrors.NewTransientNetworkError(ratelimit.ProviderCoinGecko,
			fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("coingecko status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload map[string]Quote
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("decode coingecko response: %w", err)
	}
	quote, ok := payload[tokenID]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko has no price for %s", tokenID)
	}
	return quote, nil
}
