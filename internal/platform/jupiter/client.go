// Package jupiter is a client for the Jupiter price API, the upstream feed
// for token prices.
package jupiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// DefaultBaseURL is the public Jupiter API root.
const DefaultBaseURL = "https://api.jup.ag"

// DefaultMints maps the supported token symbols to their SPL mint addresses.
var DefaultMints = map[string]string{
	"SOL":  "So11111111111111111111111111111111111111112",
	"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"USDT": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
	"RAY":  "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R",
	"ORCA": "orcaEKTdK7LKz57vaAYr9QeNsVEPfiu6QeMU1kektZE",
	"SRM":  "SRMuApVNdxXokk5GT7XD5cUUgXMBCoAz2LHeuAoKWRt",
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
	// Mints overrides or extends DefaultMints.
	Mints map[string]string
}

// Client fetches USD prices by mint.
type Client struct {
	http  *resty.Client
	mints map[string]string
}

// NewClient creates a Jupiter price client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	mints := make(map[string]string, len(DefaultMints)+len(cfg.Mints))
	for sym, mint := range DefaultMints {
		mints[sym] = mint
	}
	for sym, mint := range cfg.Mints {
		mints[strings.ToUpper(sym)] = mint
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("x-api-key", cfg.APIKey)
	}

	return &Client{http: client, mints: mints}
}

// priceResponse is the v2 price endpoint envelope.
type priceResponse struct {
	Data map[string]*struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Price string `json:"price"`
	} `json:"data"`
	TimeTaken float64 `json:"timeTaken"`
}

// FetchPrices returns the USD price of each symbol Jupiter knows. Symbols
// without a mint or without a price in the response are omitted.
func (c *Client) FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	bySymbol := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		mint, ok := c.mints[sym]
		if !ok {
			continue
		}
		if _, dup := bySymbol[mint]; dup {
			continue
		}
		bySymbol[mint] = sym
		ids = append(ids, mint)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("jupiter: no known mints for %v: %w", symbols, domain.ErrPriceUnavailable)
	}

	var out priceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		SetResult(&out).
		Get("/price/v2")
	if err != nil {
		return nil, fmt.Errorf("jupiter: get prices: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("jupiter: get prices: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String(), 256))
	}

	prices := make(map[string]decimal.Decimal, len(ids))
	for mint, entry := range out.Data {
		sym, ok := bySymbol[mint]
		if !ok || entry == nil || entry.Price == "" {
			continue
		}
		p, err := decimal.NewFromString(entry.Price)
		if err != nil {
			return nil, fmt.Errorf("jupiter: parse price for %s: %w", sym, err)
		}
		if p.IsPositive() {
			prices[sym] = p
		}
	}
	return prices, nil
}

// Mint returns the mint address configured for symbol.
func (c *Client) Mint(symbol string) (string, bool) {
	m, ok := c.mints[strings.ToUpper(symbol)]
	return m, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ domain.PriceFeed = (*Client)(nil)
