// Package solana is a minimal JSON-RPC client for the Solana cluster. It is
// used to estimate network congestion and read the current slot.
package solana

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// DefaultRPCURL is the public mainnet-beta endpoint.
const DefaultRPCURL = "https://api.mainnet-beta.solana.com"

// Config configures a Client.
type Config struct {
	RPCURL  string
	Timeout time.Duration
	// Samples is how many performance samples to average.
	Samples int
	// MediumTPS and HighTPS are the throughput thresholds at which the
	// cluster is considered MEDIUM and HIGH congested.
	MediumTPS float64
	HighTPS   float64
}

// Client talks JSON-RPC 2.0 to a Solana node.
type Client struct {
	http   *resty.Client
	cfg    Config
	nextID atomic.Int64
}

// NewClient creates a Solana RPC client.
func NewClient(cfg Config) *Client {
	if cfg.RPCURL == "" {
		cfg.RPCURL = DefaultRPCURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Samples <= 0 {
		cfg.Samples = 5
	}
	if cfg.MediumTPS <= 0 {
		cfg.MediumTPS = 1500
	}
	if cfg.HighTPS <= 0 {
		cfg.HighTPS = 3000
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(cfg.RPCURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		cfg: cfg,
	}
}

// rpcRequest is the JSON-RPC request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is the JSON-RPC response envelope.
type rpcResponse[T any] struct {
	Result T `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// PerformanceSample is one entry of getRecentPerformanceSamples.
type PerformanceSample struct {
	Slot             uint64 `json:"slot"`
	NumTransactions  uint64 `json:"numTransactions"`
	NumSlots         uint64 `json:"numSlots"`
	SamplePeriodSecs uint64 `json:"samplePeriodSecs"`
}

func call[T any](ctx context.Context, c *Client, method string, params ...any) (T, error) {
	var out rpcResponse[T]
	var zero T

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}).
		SetResult(&out).
		Post("")
	if err != nil {
		return zero, fmt.Errorf("solana: %s: %w", method, err)
	}
	if resp.IsError() {
		return zero, fmt.Errorf("solana: %s: unexpected status %d", method, resp.StatusCode())
	}
	if out.Error != nil {
		return zero, fmt.Errorf("solana: %s: rpc error %d: %s", method, out.Error.Code, out.Error.Message)
	}
	return out.Result, nil
}

// RecentPerformance returns the latest performance samples.
func (c *Client) RecentPerformance(ctx context.Context) ([]PerformanceSample, error) {
	return call[[]PerformanceSample](ctx, c, "getRecentPerformanceSamples", c.cfg.Samples)
}

// Slot returns the current slot.
func (c *Client) Slot(ctx context.Context) (uint64, error) {
	return call[uint64](ctx, c, "getSlot")
}

// TPS averages transactions per second over the recent samples.
func (c *Client) TPS(ctx context.Context) (float64, error) {
	samples, err := c.RecentPerformance(ctx)
	if err != nil {
		return 0, err
	}
	var txs, secs uint64
	for _, s := range samples {
		txs += s.NumTransactions
		secs += s.SamplePeriodSecs
	}
	if secs == 0 {
		return 0, fmt.Errorf("solana: no performance samples")
	}
	return float64(txs) / float64(secs), nil
}

// Congestion classifies the current throughput.
func (c *Client) Congestion(ctx context.Context) (domain.CongestionLevel, error) {
	tps, err := c.TPS(ctx)
	if err != nil {
		return "", err
	}
	return Classify(tps, c.cfg.MediumTPS, c.cfg.HighTPS), nil
}

// Classify maps tps onto a congestion level.
func Classify(tps, medium, high float64) domain.CongestionLevel {
	switch {
	case tps > high:
		return domain.CongestionHigh
	case tps > medium:
		return domain.CongestionMedium
	default:
		return domain.CongestionLow
	}
}

// Fixed is a CongestionSource that always reports the same level. It stands
// in for the RPC client when no endpoint is configured.
type Fixed domain.CongestionLevel

func (f Fixed) Congestion(context.Context) (domain.CongestionLevel, error) {
	return domain.CongestionLevel(f), nil
}

var (
	_ domain.CongestionSource = (*Client)(nil)
	_ domain.CongestionSource = Fixed(domain.CongestionLow)
)
