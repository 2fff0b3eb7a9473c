package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest token prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (PriceQuote, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]PriceQuote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelOpportunities = "opportunities"
	ChannelPositions     = "positions"
	ChannelStats         = "stats"
	ChannelPrices        = "prices"
	ChannelStatus        = "status"

	StreamPositions = "stream:positions"
)
