package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each token's
// price lives at "price:{SYMBOL}" with fields "price" (decimal string) and
// "ts" (Unix nanoseconds).
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. Entries expire after ttl; zero keeps
// them forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) key(symbol string) string {
	return pc.c.Key("price:" + strings.ToUpper(symbol))
}

// SetPrice stores the latest price and timestamp for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	key := pc.key(symbol)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns domain.ErrNotFound when the token has no cached price.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.key(symbol)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	q, err := parseQuote(symbol, vals)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	return q, nil
}

// GetPrices fetches several tokens in one pipeline. Tokens without a usable
// entry are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	if len(symbols) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[strings.ToUpper(s)] = pipe.HGetAll(ctx, pc.key(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	out := make(map[string]domain.PriceQuote, len(cmds))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		q, err := parseQuote(sym, vals)
		if err != nil {
			continue
		}
		out[sym] = q
	}
	return out, nil
}

func parseQuote(symbol string, vals map[string]string) (domain.PriceQuote, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse ts: %w", err)
	}
	return domain.PriceQuote{
		Symbol: strings.ToUpper(symbol),
		Price:  price,
		At:     time.Unix(0, tsNano).UTC(),
	}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
