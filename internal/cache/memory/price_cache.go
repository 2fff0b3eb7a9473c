// Package memory holds in-process implementations of the cache ports, used
// when Redis is disabled and in tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// PriceCache is a map-backed domain.PriceCache.
type PriceCache struct {
	mu     sync.RWMutex
	quotes map[string]domain.PriceQuote
}

func NewPriceCache() *PriceCache {
	return &PriceCache{quotes: make(map[string]domain.PriceQuote)}
}

func (c *PriceCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	sym := strings.ToUpper(symbol)
	c.mu.Lock()
	c.quotes[sym] = domain.PriceQuote{Symbol: sym, Price: price, At: ts}
	c.mu.Unlock()
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, symbol string) (domain.PriceQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[strings.ToUpper(symbol)]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return q, nil
}

func (c *PriceCache) GetPrices(_ context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.PriceQuote, len(symbols))
	for _, s := range symbols {
		sym := strings.ToUpper(s)
		if q, ok := c.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
