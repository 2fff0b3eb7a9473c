package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// PriceService keeps the price cache warm from an upstream feed and serves
// the per-tick price snapshot to the engine.
type PriceService struct {
	feed   domain.PriceFeed
	cache  domain.PriceCache
	bus    domain.SignalBus
	lock   domain.LockManager
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewPriceService creates a PriceService. Cached prices older than maxAge
// are refreshed on demand; zero disables the age check.
func NewPriceService(
	feed domain.PriceFeed,
	cache domain.PriceCache,
	bus domain.SignalBus,
	maxAge time.Duration,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		feed:   feed,
		cache:  cache,
		bus:    bus,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger.With(slog.String("component", "price_service")),
	}
}

// WithClock overrides the clock used for timestamps and staleness checks.
func (s *PriceService) WithClock(now func() time.Time) *PriceService {
	s.now = now
	return s
}

// WithLock makes Run refresh only while holding a shared lock, so bots
// sharing one cache take turns calling the feed.
func (s *PriceService) WithLock(lock domain.LockManager) *PriceService {
	s.lock = lock
	return s
}

// Refresh pulls prices for symbols from the feed, stores them in the cache,
// and publishes a price update event.
func (s *PriceService) Refresh(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	prices, err := s.feed.FetchPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("price_service: fetch: %w", err)
	}

	ts := s.now().UTC()
	for sym, p := range prices {
		if err := s.cache.SetPrice(ctx, sym, p, ts); err != nil {
			return nil, fmt.Errorf("price_service: set price for %q: %w", sym, err)
		}
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "prices_updated",
		"prices":    prices,
		"timestamp": ts.Format(time.RFC3339Nano),
	})
	if pubErr := s.bus.Publish(ctx, domain.ChannelPrices, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "publish price event failed",
			slog.String("error", pubErr.Error()),
		)
	}

	return prices, nil
}

// Run refreshes the prices returned by symbols every interval until ctx is
// cancelled. Failed refreshes are logged and retried on the next tick.
func (s *PriceService) Run(ctx context.Context, interval time.Duration, symbols func() []string) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.refreshLogged(ctx, interval, symbols())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refreshLogged(ctx, interval, symbols())
		}
	}
}

func (s *PriceService) refreshLogged(ctx context.Context, interval time.Duration, symbols []string) {
	if s.lock != nil {
		// The lock is left to expire so one refresh happens per interval.
		if _, err := s.lock.Acquire(ctx, "price_refresh", interval); err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				s.logger.WarnContext(ctx, "price refresh lock failed", slog.String("error", err.Error()))
			}
			return
		}
	}
	prices, err := s.Refresh(ctx, symbols)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WarnContext(ctx, "price refresh failed",
				slog.Int("symbols", len(symbols)),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	s.logger.DebugContext(ctx, "prices refreshed", slog.Int("count", len(prices)))
}

// PriceSnapshot returns the cached prices for symbols, refreshing missing or
// stale entries from the feed first. When the feed fails, whatever fresh
// prices remain are returned; with none left the error is ErrStalePrice if
// stale entries existed, else ErrPriceUnavailable.
func (s *PriceService) PriceSnapshot(ctx context.Context, symbols []string) (domain.PriceSnapshot, error) {
	now := s.now().UTC()

	quotes, err := s.cache.GetPrices(ctx, symbols)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("price_service: get prices: %w", err)
	}

	fresh := make(map[string]decimal.Decimal, len(symbols))
	var missing []string
	stale := 0
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		q, ok := quotes[sym]
		switch {
		case !ok:
			missing = append(missing, sym)
		case s.maxAge > 0 && now.Sub(q.At) > s.maxAge:
			missing = append(missing, sym)
			stale++
		default:
			fresh[sym] = q.Price
		}
	}

	if len(missing) > 0 {
		refreshed, err := s.Refresh(ctx, missing)
		if err != nil {
			if len(fresh) == 0 {
				cause := domain.ErrPriceUnavailable
				if stale > 0 {
					cause = domain.ErrStalePrice
				}
				return domain.PriceSnapshot{}, fmt.Errorf("price_service: snapshot: %w", errors.Join(cause, err))
			}
			s.logger.WarnContext(ctx, "serving partial price snapshot",
				slog.Int("missing", len(missing)),
				slog.String("error", err.Error()),
			)
		}
		for sym, p := range refreshed {
			fresh[strings.ToUpper(sym)] = p
		}
	}

	return domain.PriceSnapshot{Prices: fresh, At: now}, nil
}

var _ domain.PriceSource = (*PriceService)(nil)

// StaticFeed is a PriceFeed that always returns the same prices. It backs
// offline demo runs.
type StaticFeed map[string]decimal.Decimal

// FetchPrices returns the configured prices for symbols it knows.
func (f StaticFeed) FetchPrices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if p, ok := f[sym]; ok {
			out[sym] = p
		}
	}
	if len(out) == 0 && len(symbols) > 0 {
		return nil, domain.ErrPriceUnavailable
	}
	return out, nil
}

var _ domain.PriceFeed = StaticFeed(nil)
