package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mevbot/internal/cache/memory"
	"github.com/alanyoungcy/mevbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type countingFeed struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  [][]string
}

func (f *countingFeed) FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbols)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return StaticFeed(f.prices).FetchPrices(ctx, symbols)
}

func TestRefreshStoresAndPublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache := memory.NewPriceCache()
	bus := memory.NewBus(0)
	events, err := bus.Subscribe(ctx, domain.ChannelPrices)
	require.NoError(t, err)

	feed := StaticFeed{"SOL": decimal.NewFromInt(150), "RAY": decimal.RequireFromString("2.5")}
	svc := NewPriceService(feed, cache, bus, time.Minute, testLogger())

	prices, err := svc.Refresh(ctx, []string{"SOL", "RAY", "ORCA"})
	require.NoError(t, err)
	assert.Len(t, prices, 2)

	q, err := cache.GetPrice(ctx, "RAY")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("2.5")))

	select {
	case evt := <-events:
		assert.Contains(t, string(evt), "prices_updated")
	case <-time.After(time.Second):
		t.Fatal("no price event published")
	}
}

func TestPriceSnapshotServesFreshCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	cache := memory.NewPriceCache()
	require.NoError(t, cache.SetPrice(ctx, "SOL", decimal.NewFromInt(151), now.Add(-5*time.Second)))

	feed := &countingFeed{prices: map[string]decimal.Decimal{"SOL": decimal.NewFromInt(999)}}
	svc := NewPriceService(feed, cache, memory.NewBus(0), 30*time.Second, testLogger()).
		WithClock(func() time.Time { return now })

	snap, err := svc.PriceSnapshot(ctx, []string{"sol"})
	require.NoError(t, err)
	p, ok := snap.Price("SOL")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(151)))
	assert.Empty(t, feed.calls)
}

func TestPriceSnapshotRefreshesStaleAndMissing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	cache := memory.NewPriceCache()
	require.NoError(t, cache.SetPrice(ctx, "SOL", decimal.NewFromInt(140), now.Add(-time.Minute)))

	feed := &countingFeed{prices: map[string]decimal.Decimal{
		"SOL": decimal.NewFromInt(150),
		"RAY": decimal.NewFromInt(2),
	}}
	svc := NewPriceService(feed, cache, memory.NewBus(0), 30*time.Second, testLogger()).
		WithClock(func() time.Time { return now })

	snap, err := svc.PriceSnapshot(ctx, []string{"SOL", "RAY"})
	require.NoError(t, err)
	require.Len(t, feed.calls, 1)
	assert.ElementsMatch(t, []string{"SOL", "RAY"}, feed.calls[0])

	p, _ := snap.Price("SOL")
	assert.True(t, p.Equal(decimal.NewFromInt(150)))
}

func TestPriceSnapshotFeedFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	boom := errors.New("upstream down")

	t.Run("stale only", func(t *testing.T) {
		cache := memory.NewPriceCache()
		require.NoError(t, cache.SetPrice(ctx, "SOL", decimal.NewFromInt(140), now.Add(-time.Hour)))
		svc := NewPriceService(&countingFeed{err: boom}, cache, memory.NewBus(0), time.Minute, testLogger()).
			WithClock(func() time.Time { return now })

		_, err := svc.PriceSnapshot(ctx, []string{"SOL"})
		require.ErrorIs(t, err, domain.ErrStalePrice)
		require.ErrorIs(t, err, boom)
	})

	t.Run("nothing cached", func(t *testing.T) {
		svc := NewPriceService(&countingFeed{err: boom}, memory.NewPriceCache(), memory.NewBus(0), time.Minute, testLogger()).
			WithClock(func() time.Time { return now })

		_, err := svc.PriceSnapshot(ctx, []string{"SOL"})
		require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	})

	t.Run("partial", func(t *testing.T) {
		cache := memory.NewPriceCache()
		require.NoError(t, cache.SetPrice(ctx, "SOL", decimal.NewFromInt(150), now))
		svc := NewPriceService(&countingFeed{err: boom}, cache, memory.NewBus(0), time.Minute, testLogger()).
			WithClock(func() time.Time { return now })

		snap, err := svc.PriceSnapshot(ctx, []string{"SOL", "RAY"})
		require.NoError(t, err)
		_, ok := snap.Price("RAY")
		assert.False(t, ok)
		_, ok = snap.Price("SOL")
		assert.True(t, ok)
	})
}

func TestStaticFeedUnknownSymbols(t *testing.T) {
	_, err := StaticFeed{"SOL": decimal.NewFromInt(1)}.FetchPrices(context.Background(), []string{"XYZ"})
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

type fakeLock struct {
	held  bool
	calls int
}

func (l *fakeLock) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.calls++
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.held = true
	return func() { l.held = false }, nil
}

func TestRefreshSkippedWhileLockHeld(t *testing.T) {
	ctx := context.Background()
	feed := &countingFeed{prices: map[string]decimal.Decimal{"SOL": decimal.NewFromInt(150)}}
	lock := &fakeLock{}
	svc := NewPriceService(feed, memory.NewPriceCache(), memory.NewBus(0), time.Minute, testLogger()).WithLock(lock)

	svc.refreshLogged(ctx, 15*time.Second, []string{"SOL"})
	svc.refreshLogged(ctx, 15*time.Second, []string{"SOL"})

	assert.Equal(t, 2, lock.calls)
	assert.Len(t, feed.calls, 1, "second refresh must wait for the lock to expire")
}
