package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mevbot/internal/cache/memory"
	"github.com/alanyoungcy/mevbot/internal/config"
	"github.com/alanyoungcy/mevbot/internal/crypto"
	"github.com/alanyoungcy/mevbot/internal/domain"
	"github.com/alanyoungcy/mevbot/internal/executor"
	"github.com/alanyoungcy/mevbot/internal/notify"
	"github.com/alanyoungcy/mevbot/internal/platform/solana"
	"github.com/alanyoungcy/mevbot/internal/server/handler"
	"github.com/alanyoungcy/mevbot/internal/service"
	"github.com/alanyoungcy/mevbot/internal/wallet"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "engine"
	cfg.Trading.ScanInterval.Min.Duration = 5 * time.Millisecond
	cfg.Trading.ScanInterval.Max.Duration = 10 * time.Millisecond
	cfg.Trading.FrontRunDelay.Min.Duration = time.Millisecond
	cfg.Trading.FrontRunDelay.Max.Duration = 2 * time.Millisecond
	cfg.Trading.ResolveDelay.Min.Duration = time.Millisecond
	cfg.Trading.ResolveDelay.Max.Duration = 2 * time.Millisecond
	cfg.Price.RefreshInterval.Duration = time.Hour
	return &cfg
}

func testDeps(key string) *Dependencies {
	logger := testLogger()
	return &Dependencies{
		PriceCache:  memory.NewPriceCache(),
		SignalBus:   memory.NewBus(100),
		RateLimiter: memory.NewRateLimiter(),
		Claimer:     executor.NewDedup(time.Minute),
		PriceFeed: service.StaticFeed{
			"SOL":  decimal.NewFromInt(150),
			"USDC": decimal.NewFromInt(1),
			"USDT": decimal.NewFromInt(1),
			"RAY":  decimal.RequireFromString("2.1"),
			"ORCA": decimal.RequireFromString("3.4"),
			"SRM":  decimal.RequireFromString("0.05"),
		},
		Congestion: solana.Fixed(domain.CongestionLow),
		Wallet:     wallet.NewProvider(wallet.Config{Key: crypto.KeyConfig{RawPrivateKey: key}}, logger),
		Notifier:   notify.NewNotifier(nil, nil, logger),
		Checks:     map[string]handler.Check{},
	}
}

func TestRuntimeScansUntilCancelled(t *testing.T) {
	a := New(testConfig(), testLogger())
	deps := testDeps("")

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := a.buildRuntime(ctx, deps)
	require.NoError(t, err)

	g, gctx := errgroup.WithContext(ctx)
	a.startBackground(gctx, g, deps, rt)
	rt.bot.Start(gctx)

	require.Eventually(t, func() bool {
		return rt.bot.Metrics().Scans >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, ignoreCanceled(g.Wait()))
	assert.False(t, rt.bot.Status().Running)
}

func TestBuildRuntimeLiveModeConnectsWallet(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.LiveMode = true
	cfg.Wallet.AutoConnect = true
	a := New(cfg, testLogger())
	deps := testDeps("0x" + testKey)

	rt, err := a.buildRuntime(context.Background(), deps)
	require.NoError(t, err)

	acct, ok := deps.Wallet.Connected()
	require.True(t, ok)
	assert.True(t, rt.bot.Config().LiveMode)
	assert.Equal(t, acct.Address, rt.bot.Wallet())
}

func TestBuildRuntimeAutoConnectWithoutKey(t *testing.T) {
	cfg := testConfig()
	cfg.Wallet.AutoConnect = true
	a := New(cfg, testLogger())

	_, err := a.buildRuntime(context.Background(), testDeps(""))
	require.ErrorIs(t, err, domain.ErrWalletNotConnected)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "scrape"
	cfg.Price.Provider = "static"
	cfg.Network.Provider = "fixed"
	a := New(cfg, testLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}
