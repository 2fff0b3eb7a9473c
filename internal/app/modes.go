package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/mevbot/internal/engine"
	"github.com/alanyoungcy/mevbot/internal/executor"
	"github.com/alanyoungcy/mevbot/internal/rng"
	"github.com/alanyoungcy/mevbot/internal/server"
	"github.com/alanyoungcy/mevbot/internal/server/handler"
	"github.com/alanyoungcy/mevbot/internal/server/ws"
	"github.com/alanyoungcy/mevbot/internal/service"
	"github.com/alanyoungcy/mevbot/internal/stats"
)

// drainTimeout bounds how long shutdown waits for in-flight positions.
const drainTimeout = 5 * time.Second

// runtime is the trading core shared by every mode.
type runtime struct {
	bot    *engine.Bot
	prices *service.PriceService
	ledger *service.LedgerService
}

// buildRuntime assembles the bot, its price source and the ledger.
func (a *App) buildRuntime(ctx context.Context, deps *Dependencies) (*runtime, error) {
	trading, err := a.cfg.Trading.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("app: trading config: %w", err)
	}

	ledgerCfg := service.LedgerConfig{
		Opportunities:    deps.OpportunityStore,
		Positions:        deps.PositionStore,
		Stats:            deps.StatsStore,
		Audit:            deps.AuditStore,
		Bus:              deps.SignalBus,
		Notifier:         deps.Notifier,
		QueueSize:        a.cfg.Ledger.QueueSize,
		SnapshotInterval: a.cfg.Ledger.SnapshotInterval.Duration,
	}
	if deps.Archiver != nil {
		ledgerCfg.Archiver = deps.Archiver
	}
	ledger := service.NewLedgerService(ledgerCfg, a.logger)

	prices := service.NewPriceService(deps.PriceFeed, deps.PriceCache, deps.SignalBus, a.cfg.Price.MaxAge.Duration, a.logger)
	if deps.LockManager != nil {
		prices.WithLock(deps.LockManager)
	}

	rnd := rng.Default()
	bot, err := engine.New(trading, engine.Deps{
		Prices:     prices,
		Congestion: deps.Congestion,
		Demo:       executor.NewDemoExecutor(rnd),
		Live:       executor.NewLiveExecutor(rnd, deps.Wallet),
		Claims:     deps.Claimer,
		Sink:       ledger,
		Stats:      stats.New(),
		Random:     rnd,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	if a.cfg.Wallet.AutoConnect {
		acct, err := deps.Wallet.Connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: wallet: %w", err)
		}
		if a.cfg.Trading.LiveMode {
			if err := bot.EnableLiveTrading(ctx, acct.Address); err != nil {
				return nil, fmt.Errorf("app: %w", err)
			}
		}
	}

	return &runtime{bot: bot, prices: prices, ledger: ledger}, nil
}

// startBackground runs the ledger, price refresher and archiver. On
// cancellation the bot is stopped first, in-flight positions get drainTimeout
// to finish, then the ledger drains and the archiver flushes last.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	ledgerCtx, stopLedger := context.WithCancel(context.WithoutCancel(ctx))
	archiveCtx, stopArchive := context.WithCancel(context.WithoutCancel(ctx))

	g.Go(func() error {
		defer stopArchive()
		return rt.ledger.Run(ledgerCtx)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(archiveCtx)
		})
	} else {
		stopArchive()
	}

	g.Go(func() error {
		return rt.prices.Run(ctx, a.cfg.Price.RefreshInterval.Duration, func() []string {
			return rt.bot.Config().TargetTokens
		})
	})

	g.Go(func() error {
		<-ctx.Done()
		defer stopLedger()

		rt.bot.Stop()
		waitCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := rt.bot.Wait(waitCtx); err != nil {
			a.logger.Warn("shutdown before every position resolved",
				slog.Int("in_flight", rt.bot.Status().OpenPositions),
			)
		}
		if n := rt.ledger.Dropped(); n > 0 {
			a.logger.Warn("ledger dropped events", slog.Int64("dropped", n))
		}
		return nil
	})
}

// EngineMode scans and trades without the HTTP API.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	rt, err := a.buildRuntime(ctx, deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, rt)
	rt.bot.Start(ctx)

	return ignoreCanceled(g.Wait())
}

// ServerMode serves the HTTP API with the bot idle until started through it.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	rt, err := a.buildRuntime(ctx, deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, rt)
	a.startHTTPServer(ctx, g, deps, rt)

	return ignoreCanceled(g.Wait())
}

// FullMode serves the HTTP API and starts the bot immediately.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	rt, err := a.buildRuntime(ctx, deps)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, rt)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt)
	}
	rt.bot.Start(ctx)

	return ignoreCanceled(g.Wait())
}

// startHTTPServer adds the API server and WebSocket hub to g. The server is
// shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	hub := ws.NewHub(deps.SignalBus, func() any { return rt.bot.Status() }, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Bot:    handler.NewBotHandler(rt.bot, a.logger),
		Wallet: handler.NewWalletHandler(rt.bot, deps.Wallet, a.logger),
	}
	if deps.PositionStore != nil && deps.AuditStore != nil && deps.StatsStore != nil {
		handlers.Ledger = handler.NewLedgerHandler(deps.PositionStore, deps.AuditStore, deps.StatsStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
