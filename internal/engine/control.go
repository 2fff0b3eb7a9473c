package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// Config returns the current configuration snapshot. The returned value is a
// copy; mutating it has no effect on the bot.
func (b *Bot) Config() domain.TradingConfig {
	return b.cfg.Load().Clone()
}

// Wallet returns the wallet address used for live trading, or "".
func (b *Bot) Wallet() string {
	return *b.wallet.Load()
}

// UpdateConfig applies patch to the current configuration. An invalid result
// leaves the configuration untouched. Only ticks and positions started after
// the call observe the change.
func (b *Bot) UpdateConfig(ctx context.Context, patch domain.ConfigPatch) (domain.TradingConfig, error) {
	return b.swap(ctx, "config_updated", func(cur domain.TradingConfig) (domain.TradingConfig, error) {
		return cur.Apply(patch), nil
	})
}

// ApplyPreset tunes the configuration with a named strategy preset.
func (b *Bot) ApplyPreset(ctx context.Context, name string) (domain.TradingConfig, error) {
	return b.swap(ctx, "preset_applied", func(cur domain.TradingConfig) (domain.TradingConfig, error) {
		return cur.ApplyPreset(name)
	})
}

// EnableLiveTrading switches new positions to the live executor using the
// given wallet address.
func (b *Bot) EnableLiveTrading(ctx context.Context, address string) error {
	if address == "" {
		return fmt.Errorf("engine: enable live trading: %w", domain.ErrWalletNotConnected)
	}
	b.cfgMu.Lock()
	defer b.cfgMu.Unlock()

	next := b.cfg.Load().Clone()
	next.LiveMode = true
	b.wallet.Store(&address)
	b.cfg.Store(&next)

	b.logger.WarnContext(ctx, "live trading enabled", slog.String("wallet", address))
	b.sink.Audit(ctx, "live_enabled", map[string]any{"wallet": address})
	return nil
}

// DisableLiveTrading returns new positions to demo execution. The wallet
// address is kept so live trading can be re-enabled.
func (b *Bot) DisableLiveTrading(ctx context.Context) {
	b.cfgMu.Lock()
	defer b.cfgMu.Unlock()

	cur := b.cfg.Load()
	if !cur.LiveMode {
		return
	}
	next := cur.Clone()
	next.LiveMode = false
	b.cfg.Store(&next)

	b.logger.InfoContext(ctx, "live trading disabled")
	b.sink.Audit(ctx, "live_disabled", map[string]any{"wallet": b.Wallet()})
}

// DisconnectWallet forgets the wallet and disables live trading.
func (b *Bot) DisconnectWallet(ctx context.Context) {
	b.DisableLiveTrading(ctx)
	empty := ""
	b.wallet.Store(&empty)
}

func (b *Bot) swap(ctx context.Context, event string, fn func(domain.TradingConfig) (domain.TradingConfig, error)) (domain.TradingConfig, error) {
	b.cfgMu.Lock()
	defer b.cfgMu.Unlock()

	next, err := fn(b.cfg.Load().Clone())
	if err != nil {
		return b.Config(), fmt.Errorf("engine: %s: %w", event, err)
	}
	if err := next.Validate(); err != nil {
		return b.Config(), fmt.Errorf("engine: %s: %w", event, err)
	}
	b.cfg.Store(&next)

	b.logger.InfoContext(ctx, "configuration changed",
		slog.String("event", event),
		slog.String("preset", next.Preset),
	)
	b.sink.Audit(ctx, event, map[string]any{"preset": next.Preset})
	return next.Clone(), nil
}

// Opportunities returns up to limit recent opportunities, newest first.
// limit <= 0 returns the whole window.
func (b *Bot) Opportunities(limit int) []domain.Opportunity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.opps)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Opportunity, n)
	copy(out, b.opps[:n])
	return out
}

// Positions returns up to limit recent positions, newest first.
func (b *Bot) Positions(limit int) []domain.Position {
	return b.machine.Book().Recent(limit)
}

// Position looks up a retained position.
func (b *Bot) Position(id string) (domain.Position, error) {
	p, ok := b.machine.Book().Get(id)
	if !ok {
		return domain.Position{}, fmt.Errorf("engine: position %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// Stats returns the current statistics snapshot.
func (b *Bot) Stats() domain.Stats {
	return b.stats.Snapshot()
}

// Metrics returns the scanner metrics.
func (b *Bot) Metrics() domain.ScanMetrics {
	b.mu.RLock()
	m := b.metrics
	b.mu.RUnlock()
	m.OpenPositions = b.machine.Book().OpenCount()
	return m
}

// Status summarises the lifecycle state.
func (b *Bot) Status() Status {
	cfg := b.cfg.Load()
	s := Status{
		Running:       b.running.Load(),
		Scanning:      b.scanning.Load(),
		LiveMode:      cfg.LiveMode,
		Wallet:        b.Wallet(),
		Preset:        cfg.Preset,
		OpenPositions: b.machine.Book().OpenCount(),
	}
	b.lifeMu.Lock()
	if s.Running && !b.startedAt.IsZero() {
		t := b.startedAt
		s.StartedAt = &t
	}
	b.lifeMu.Unlock()
	return s
}
