// Package engine drives the trading loop: a jittered scheduler triggers
// single-flight scan ticks, admitted opportunities are handed to the
// execution state machine, and every outcome feeds the statistics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/mevbot/internal/domain"
	"github.com/alanyoungcy/mevbot/internal/executor"
	"github.com/alanyoungcy/mevbot/internal/rng"
	"github.com/alanyoungcy/mevbot/internal/scanner"
	"github.com/alanyoungcy/mevbot/internal/stats"
)

// ErrTickInFlight is returned by Tick when the previous scan has not
// returned yet. The tick is skipped, not queued.
var ErrTickInFlight = errors.New("engine: scan already in flight")

// Deps are the collaborators of a Bot. Prices, Congestion and Demo are
// required; everything else has an in-process default.
type Deps struct {
	Prices     domain.PriceSource
	Congestion domain.CongestionSource
	Demo       domain.TradeExecutor
	Live       domain.TradeExecutor
	Claims     domain.Claimer
	Sink       domain.EventSink
	Stats      *stats.Aggregator
	Scheduler  executor.Scheduler
	Random     domain.RandomSource
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Status is the bot's lifecycle summary.
type Status struct {
	Running       bool       `json:"running"`
	Scanning      bool       `json:"scanning"`
	LiveMode      bool       `json:"live_mode"`
	Wallet        string     `json:"wallet,omitempty"`
	Preset        string     `json:"preset"`
	OpenPositions int        `json:"open_positions"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
}

// Bot is the trading agent. All exported methods are safe for concurrent
// use.
type Bot struct {
	prices     domain.PriceSource
	congestion domain.CongestionSource
	scanner    *scanner.Scanner
	machine    *executor.Machine
	stats      *stats.Aggregator
	claims     domain.Claimer
	sink       domain.EventSink
	rnd        domain.RandomSource
	jitter     domain.RandomSource
	now        func() time.Time
	logger     *slog.Logger

	cfg    atomic.Pointer[domain.TradingConfig]
	cfgMu  sync.Mutex // serializes config writers
	wallet atomic.Pointer[string]

	running  atomic.Bool
	scanning atomic.Bool
	// gate is held shared while a position is opened and exclusively by
	// Stop, so no position opens after Stop returns.
	gate sync.RWMutex

	lifeMu    sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu      sync.RWMutex // guards opps and metrics
	opps    []domain.Opportunity
	metrics domain.ScanMetrics
}

// New creates a stopped Bot with the given initial configuration.
func New(cfg domain.TradingConfig, d Deps) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if d.Prices == nil || d.Congestion == nil || d.Demo == nil {
		return nil, errors.New("engine: prices, congestion and demo executor are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Random == nil {
		d.Random = rng.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Stats == nil {
		d.Stats = stats.New()
	}
	if d.Claims == nil {
		d.Claims = executor.NewDedup(time.Minute)
	}
	if d.Sink == nil {
		d.Sink = executor.NopSink{}
	}
	if d.Scheduler == nil {
		d.Scheduler = executor.TimerScheduler{}
	}

	b := &Bot{
		prices:     d.Prices,
		congestion: d.Congestion,
		scanner:    scanner.New(d.Random, d.Logger).WithClock(d.Clock),
		stats:      d.Stats,
		claims:     d.Claims,
		sink:       d.Sink,
		rnd:        d.Random,
		jitter:     rng.Default(),
		now:        d.Clock,
		logger:     d.Logger.With(slog.String("component", "bot")),
	}
	opts := []executor.Option{
		executor.WithScheduler(d.Scheduler),
		executor.WithSink(hook{b}),
		executor.WithClock(d.Clock),
	}
	if d.Live != nil {
		opts = append(opts, executor.WithLive(d.Live))
	}
	b.machine = executor.NewMachine(executor.NewBook(cfg.MaxRecentPositions), d.Stats, d.Demo, d.Random, d.Logger, opts...)

	c := cfg.Clone()
	b.cfg.Store(&c)
	empty := ""
	b.wallet.Store(&empty)
	return b, nil
}

// Start begins scheduling scan ticks. Starting a running bot is a no-op.
// The loop outlives ctx's cancellation; it ends only through Stop.
func (b *Bot) Start(ctx context.Context) {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.running.Load() {
		return
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.done = make(chan struct{})
	b.startedAt = b.now().UTC()
	b.running.Store(true)

	go b.loop(loopCtx, b.done)

	b.logger.InfoContext(ctx, "bot started", slog.Bool("live_mode", b.Config().LiveMode))
	b.sink.Audit(ctx, "bot_started", map[string]any{"live_mode": b.Config().LiveMode})
}

// Stop prevents new ticks and new positions. Positions already in flight
// run to completion; use Wait to block on them. Stopping a stopped bot is a
// no-op.
func (b *Bot) Stop() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if !b.running.Load() {
		return
	}
	b.gate.Lock()
	b.running.Store(false)
	b.gate.Unlock()
	b.cancel()
	<-b.done

	open := b.machine.Book().OpenCount()
	b.logger.Info("bot stopped", slog.Int("in_flight", open))
	b.sink.Audit(context.Background(), "bot_stopped", map[string]any{"in_flight": open})
}

// Running reports whether the scheduler is active.
func (b *Bot) Running() bool { return b.running.Load() }

// Wait blocks until all in-flight positions are terminal or ctx is done.
func (b *Bot) Wait(ctx context.Context) error { return b.machine.Wait(ctx) }

func (b *Bot) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		wait := b.Config().ScanInterval.Pick(b.jitter.Float64())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		// Ticks run off the driver so a slow collaborator never delays the
		// schedule; overlap is rejected inside Tick.
		go func() {
			if err := b.Tick(ctx); err != nil && !errors.Is(err, ErrTickInFlight) && !errors.Is(err, domain.ErrNotRunning) {
				b.logger.Debug("tick aborted", slog.String("error", err.Error()))
			}
		}()
	}
}

// Tick runs one scan: it snapshots the config, fetches prices and
// congestion, scans, records the opportunities and executes the admitted
// ones in generation order. A collaborator error aborts the tick before any
// state is touched.
func (b *Bot) Tick(ctx context.Context) error {
	if !b.running.Load() {
		return domain.ErrNotRunning
	}
	if !b.scanning.CompareAndSwap(false, true) {
		b.mu.Lock()
		b.metrics.SkippedTicks++
		b.mu.Unlock()
		return ErrTickInFlight
	}
	defer b.scanning.Store(false)

	cfg := b.Config()
	wallet := b.Wallet()

	prices, err := b.prices.PriceSnapshot(ctx, symbols(cfg))
	if err != nil {
		return b.abort(ctx, fmt.Errorf("engine: fetch prices: %w", err))
	}
	congestion, err := b.congestion.Congestion(ctx)
	if err != nil {
		return b.abort(ctx, fmt.Errorf("engine: congestion: %w", err))
	}

	if c, ok := b.claims.(interface{ Cleanup() }); ok {
		c.Cleanup()
	}

	opps := b.scanner.Scan(prices, cfg)
	st := b.stats.OnOpportunitiesScanned(len(opps))
	expired := b.remember(opps, cfg)

	for _, o := range expired {
		b.sink.OpportunityUpdated(ctx, o)
	}
	if len(opps) > 0 {
		b.sink.OpportunitiesDetected(ctx, opps)
		b.sink.StatsUpdated(ctx, st)
	}

	env := executor.Env{
		BasePrice:  cfg.BasePrice(prices),
		Congestion: congestion,
		Wallet:     wallet,
	}
	admitted := 0
	for _, opp := range opps {
		if !b.running.Load() {
			break
		}
		if b.admit(ctx, opp, cfg, env) {
			admitted++
		}
	}

	b.mu.Lock()
	b.metrics.Scans++
	b.metrics.LastCandidates = len(opps)
	b.metrics.LastAdmitted = admitted
	b.metrics.Congestion = congestion
	b.metrics.LastScanAt = b.now().UTC()
	b.metrics.LastError = ""
	if len(opps) > 0 {
		b.metrics.LastSlot = opps[len(opps)-1].Target.Slot
	}
	b.mu.Unlock()

	b.logger.DebugContext(ctx, "tick complete",
		slog.Int("candidates", len(opps)),
		slog.Int("admitted", admitted),
		slog.String("congestion", string(congestion)),
	)
	return nil
}

func (b *Bot) admit(ctx context.Context, opp domain.Opportunity, cfg domain.TradingConfig, env executor.Env) bool {
	log := b.logger.With(slog.String("opportunity_id", opp.ID), slog.String("pair", opp.Pair.Symbol))

	v := scanner.Admit(opp, cfg, b.machine.Book().OpenCount())
	if !v.Admitted {
		log.Debug("opportunity not admitted", slog.String("reason", string(v.Reason)))
		return false
	}

	ok, err := b.claims.Claim(ctx, opp.ID)
	if err != nil {
		log.Warn("claim failed", slog.String("error", err.Error()))
		return false
	}
	if !ok {
		log.Debug("opportunity already claimed")
		return false
	}

	b.gate.RLock()
	if !b.running.Load() {
		b.gate.RUnlock()
		log.Debug("bot stopped before execution")
		return false
	}
	_, err = b.machine.Execute(ctx, opp, cfg, env)
	b.gate.RUnlock()
	if err != nil {
		log.Warn("execute failed", slog.String("error", err.Error()))
		return false
	}
	if updated, ok := b.setStatus(opp.ID, domain.OpportunityExecuting); ok {
		b.sink.OpportunityUpdated(ctx, updated)
	}
	return true
}

func (b *Bot) abort(ctx context.Context, err error) error {
	b.mu.Lock()
	b.metrics.FailedTicks++
	b.metrics.LastError = err.Error()
	b.mu.Unlock()
	b.logger.WarnContext(ctx, "tick skipped", slog.String("error", err.Error()))
	return err
}

// remember expires stale DETECTED opportunities and prepends opps to the
// recent list, newest first. It returns the opportunities that expired.
func (b *Bot) remember(opps []domain.Opportunity, cfg domain.TradingConfig) []domain.Opportunity {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []domain.Opportunity
	if cfg.OpportunityTTL > 0 {
		for i, o := range b.opps {
			if o.Status == domain.OpportunityDetected && now.Sub(o.DetectedAt) > cfg.OpportunityTTL {
				b.opps[i] = o.WithStatus(domain.OpportunityExpired)
				expired = append(expired, b.opps[i])
			}
		}
	}

	fresh := slices.Clone(opps)
	slices.Reverse(fresh)
	b.opps = append(fresh, b.opps...)
	if limit := cfg.MaxRecentOpportunities; limit > 0 && len(b.opps) > limit {
		b.opps = b.opps[:limit]
	}
	return expired
}

func (b *Bot) setStatus(id string, status domain.OpportunityStatus) (domain.Opportunity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.opps {
		if o.ID == id {
			b.opps[i] = o.WithStatus(status)
			return b.opps[i], true
		}
	}
	return domain.Opportunity{}, false
}

func symbols(cfg domain.TradingConfig) []string {
	out := slices.Clone(cfg.TargetTokens)
	if !slices.Contains(out, cfg.BaseToken) {
		out = append(out, cfg.BaseToken)
	}
	return out
}

// hook sits between the state machine and the outer sink so terminal
// positions mark their opportunity EXECUTED.
type hook struct{ b *Bot }

func (h hook) OpportunitiesDetected(ctx context.Context, opps []domain.Opportunity) {
	h.b.sink.OpportunitiesDetected(ctx, opps)
}

func (h hook) OpportunityUpdated(ctx context.Context, o domain.Opportunity) {
	h.b.sink.OpportunityUpdated(ctx, o)
}

func (h hook) PositionUpdated(ctx context.Context, p domain.Position) {
	h.b.sink.PositionUpdated(ctx, p)
	if p.Status.Terminal() {
		if o, ok := h.b.setStatus(p.OpportunityID, domain.OpportunityExecuted); ok {
			h.b.sink.OpportunityUpdated(ctx, o)
		}
	}
}

func (h hook) StatsUpdated(ctx context.Context, s domain.Stats) { h.b.sink.StatsUpdated(ctx, s) }

func (h hook) Audit(ctx context.Context, event string, detail map[string]any) {
	h.b.sink.Audit(ctx, event, detail)
}
