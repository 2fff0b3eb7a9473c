// Package executor runs admitted opportunities through the staged position
// lifecycle PENDING -> FRONT_RUN_SENT -> COMPLETED (or FAILED) and resolves
// their outcome with a TradeExecutor.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
	"github.com/alanyoungcy/mevbot/internal/stats"
)

// Env is the tick-level context captured when an opportunity is admitted.
type Env struct {
	BasePrice  decimal.Decimal
	Congestion domain.CongestionLevel
	Wallet     string
}

// Machine owns position state transitions. Each position runs on its own
// chain of scheduled stages; positions never block each other.
type Machine struct {
	book   *Book
	stats  *stats.Aggregator
	demo   domain.TradeExecutor
	live   domain.TradeExecutor
	sched  Scheduler
	rnd    domain.RandomSource
	sink   domain.EventSink
	now    func() time.Time
	logger *slog.Logger

	inflight sync.WaitGroup
}

// Option configures a Machine.
type Option func(*Machine)

// WithLive sets the executor used for live-mode positions.
func WithLive(e domain.TradeExecutor) Option { return func(m *Machine) { m.live = e } }

// WithScheduler replaces the timer scheduler.
func WithScheduler(s Scheduler) Option { return func(m *Machine) { m.sched = s } }

// WithRandom sets the source for stage delays.
func WithRandom(r domain.RandomSource) Option { return func(m *Machine) { m.rnd = r } }

// WithSink sets the event sink notified on every transition.
func WithSink(s domain.EventSink) Option { return func(m *Machine) { m.sink = s } }

// WithClock overrides the clock used for position timestamps.
func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

// NewMachine creates a Machine resolving demo positions with demo.
func NewMachine(book *Book, agg *stats.Aggregator, demo domain.TradeExecutor, rnd domain.RandomSource, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		book:   book,
		stats:  agg,
		demo:   demo,
		sched:  TimerScheduler{},
		rnd:    rnd,
		sink:   NopSink{},
		now:    time.Now,
		logger: logger.With(slog.String("component", "executor")),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Book exposes the position collection.
func (m *Machine) Book() *Book { return m.book }

// run is the pinned state of one in-flight position. cfg, env and exec are
// fixed at creation; later config changes do not reach it.
type run struct {
	id   string
	opp  domain.Opportunity
	cfg  domain.TradingConfig
	env  Env
	exec domain.TradeExecutor
	ctx  context.Context
	log  *slog.Logger
}

// Execute opens a PENDING position for opp and schedules its stages. It
// returns as soon as the position is recorded. Stages keep running after ctx
// is cancelled; a stopped engine lets in-flight positions finish.
func (m *Machine) Execute(ctx context.Context, opp domain.Opportunity, cfg domain.TradingConfig, env Env) (domain.Position, error) {
	cfg = cfg.Clone()
	if !env.BasePrice.IsPositive() {
		env.BasePrice = cfg.FallbackBasePrice
	}
	exec, live := m.pick(cfg, env)

	now := m.now().UTC()
	pos := domain.Position{
		ID:            "pos_" + uuid.NewString(),
		OpportunityID: opp.ID,
		Pair:          opp.Pair,
		EntryPrice:    opp.FrontRunPrice,
		Amount:        cfg.PositionSize(),
		Status:        domain.PositionPending,
		IsLive:        live,
		IsDemo:        !live,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	if live {
		pos.Wallet = env.Wallet
	}

	if err := m.book.Open(pos, cfg.MaxConcurrentPositions); err != nil {
		return domain.Position{}, fmt.Errorf("executor: open position: %w", err)
	}
	m.inflight.Add(1)

	r := &run{
		id:   pos.ID,
		opp:  opp,
		cfg:  cfg,
		env:  env,
		exec: exec,
		ctx:  context.WithoutCancel(ctx),
		log: m.logger.With(
			slog.String("position_id", pos.ID),
			slog.String("opportunity_id", opp.ID),
			slog.String("executor", exec.Name()),
		),
	}
	r.log.Info("position opened",
		slog.String("pair", opp.Pair.Symbol),
		slog.String("amount", pos.Amount.String()),
	)
	m.sink.PositionUpdated(ctx, pos)

	m.sched.AfterFunc(cfg.FrontRunDelay.Pick(m.rnd.Float64()), func() { m.frontRun(r) })
	return pos, nil
}

func (m *Machine) pick(cfg domain.TradingConfig, env Env) (domain.TradeExecutor, bool) {
	if cfg.LiveMode && env.Wallet != "" && m.live != nil {
		return m.live, true
	}
	return m.demo, false
}

func (m *Machine) frontRun(r *run) {
	defer m.recoverStage(r)

	if !r.opp.FrontRunPrice.IsPositive() {
		m.fail(r, errors.New("entry price must be positive"))
		return
	}
	pos, err := m.book.Advance(r.id, func(p *domain.Position) {
		p.Status = domain.PositionFrontRunSent
		p.FrontRunTx = "front_" + r.id
		p.UpdatedAt = m.now().UTC()
	})
	if err != nil {
		r.log.Error("front-run transition failed", slog.String("error", err.Error()))
		return
	}
	r.log.Debug("front-run sent", slog.String("tx", pos.FrontRunTx))
	m.sink.PositionUpdated(r.ctx, pos)

	m.sched.AfterFunc(r.cfg.ResolveDelay.Pick(m.rnd.Float64()), func() { m.resolve(r) })
}

func (m *Machine) resolve(r *run) {
	defer m.recoverStage(r)

	cur, ok := m.book.Get(r.id)
	if !ok {
		r.log.Error("position vanished before resolution")
		return
	}

	res, err := r.exec.Execute(r.ctx, domain.TradeRequest{
		Opportunity: r.opp,
		PositionID:  r.id,
		Amount:      cur.Amount,
		BasePrice:   r.env.BasePrice,
		Congestion:  r.env.Congestion,
		Wallet:      cur.Wallet,
		Config:      r.cfg,
	})
	if err != nil {
		fee := r.cfg.RejectionFee
		var rej *domain.RejectionError
		if errors.As(err, &rej) {
			fee = rej.Fee
		}
		r.log.Warn("trade rejected", slog.String("error", err.Error()), slog.String("fee", fee.String()))
		m.complete(r, domain.TradeResult{Success: false, Profit: decimal.Zero, Fee: fee}, err.Error())
		return
	}

	if !res.Success && res.Profit.IsPositive() {
		res.Profit = decimal.Zero
	}
	m.complete(r, res, "")
}

// complete moves the position to COMPLETED. Book and stats are updated in one
// critical section.
func (m *Machine) complete(r *run, res domain.TradeResult, reason string) {
	var st domain.Stats
	pos, err := m.book.Resolve(r.id, func(p *domain.Position) {
		exit := exitPrice(p.EntryPrice, res.Profit, r.env.BasePrice, p.Amount)
		now := m.now().UTC()
		p.ExitPrice = &exit
		p.Profit = res.Profit
		p.Fee = res.Fee
		p.NetProfit = res.Profit.Sub(res.Fee)
		p.Success = res.Success
		p.Status = domain.PositionCompleted
		p.BackRunTx = res.TxRef
		p.Error = reason
		p.UpdatedAt = now
		p.ClosedAt = &now
	}, func(p domain.Position) {
		st = m.stats.OnPositionCompleted(p)
	})
	if err != nil {
		r.log.Error("completion failed", slog.String("error", err.Error()))
		return
	}
	m.inflight.Done()

	r.log.Info("position completed",
		slog.Bool("success", pos.Success),
		slog.String("profit", pos.Profit.String()),
		slog.String("fee", pos.Fee.String()),
		slog.String("net_profit", pos.NetProfit.String()),
	)
	m.sink.PositionUpdated(r.ctx, pos)
	m.sink.StatsUpdated(r.ctx, st)
}

// fail moves the position to FAILED, charging the configured rejection fee.
func (m *Machine) fail(r *run, cause error) {
	var st domain.Stats
	pos, err := m.book.Resolve(r.id, func(p *domain.Position) {
		now := m.now().UTC()
		p.Profit = decimal.Zero
		p.Fee = r.cfg.RejectionFee
		p.NetProfit = r.cfg.RejectionFee.Neg()
		p.Success = false
		p.Status = domain.PositionFailed
		p.Error = cause.Error()
		p.UpdatedAt = now
		p.ClosedAt = &now
	}, func(p domain.Position) {
		st = m.stats.OnPositionCompleted(p)
	})
	if err != nil {
		r.log.Error("failure transition failed", slog.String("error", err.Error()))
		return
	}
	m.inflight.Done()

	r.log.Error("position failed", slog.String("error", cause.Error()))
	m.sink.PositionUpdated(r.ctx, pos)
	m.sink.StatsUpdated(r.ctx, st)
}

func (m *Machine) recoverStage(r *run) {
	if v := recover(); v != nil {
		m.fail(r, fmt.Errorf("executor panic: %v", v))
	}
}

// Wait blocks until every open position has reached a terminal state or ctx
// is done.
func (m *Machine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exitPrice derives the exit so that (exit/entry - 1) * amount, converted to
// base currency, equals profit.
func exitPrice(entry, profit, basePrice, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() || !basePrice.IsPositive() {
		return entry
	}
	move := profit.Mul(basePrice).Div(amount)
	return entry.Mul(decimal.NewFromInt(1).Add(move))
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) OpportunitiesDetected(context.Context, []domain.Opportunity) {}
func (NopSink) OpportunityUpdated(context.Context, domain.Opportunity) {}
func (NopSink) PositionUpdated(context.Context, domain.Position) {}
func (NopSink) StatsUpdated(context.Context, domain.Stats) {}
func (NopSink) Audit(context.Context, string, map[string]any) {}
