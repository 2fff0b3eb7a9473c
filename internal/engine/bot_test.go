package engine

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

	"github.com/alanyoungcy/mevbot/internal/domain"
	"github.com/alanyoungcy/mevbot/internal/executor"
	"github.com/alanyoungcy/mevbot/internal/rng"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeMarket struct {
	mu         sync.Mutex
	priceErr   error
	congErr    error
	congestion domain.CongestionLevel
	entered    chan struct{}
	release    chan struct{}
}

func (m *fakeMarket) PriceSnapshot(context.Context, []string) (domain.PriceSnapshot, error) {
	m.mu.Lock()
	entered, release, err := m.entered, m.release, m.priceErr
	m.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	return domain.PriceSnapshot{Prices: map[string]decimal.Decimal{
		"SOL":  decimal.NewFromInt(150),
		"USDC": decimal.NewFromInt(1),
	}}, nil
}

func (m *fakeMarket) Congestion(context.Context) (domain.CongestionLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.congErr != nil {
		return "", m.congErr
	}
	if m.congestion == "" {
		return domain.CongestionLow, nil
	}
	return m.congestion, nil
}

type recordingExecutor struct {
	name string
	mu   sync.Mutex
	reqs []domain.TradeRequest
}

func (e *recordingExecutor) Name() string { return e.name }

func (e *recordingExecutor) Execute(_ context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	return domain.TradeResult{
		Success: true,
		Profit:  req.Opportunity.EstimatedProfit,
		Fee:     decimal.RequireFromString("0.0001"),
		TxRef:   e.name + "_" + req.PositionID,
	}, nil
}

func (e *recordingExecutor) requests() []domain.TradeRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.TradeRequest(nil), e.reqs...)
}

type auditSink struct {
	executor.NopSink
	mu     sync.Mutex
	events []string
}

func (s *auditSink) Audit(_ context.Context, event string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *auditSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

type harness struct {
	bot    *Bot
	sched  *executor.ManualScheduler
	market *fakeMarket
	demo   *recordingExecutor
	live   *recordingExecutor
	sink   *auditSink
	clock  *fakeClock
}

// newHarness builds a bot whose random draws all come from values. Draws
// are: scan count, then per candidate pair, impact, confidence, notional,
// capture; then two stage delays per admitted position.
func newHarness(t *testing.T, mutate func(*domain.TradingConfig), values ...float64) *harness {
	t.Helper()
	h := &harness{
		sched:  executor.NewManualScheduler(),
		market: &fakeMarket{},
		demo:   &recordingExecutor{name: "demo"},
		live:   &recordingExecutor{name: "live"},
		sink:   &auditSink{},
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	cfg := domain.DefaultTradingConfig()
	cfg.Pairs = []string{"SOL/USDC"}
	// keep the background driver out of the way
	cfg.ScanInterval = domain.DurationRange{Min: time.Hour, Max: time.Hour}
	if mutate != nil {
		mutate(&cfg)
	}

	bot, err := New(cfg, Deps{
		Prices:     h.market,
		Congestion: h.market,
		Demo:       h.demo,
		Live:       h.live,
		Sink:       h.sink,
		Scheduler:  h.sched,
		Random:     rng.NewSequence(values...),
		Clock:      h.clock.Now,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	h.bot = bot
	t.Cleanup(bot.Stop)
	return h
}

// admissible draws: one candidate at confidence 72.5 and ~0.0226 SOL.
var admissible = []float64{0, 0, 0.9}

func TestTickRequiresRunning(t *testing.T) {
	h := newHarness(t, nil, admissible...)
	assert.ErrorIs(t, h.bot.Tick(context.Background()), domain.ErrNotRunning)
}

func TestTickExecutesAdmittedOpportunity(t *testing.T) {
	h := newHarness(t, nil, admissible...)
	ctx := context.Background()
	h.bot.Start(ctx)

	require.NoError(t, h.bot.Tick(ctx))

	opps := h.bot.Opportunities(0)
	require.Len(t, opps, 1)
	assert.Equal(t, domain.OpportunityExecuting, opps[0].Status)

	positions := h.bot.Positions(0)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionPending, positions[0].Status)
	assert.Equal(t, opps[0].ID, positions[0].OpportunityID)
	assert.EqualValues(t, 1, h.bot.Stats().TotalOpportunities)

	h.sched.RunAll()

	done, err := h.bot.Position(positions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionCompleted, done.Status)
	assert.True(t, done.NetProfit.Equal(done.Profit.Sub(done.Fee)))
	assert.Equal(t, domain.OpportunityExecuted, h.bot.Opportunities(0)[0].Status)

	st := h.bot.Stats()
	assert.EqualValues(t, 1, st.Executed)
	assert.EqualValues(t, 1, st.Successful)

	m := h.bot.Metrics()
	assert.EqualValues(t, 1, m.Scans)
	assert.Equal(t, 1, m.LastCandidates)
	assert.Equal(t, 1, m.LastAdmitted)
	assert.Equal(t, domain.CongestionLow, m.Congestion)
}

func TestCollaboratorErrorsAbortTick(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*fakeMarket)
	}{
		{"prices", func(m *fakeMarket) { m.priceErr = errors.New("feed down") }},
		{"congestion", func(m *fakeMarket) { m.congErr = errors.New("rpc down") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil, admissible...)
			tc.mutate(h.market)
			ctx := context.Background()
			h.bot.Start(ctx)

			require.Error(t, h.bot.Tick(ctx))
			assert.Empty(t, h.bot.Opportunities(0))
			assert.Empty(t, h.bot.Positions(0))
			assert.EqualValues(t, 0, h.bot.Stats().TotalOpportunities)

			m := h.bot.Metrics()
			assert.EqualValues(t, 1, m.FailedTicks)
			assert.EqualValues(t, 0, m.Scans)
			assert.NotEmpty(t, m.LastError)
		})
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	h := newHarness(t, nil, admissible...)
	h.market.entered = make(chan struct{})
	h.market.release = make(chan struct{})
	ctx := context.Background()
	h.bot.Start(ctx)

	errc := make(chan error, 1)
	go func() { errc <- h.bot.Tick(ctx) }()
	<-h.market.entered

	assert.ErrorIs(t, h.bot.Tick(ctx), ErrTickInFlight)
	assert.EqualValues(t, 1, h.bot.Metrics().SkippedTicks)

	close(h.market.release)
	require.NoError(t, <-errc)
	assert.EqualValues(t, 1, h.bot.Metrics().Scans)
}

func TestConcurrencyCapHolds(t *testing.T) {
	// 0.9 for every draw: three admissible candidates per tick
	h := newHarness(t, nil, 0.9)
	ctx := context.Background()
	h.bot.Start(ctx)

	require.NoError(t, h.bot.Tick(ctx))
	assert.Equal(t, 3, h.bot.Metrics().LastCandidates)
	assert.Equal(t, 2, h.bot.Metrics().LastAdmitted)
	assert.Equal(t, 2, h.bot.Status().OpenPositions)

	require.NoError(t, h.bot.Tick(ctx))
	assert.Equal(t, 0, h.bot.Metrics().LastAdmitted)
	assert.LessOrEqual(t, h.bot.Status().OpenPositions, 2)

	h.sched.RunAll()
	assert.Zero(t, h.bot.Status().OpenPositions)

	require.NoError(t, h.bot.Tick(ctx))
	assert.Equal(t, 2, h.bot.Metrics().LastAdmitted)
}

func TestLowConfidenceIsRecordedButNotExecuted(t *testing.T) {
	// confidence 0.5*25+50 = 62.5
	h := newHarness(t, nil, 0, 0, 0.5)
	ctx := context.Background()
	h.bot.Start(ctx)

	require.NoError(t, h.bot.Tick(ctx))
	assert.Len(t, h.bot.Opportunities(0), 1)
	assert.Empty(t, h.bot.Positions(0))
	assert.EqualValues(t, 1, h.bot.Stats().TotalOpportunities)
	assert.EqualValues(t, 0, h.bot.Stats().Executed)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, admissible...)
	ctx := context.Background()
	h.bot.Start(ctx)
	h.bot.Start(ctx)
	assert.Equal(t, 1, h.sink.count("bot_started"))

	h.bot.Stop()
	h.bot.Stop()
	assert.False(t, h.bot.Running())
	assert.Equal(t, 1, h.sink.count("bot_stopped"))
	assert.ErrorIs(t, h.bot.Tick(ctx), domain.ErrNotRunning)
}

func TestStopLetsInFlightPositionsFinish(t *testing.T) {
	h := newHarness(t, nil, admissible...)
	ctx := context.Background()
	h.bot.Start(ctx)
	require.NoError(t, h.bot.Tick(ctx))

	h.bot.Stop()
	assert.Equal(t, 1, h.bot.Status().OpenPositions)

	h.sched.RunAll()
	require.NoError(t, h.bot.Wait(ctx))
	assert.Equal(t, domain.PositionCompleted, h.bot.Positions(0)[0].Status)
}

type blockingClaimer struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingClaimer) Claim(context.Context, string) (bool, error) {
	c.entered <- struct{}{}
	<-c.release
	return true, nil
}

func TestStopDuringClaimOpensNoPosition(t *testing.T) {
	claims := &blockingClaimer{entered: make(chan struct{}), release: make(chan struct{})}
	cfg := domain.DefaultTradingConfig()
	cfg.Pairs = []string{"SOL/USDC"}
	cfg.ScanInterval = domain.DurationRange{Min: time.Hour, Max: time.Hour}
	bot, err := New(cfg, Deps{
		Prices:     &fakeMarket{},
		Congestion: &fakeMarket{},
		Demo:       &recordingExecutor{name: "demo"},
		Claims:     claims,
		Scheduler:  executor.NewManualScheduler(),
		Random:     rng.NewSequence(admissible...),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	ctx := context.Background()
	bot.Start(ctx)
	errc := make(chan error, 1)
	go func() { errc <- bot.Tick(ctx) }()
	<-claims.entered

	bot.Stop()
	assert.False(t, bot.Running())
	assert.Empty(t, bot.Positions(0))

	close(claims.release)
	require.NoError(t, <-errc)
	assert.Empty(t, bot.Positions(0))
	assert.Zero(t, bot.Status().OpenPositions)
	assert.Equal(t, 0, bot.Metrics().LastAdmitted)
	require.NoError(t, bot.Wait(ctx))
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t, nil, admissible...)
	ctx := context.Background()

	zero := decimal.Zero
	_, err := h.bot.UpdateConfig(ctx, domain.ConfigPatch{Capital: &zero})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.True(t, h.bot.Config().Capital.Equal(decimal.NewFromInt(100)))

	capital := decimal.NewFromInt(50)
	cfg, err := h.bot.UpdateConfig(ctx, domain.ConfigPatch{Capital: &capital})
	require.NoError(t, err)
	assert.True(t, cfg.Capital.Equal(capital))
	assert.True(t, h.bot.Config().Capital.Equal(capital))
	assert.Equal(t, 1, h.sink.count("config_updated"))
}

func TestConfigChangeOnlyAffectsLaterPositions(t *testing.T) {
	h := newHarness(t, nil, admissible...)
	ctx := context.Background()
	h.bot.Start(ctx)
	require.NoError(t, h.bot.Tick(ctx))

	capital := decimal.NewFromInt(50)
	_, err := h.bot.UpdateConfig(ctx, domain.ConfigPatch{Capital: &capital})
	require.NoError(t, err)
	h.sched.RunAll()

	reqs := h.demo.requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Config.Capital.Equal(decimal.NewFromInt(100)))
	assert.True(t, reqs[0].Amount.Equal(decimal.NewFromInt(20)))
}

func TestLiveTradingToggle(t *testing.T) {
	h := newHarness(t, nil, admissible...)
	ctx := context.Background()

	require.ErrorIs(t, h.bot.EnableLiveTrading(ctx, ""), domain.ErrWalletNotConnected)
	require.NoError(t, h.bot.EnableLiveTrading(ctx, "0xabc"))
	assert.True(t, h.bot.Config().LiveMode)
	assert.Equal(t, "0xabc", h.bot.Wallet())

	h.bot.Start(ctx)
	require.NoError(t, h.bot.Tick(ctx))
	h.sched.RunAll()

	p := h.bot.Positions(0)[0]
	assert.True(t, p.IsLive)
	assert.Equal(t, "0xabc", p.Wallet)
	assert.Len(t, h.live.requests(), 1)
	assert.Empty(t, h.demo.requests())

	h.bot.DisableLiveTrading(ctx)
	h.bot.DisableLiveTrading(ctx)
	assert.False(t, h.bot.Config().LiveMode)
	assert.Equal(t, 1, h.sink.count("live_disabled"))

	h.bot.DisconnectWallet(ctx)
	assert.Empty(t, h.bot.Wallet())
}

func TestApplyPreset(t *testing.T) {
	h := newHarness(t, nil, admissible...)
	ctx := context.Background()

	cfg, err := h.bot.ApplyPreset(ctx, "conservative")
	require.NoError(t, err)
	assert.Equal(t, domain.PresetConservative, cfg.Preset)
	assert.True(t, h.bot.Config().ConfidenceFloor.Equal(decimal.NewFromInt(80)))

	_, err = h.bot.ApplyPreset(ctx, "yolo")
	assert.ErrorIs(t, err, domain.ErrUnknownPreset)
	assert.Equal(t, domain.PresetConservative, h.bot.Config().Preset)
}

func TestRecentOpportunitiesCappedAndExpired(t *testing.T) {
	// count 3, confidence 67.5: recorded, never executed
	h := newHarness(t, func(c *domain.TradingConfig) { c.MaxRecentOpportunities = 5 }, 0.7)
	ctx := context.Background()
	h.bot.Start(ctx)

	require.NoError(t, h.bot.Tick(ctx))
	first := h.bot.Opportunities(0)
	require.Len(t, first, 3)

	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.bot.Tick(ctx))

	opps := h.bot.Opportunities(0)
	require.Len(t, opps, 5)
	for _, o := range opps[:3] {
		assert.Equal(t, domain.OpportunityDetected, o.Status)
	}
	for _, o := range opps[3:] {
		assert.Equal(t, domain.OpportunityExpired, o.Status)
	}
	assert.Len(t, h.bot.Opportunities(2), 2)
	assert.EqualValues(t, 6, h.bot.Stats().TotalOpportunities)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := domain.DefaultTradingConfig()
	cfg.Capital = decimal.Zero
	_, err := New(cfg, Deps{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
