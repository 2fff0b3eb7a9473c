package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOpportunity(id string) domain.Opportunity {
	pair, _ := domain.ParsePair("SOL/USDC")
	return domain.Opportunity{
		ID:              id,
		Pair:            pair,
		EstimatedProfit: decimal.RequireFromString("0.01"),
		Confidence:      decimal.NewFromInt(85),
		FrontRunPrice:   decimal.NewFromInt(150),
		BackRunPrice:    decimal.RequireFromString("150.75"),
		GasEstimate:     decimal.RequireFromString("0.0003"),
		BasePrice:       decimal.NewFromInt(150),
		DetectedAt:      testNow,
		Status:          domain.OpportunityDetected,
	}
}

func testEnv() Env {
	return Env{BasePrice: decimal.NewFromInt(150), Congestion: domain.CongestionLow}
}

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu        sync.Mutex
	positions []domain.Position
	stats     []domain.Stats
}

func (s *recordingSink) OpportunitiesDetected(context.Context, []domain.Opportunity) {}
func (s *recordingSink) OpportunityUpdated(context.Context, domain.Opportunity) {}
func (s *recordingSink) Audit(context.Context, string, map[string]any) {}

func (s *recordingSink) PositionUpdated(_ context.Context, p domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, p)
}

func (s *recordingSink) StatsUpdated(_ context.Context, st domain.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, st)
}

func (s *recordingSink) terminal() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status.Terminal() {
			out = append(out, p)
		}
	}
	return out
}

// stubExecutor returns a fixed result or error, or panics.
type stubExecutor struct {
	res     domain.TradeResult
	err     error
	panics  bool
	calls   int
	lastReq domain.TradeRequest
}

func (s *stubExecutor) Name() string { return "stub" }

func (s *stubExecutor) Execute(_ context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	s.calls++
	s.lastReq = req
	if s.panics {
		panic("boom")
	}
	return s.res, s.err
}

type stubSigner struct {
	sig string
	err error
}

func (s stubSigner) SignIntent(context.Context, []byte) (string, error) {
	return s.sig, s.err
}
