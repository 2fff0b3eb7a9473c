// Package scanner discovers candidate sandwich opportunities and decides
// which of them may be executed.
package scanner

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

const (
	maxCandidates = 3
	// baseDecimals is the precision kept for base currency amounts (lamports).
	baseDecimals = 9
)

var (
	maxProfitPercent = decimal.NewFromInt(15)
	hundred          = decimal.NewFromInt(100)
)

// Scanner turns a price snapshot into opportunities. It holds no state
// between scans besides its random source and clock.
type Scanner struct {
	rnd    domain.RandomSource
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Scanner drawing from rnd.
func New(rnd domain.RandomSource, logger *slog.Logger) *Scanner {
	return &Scanner{
		rnd:    rnd,
		now:    time.Now,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// WithClock overrides the clock used for detection timestamps and slots.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// Scan draws between one and three candidates from the tradable pairs in cfg
// and returns every one of them as a DETECTED opportunity, profitable or not.
//
// Draw order per scan: count, then per candidate pair, price impact,
// confidence, notional and capture rate. Candidates whose base token has no
// price in the snapshot consume their draws and are dropped.
func (s *Scanner) Scan(prices domain.PriceSnapshot, cfg domain.TradingConfig) []domain.Opportunity {
	pairs := cfg.TradablePairs()
	if len(pairs) == 0 {
		return nil
	}

	count := 1 + int(s.rnd.Float64()*maxCandidates)
	if count > maxCandidates {
		count = maxCandidates
	}

	now := s.now()
	basePrice := cfg.BasePrice(prices)
	size := cfg.PositionSize()

	out := make([]domain.Opportunity, 0, count)
	for i := 0; i < count; i++ {
		idx := int(s.rnd.Float64() * float64(len(pairs)))
		if idx >= len(pairs) {
			idx = len(pairs) - 1
		}
		pair := pairs[idx]

		impact := decimal.NewFromFloat(s.rnd.Float64()*0.8 + 0.1)
		confidence := decimal.NewFromFloat(s.rnd.Float64()*25 + 50)
		notional := decimal.NewFromFloat(s.rnd.Float64()*1000 + 200).Round(2)
		capture := decimal.NewFromFloat(s.rnd.Float64()*0.25 + 0.15)

		front, ok := prices.Price(pair.Base)
		if !ok {
			s.logger.Debug("no price for pair base, candidate dropped",
				slog.String("pair", pair.Symbol),
			)
			continue
		}

		// notional * (impact/100) * capture is in quote currency.
		estQuote := notional.Mul(impact).Div(hundred).Mul(capture)
		est := estQuote.Div(basePrice).Round(baseDecimals)

		out = append(out, domain.Opportunity{
			ID:              "opp_" + uuid.NewString(),
			Pair:            pair,
			EstimatedProfit: est,
			ProfitPercent:   profitPercent(estQuote, size),
			Confidence:      confidence,
			PriceImpact:     impact,
			CaptureRate:     capture,
			Target: domain.Target{
				Amount:    notional,
				Slot:      now.Unix() + int64(i),
				Priority:  priorityFor(confidence),
				Timestamp: now,
			},
			FrontRunPrice: front,
			BackRunPrice:  front.Mul(decimal.NewFromInt(1).Add(impact.Div(hundred))),
			GasEstimate:   cfg.GasEstimate,
			BasePrice:     basePrice,
			DetectedAt:    now,
			Status:        domain.OpportunityDetected,
		})
	}
	return out
}

// profitPercent expresses the quote-denominated estimate relative to the
// position size, clamped to [0, 15].
func profitPercent(estQuote, size decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() {
		return decimal.Zero
	}
	pct := estQuote.Div(size).Mul(hundred)
	if pct.GreaterThan(maxProfitPercent) {
		return maxProfitPercent
	}
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

func priorityFor(confidence decimal.Decimal) domain.Priority {
	switch {
	case confidence.GreaterThan(decimal.NewFromInt(70)):
		return domain.PriorityHigh
	case confidence.GreaterThan(decimal.NewFromInt(50)):
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}
