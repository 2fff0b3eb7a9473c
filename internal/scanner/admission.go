package scanner

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// Reason explains an admission decision.
type Reason string

const (
	ReasonAdmitted       Reason = "admitted"
	ReasonLowConfidence  Reason = "low_confidence"
	ReasonBelowMinProfit Reason = "below_min_profit"
	ReasonExceedsMaxLoss Reason = "exceeds_max_loss"
	ReasonConcurrencyCap Reason = "concurrency_cap"
)

// Verdict is the outcome of Admit.
type Verdict struct {
	Admitted       bool
	Reason         Reason
	ProfitAfterGas decimal.Decimal
	WorstCaseLoss  decimal.Decimal
}

// Admit decides whether opp may open a position given the number of
// positions currently open. All four gates must pass:
//
//  1. confidence >= cfg.ConfidenceFloor
//  2. estimated profit - gas estimate >= cfg.MinProfitThreshold (base units)
//  3. worst-case loss <= cfg.MaxLoss, where worst-case loss is the position
//     size moved by the full slippage tolerance, in base units, plus gas.
//     A zero MaxLoss disables this gate.
//  4. open < cfg.MaxConcurrentPositions
func Admit(opp domain.Opportunity, cfg domain.TradingConfig, open int) Verdict {
	v := Verdict{
		ProfitAfterGas: opp.ProfitAfterGas(),
		WorstCaseLoss:  WorstCaseLoss(opp, cfg),
	}

	switch {
	case opp.Confidence.LessThan(cfg.ConfidenceFloor):
		v.Reason = ReasonLowConfidence
	case v.ProfitAfterGas.LessThan(cfg.MinProfitThreshold):
		v.Reason = ReasonBelowMinProfit
	case cfg.MaxLoss.IsPositive() && v.WorstCaseLoss.GreaterThan(cfg.MaxLoss):
		v.Reason = ReasonExceedsMaxLoss
	case open >= cfg.MaxConcurrentPositions:
		v.Reason = ReasonConcurrencyCap
	default:
		v.Admitted = true
		v.Reason = ReasonAdmitted
	}
	return v
}

// WorstCaseLoss is size * slippage% / basePrice + gas, in base currency.
func WorstCaseLoss(opp domain.Opportunity, cfg domain.TradingConfig) decimal.Decimal {
	base := opp.BasePrice
	if !base.IsPositive() {
		base = cfg.FallbackBasePrice
	}
	slip := cfg.PositionSize().Mul(cfg.SlippageTolerance).Div(hundred)
	return slip.Div(base).Add(opp.GasEstimate)
}
