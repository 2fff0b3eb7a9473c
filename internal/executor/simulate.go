package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

var (
	minSuccessProbability = decimal.RequireFromString("0.65")
	maxSuccessProbability = decimal.RequireFromString("0.95")
	congestionPenalty     = decimal.RequireFromString("0.05")
	confidenceWeight      = decimal.RequireFromString("0.2")
	baseFee               = decimal.RequireFromString("0.00008")
	feeSpread             = decimal.RequireFromString("0.00005")
	maxAdverseMove        = decimal.RequireFromString("0.02")
)

const feeDecimals = 9

// SuccessProbability is rate adjusted by confidence and congestion:
// rate + (confidence-50)/100*0.2, minus 0.05 under HIGH congestion, clamped
// to [0.65, 0.95]. A configured rate outside that band widens it.
func SuccessProbability(rate, confidence decimal.Decimal, congestion domain.CongestionLevel) decimal.Decimal {
	p := rate.Add(confidence.Sub(decimal.NewFromInt(50)).Div(decimal.NewFromInt(100)).Mul(confidenceWeight))
	if congestion == domain.CongestionHigh {
		p = p.Sub(congestionPenalty)
	}
	lo := decimal.Min(minSuccessProbability, rate)
	hi := decimal.Max(maxSuccessProbability, rate)
	return decimal.Min(hi, decimal.Max(lo, p))
}

// simulate draws success, then profit (or loss), then fee. Success profit is
// 80-120% of the estimate; a failure loses up to 2% of the amount.
func simulate(rnd domain.RandomSource, rate decimal.Decimal, req domain.TradeRequest) domain.TradeResult {
	p := SuccessProbability(rate, req.Opportunity.Confidence, req.Congestion)
	success := decimal.NewFromFloat(rnd.Float64()).LessThan(p)

	var profit decimal.Decimal
	if success {
		scale := decimal.NewFromFloat(0.8 + 0.4*rnd.Float64())
		profit = req.Opportunity.EstimatedProfit.Mul(scale)
	} else {
		base := req.BasePrice
		if !base.IsPositive() {
			base = req.Config.FallbackBasePrice
		}
		move := maxAdverseMove.Mul(decimal.NewFromFloat(rnd.Float64()))
		profit = req.Amount.Mul(move).Div(base).Neg()
	}
	fee := baseFee.Add(feeSpread.Mul(decimal.NewFromFloat(rnd.Float64())))

	return domain.TradeResult{
		Success: success,
		Profit:  profit.Round(feeDecimals),
		Fee:     fee.Round(feeDecimals),
	}
}

// DemoExecutor simulates every trade. It never touches a wallet.
type DemoExecutor struct {
	rnd domain.RandomSource
}

// NewDemoExecutor creates a DemoExecutor drawing from rnd.
func NewDemoExecutor(rnd domain.RandomSource) *DemoExecutor {
	return &DemoExecutor{rnd: rnd}
}

func (d *DemoExecutor) Name() string { return "demo" }

func (d *DemoExecutor) Execute(_ context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	res := simulate(d.rnd, req.Config.DemoSuccessRate, req)
	res.TxRef = "demo_" + req.PositionID
	return res, nil
}

// LiveExecutor enforces the pre-trade guards and signs the trade intent with
// the connected wallet before resolving it.
type LiveExecutor struct {
	rnd    domain.RandomSource
	signer domain.TxSigner
}

// NewLiveExecutor creates a LiveExecutor. A nil signer rejects every trade.
func NewLiveExecutor(rnd domain.RandomSource, signer domain.TxSigner) *LiveExecutor {
	return &LiveExecutor{rnd: rnd, signer: signer}
}

func (l *LiveExecutor) Name() string { return "live" }

// tradeIntent is the payload signed for a live trade.
type tradeIntent struct {
	PositionID    string          `json:"position_id"`
	OpportunityID string          `json:"opportunity_id"`
	Pair          string          `json:"pair"`
	Amount        decimal.Decimal `json:"amount"`
	FrontRunPrice decimal.Decimal `json:"front_run_price"`
	BackRunPrice  decimal.Decimal `json:"back_run_price"`
	Slot          int64           `json:"slot"`
	Wallet        string          `json:"wallet"`
}

func (l *LiveExecutor) Execute(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	if err := l.check(req); err != nil {
		return domain.TradeResult{}, err
	}

	intent, err := json.Marshal(tradeIntent{
		PositionID:    req.PositionID,
		OpportunityID: req.Opportunity.ID,
		Pair:          req.Opportunity.Pair.Symbol,
		Amount:        req.Amount,
		FrontRunPrice: req.Opportunity.FrontRunPrice,
		BackRunPrice:  req.Opportunity.BackRunPrice,
		Slot:          req.Opportunity.Target.Slot,
		Wallet:        req.Wallet,
	})
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("live: marshal intent: %w", err)
	}
	sig, err := l.signer.SignIntent(ctx, intent)
	if err != nil {
		return domain.TradeResult{}, domain.NewRejection(req.Config.RejectionFee, "sign intent: %v", err)
	}

	res := simulate(l.rnd, req.Config.LiveSuccessRate, req)
	res.TxRef = sig
	return res, nil
}

// check runs the guards in order: profit after gas in quote currency, trade
// size, gas price ceiling, wallet and signer.
func (l *LiveExecutor) check(req domain.TradeRequest) error {
	cfg := req.Config
	fee := cfg.RejectionFee

	base := req.BasePrice
	if !base.IsPositive() {
		base = cfg.FallbackBasePrice
	}
	quoteProfit := req.Opportunity.ProfitAfterGas().Mul(base)
	if quoteProfit.LessThan(cfg.LiveMinProfitQuote) {
		return domain.NewRejection(fee, "profit after gas %s below minimum %s",
			quoteProfit.StringFixed(4), cfg.LiveMinProfitQuote.String())
	}
	if cfg.MaxTradeSize.IsPositive() && req.Amount.GreaterThan(cfg.MaxTradeSize) {
		return domain.NewRejection(fee, "trade size %s exceeds maximum %s",
			req.Amount.String(), cfg.MaxTradeSize.String())
	}
	if gas := req.Congestion.GasPrice(); cfg.MaxGasPrice > 0 && gas > cfg.MaxGasPrice {
		return domain.NewRejection(fee, "gas price %d at %s congestion exceeds maximum %d",
			gas, req.Congestion, cfg.MaxGasPrice)
	}
	if req.Wallet == "" {
		return domain.NewRejection(fee, "%v", domain.ErrWalletNotConnected)
	}
	if l.signer == nil {
		return domain.NewRejection(fee, "no signer available")
	}
	return nil
}

var (
	_ domain.TradeExecutor = (*DemoExecutor)(nil)
	_ domain.TradeExecutor = (*LiveExecutor)(nil)
)
