package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RandomSource yields floats in [0,1). Every random draw in the scanner and
// the executors goes through one so tests can script outcomes.
type RandomSource interface {
	Float64() float64
}

// PriceSource supplies the per-tick price snapshot.
type PriceSource interface {
	PriceSnapshot(ctx context.Context, symbols []string) (PriceSnapshot, error)
}

// CongestionSource estimates current network congestion.
type CongestionSource interface {
	Congestion(ctx context.Context) (CongestionLevel, error)
}

// PriceFeed is an upstream price API.
type PriceFeed interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// TradeRequest is everything a TradeExecutor needs to resolve a position.
type TradeRequest struct {
	Opportunity Opportunity
	PositionID  string
	Amount      decimal.Decimal // quote currency
	BasePrice   decimal.Decimal
	Congestion  CongestionLevel
	Wallet      string
	Config      TradingConfig
}

// TradeResult is the executor's verdict. Profit and Fee are in base currency.
type TradeResult struct {
	Success bool
	Profit  decimal.Decimal
	Fee     decimal.Decimal
	TxRef   string
}

// TradeExecutor resolves a sandwich. A *RejectionError means the trade was
// refused before submission.
type TradeExecutor interface {
	Name() string
	Execute(ctx context.Context, req TradeRequest) (TradeResult, error)
}

// Account is a connected wallet.
type Account struct {
	Address     string          `json:"address"`
	Balance     decimal.Decimal `json:"balance"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// WalletProvider connects to a signing wallet. It never persists credentials.
type WalletProvider interface {
	Connect(ctx context.Context) (Account, error)
	Disconnect() error
	Connected() (Account, bool)
}

// TxSigner signs trade intents on behalf of a connected wallet.
type TxSigner interface {
	SignIntent(ctx context.Context, intent []byte) (string, error)
}

// Claimer guarantees at most one position per opportunity.
type Claimer interface {
	Claim(ctx context.Context, opportunityID string) (bool, error)
}

// EventSink receives engine events. Implementations must not block for long
// and must not fail the caller; errors are theirs to log.
type EventSink interface {
	OpportunitiesDetected(ctx context.Context, opps []Opportunity)
	OpportunityUpdated(ctx context.Context, opp Opportunity)
	PositionUpdated(ctx context.Context, pos Position)
	StatsUpdated(ctx context.Context, s Stats)
	Audit(ctx context.Context, event string, detail map[string]any)
}
