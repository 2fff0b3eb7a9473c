package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityStatus tracks an opportunity from detection to its outcome.
type OpportunityStatus string

const (
	OpportunityDetected  OpportunityStatus = "DETECTED"
	OpportunityExecuting OpportunityStatus = "EXECUTING"
	OpportunityExecuted  OpportunityStatus = "EXECUTED"
	OpportunityExpired   OpportunityStatus = "EXPIRED"
)

// Priority is the urgency tier of the victim transaction.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Target describes the pending swap an opportunity would sandwich.
type Target struct {
	Amount    decimal.Decimal `json:"amount"` // notional, quote currency
	Slot      int64           `json:"slot"`
	Priority  Priority        `json:"priority"`
	Timestamp time.Time       `json:"timestamp"`
}

// Opportunity is a detected candidate trade. Only Status changes after
// creation.
type Opportunity struct {
	ID              string            `json:"id"`
	Pair            Pair              `json:"pair"`
	EstimatedProfit decimal.Decimal   `json:"estimated_profit"` // base currency
	ProfitPercent   decimal.Decimal   `json:"profit_percent"`
	Confidence      decimal.Decimal   `json:"confidence"`
	PriceImpact     decimal.Decimal   `json:"price_impact"` // percent
	CaptureRate     decimal.Decimal   `json:"capture_rate"`
	Target          Target            `json:"target"`
	FrontRunPrice   decimal.Decimal   `json:"front_run_price"`
	BackRunPrice    decimal.Decimal   `json:"back_run_price"`
	GasEstimate     decimal.Decimal   `json:"gas_estimate"` // base currency
	BasePrice       decimal.Decimal   `json:"base_price"`   // base token price used for conversions
	DetectedAt      time.Time         `json:"detected_at"`
	Status          OpportunityStatus `json:"status"`
}

// ProfitAfterGas is the estimated profit net of the fixed gas estimate, in
// base currency.
func (o Opportunity) ProfitAfterGas() decimal.Decimal {
	return o.EstimatedProfit.Sub(o.GasEstimate)
}

// WithStatus returns a copy of o with the given status.
func (o Opportunity) WithStatus(s OpportunityStatus) Opportunity {
	o.Status = s
	return o
}
