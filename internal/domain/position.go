package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is a stage of the execution lifecycle.
type PositionStatus string

const (
	PositionPending      PositionStatus = "PENDING"
	PositionFrontRunSent PositionStatus = "FRONT_RUN_SENT"
	PositionCompleted    PositionStatus = "COMPLETED"
	PositionFailed       PositionStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s PositionStatus) Terminal() bool {
	return s == PositionCompleted || s == PositionFailed
}

// Position is a single trade attempt against one opportunity.
type Position struct {
	ID            string           `json:"id"`
	OpportunityID string           `json:"opportunity_id"`
	Pair          Pair             `json:"pair"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	ExitPrice     *decimal.Decimal `json:"exit_price,omitempty"`
	Amount        decimal.Decimal  `json:"amount"` // quote currency
	Profit        decimal.Decimal  `json:"profit"` // base currency
	Fee           decimal.Decimal  `json:"fee"`    // base currency
	NetProfit     decimal.Decimal  `json:"net_profit"`
	Success       bool             `json:"success"`
	Status        PositionStatus   `json:"status"`
	IsLive        bool             `json:"is_live"`
	IsDemo        bool             `json:"is_demo"`
	Wallet        string           `json:"wallet,omitempty"`
	FrontRunTx    string           `json:"front_run_tx,omitempty"`
	BackRunTx     string           `json:"back_run_tx,omitempty"`
	Error         string           `json:"error,omitempty"`
	OpenedAt      time.Time        `json:"opened_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

// Open reports whether the position has not reached a terminal stage.
func (p Position) Open() bool {
	return !p.Status.Terminal()
}
