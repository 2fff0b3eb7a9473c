package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats is a point-in-time view of the cumulative counters plus the fields
// derived from them.
type Stats struct {
	TotalOpportunities int64           `json:"total_opportunities"`
	Executed           int64           `json:"executed_sandwiches"`
	Successful         int64           `json:"successful_sandwiches"`
	TotalProfit        decimal.Decimal `json:"total_profit"`
	TotalFees          decimal.Decimal `json:"total_gas_spent"`
	NetProfit          decimal.Decimal `json:"net_profit"`
	SuccessRate        decimal.Decimal `json:"success_rate"`
	AvgProfitPerTrade  decimal.Decimal `json:"avg_profit_per_trade"`
	LastUpdate         time.Time       `json:"last_update_time"`
}

// ScanMetrics summarises scanner activity.
type ScanMetrics struct {
	Scans          int64           `json:"scans"`
	SkippedTicks   int64           `json:"skipped_ticks"`
	FailedTicks    int64           `json:"failed_ticks"`
	LastCandidates int             `json:"last_candidates"`
	LastAdmitted   int             `json:"last_admitted"`
	Congestion     CongestionLevel `json:"congestion"`
	LastSlot       int64           `json:"last_slot"`
	LastScanAt     time.Time       `json:"last_scan_at"`
	LastError      string          `json:"last_error,omitempty"`
	OpenPositions  int             `json:"open_positions"`
}
