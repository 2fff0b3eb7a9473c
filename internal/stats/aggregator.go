// Package stats keeps the cumulative trading statistics. All writes go
// through a single mutex so a completion is never interleaved with another;
// derived fields are computed from the counters on every read.
package stats

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// Aggregator is the single writer for Stats.
type Aggregator struct {
	mu          sync.RWMutex
	total       int64
	executed    int64
	successful  int64
	totalProfit decimal.Decimal
	totalFees   decimal.Decimal
	lastUpdate  time.Time
	now         func() time.Time
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{now: time.Now}
}

// WithClock overrides the clock used for the last-update timestamp.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// OnOpportunitiesScanned adds n detected opportunities. Non-positive n is a
// no-op.
func (a *Aggregator) OnOpportunitiesScanned(n int) domain.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > 0 {
		a.total += int64(n)
		a.lastUpdate = a.now()
	}
	return a.snapshotLocked()
}

// OnPositionCompleted folds one terminal position into the counters. Success
// follows the executor verdict recorded on the position, never the sign of
// its net profit.
func (a *Aggregator) OnPositionCompleted(p domain.Position) domain.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.executed++
	if p.Success && p.Status == domain.PositionCompleted {
		a.successful++
	}
	a.totalProfit = a.totalProfit.Add(p.Profit)
	a.totalFees = a.totalFees.Add(p.Fee)
	a.lastUpdate = a.now()
	return a.snapshotLocked()
}

// Snapshot returns the current counters and derived fields.
func (a *Aggregator) Snapshot() domain.Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() domain.Stats {
	s := domain.Stats{
		TotalOpportunities: a.total,
		Executed:           a.executed,
		Successful:         a.successful,
		TotalProfit:        a.totalProfit,
		TotalFees:          a.totalFees,
		NetProfit:          a.totalProfit.Sub(a.totalFees),
		SuccessRate:        decimal.Zero,
		AvgProfitPerTrade:  decimal.Zero,
		LastUpdate:         a.lastUpdate,
	}
	if a.executed > 0 {
		n := decimal.NewFromInt(a.executed)
		s.SuccessRate = decimal.NewFromInt(a.successful).Div(n).Mul(decimal.NewFromInt(100))
		s.AvgProfitPerTrade = a.totalProfit.Div(n)
	}
	return s
}
