package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OpportunityStore is the append-only opportunity ledger.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	UpdateStatus(ctx context.Context, id string, status OpportunityStatus) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// PositionStore is the append-only position ledger. Positions are written
// once they reach a terminal stage.
type PositionStore interface {
	Insert(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
	ListBefore(ctx context.Context, before time.Time) ([]Position, error)
}

// StatsStore keeps periodic snapshots of the aggregated statistics.
type StatsStore interface {
	InsertSnapshot(ctx context.Context, s Stats) error
	Latest(ctx context.Context) (Stats, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
