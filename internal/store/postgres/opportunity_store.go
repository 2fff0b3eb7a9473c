package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunityCols = `id, pair, base_token, quote_token,
	estimated_profit, profit_percent, confidence, price_impact, capture_rate,
	target_amount, target_slot, target_priority,
	front_run_price, back_run_price, gas_estimate, base_price,
	status, detected_at`

// Insert adds a detected opportunity. A duplicate ID returns
// domain.ErrAlreadyExists.
func (s *OpportunityStore) Insert(ctx context.Context, o domain.Opportunity) error {
	const query = `INSERT INTO opportunities (` + opportunityCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Pair.Symbol, o.Pair.Base, o.Pair.Quote,
		o.EstimatedProfit, o.ProfitPercent, o.Confidence, o.PriceImpact, o.CaptureRate,
		o.Target.Amount, o.Target.Slot, string(o.Target.Priority),
		o.FrontRunPrice, o.BackRunPrice, o.GasEstimate, o.BasePrice,
		string(o.Status), o.DetectedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: insert opportunity %s: %w", o.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert opportunity %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus sets the status of an opportunity.
func (s *OpportunityStore) UpdateStatus(ctx context.Context, id string, status domain.OpportunityStatus) error {
	const query = `UPDATE opportunities SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update opportunity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update opportunity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns the newest opportunities first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	query, args := newListQuery(`SELECT `+opportunityCols+` FROM opportunities WHERE 1=1`).
		apply("detected_at", domain.ListOpts{Limit: limit})

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunities(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities: %w", err)
	}
	return opps, nil
}

func scanOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		var priority, status string
		if err := rows.Scan(
			&o.ID, &o.Pair.Symbol, &o.Pair.Base, &o.Pair.Quote,
			&o.EstimatedProfit, &o.ProfitPercent, &o.Confidence, &o.PriceImpact, &o.CaptureRate,
			&o.Target.Amount, &o.Target.Slot, &priority,
			&o.FrontRunPrice, &o.BackRunPrice, &o.GasEstimate, &o.BasePrice,
			&status, &o.DetectedAt,
		); err != nil {
			return nil, err
		}
		o.Target.Priority = domain.Priority(priority)
		o.Target.Timestamp = o.DetectedAt
		o.Status = domain.OpportunityStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
