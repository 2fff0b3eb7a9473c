package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Rows are
// written once, when a position reaches a terminal stage.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, opportunity_id, pair, entry_price, exit_price,
	amount, profit, fee, net_profit, success, status, is_live, wallet,
	front_run_tx, back_run_tx, error, opened_at, updated_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var pair, status string

	err := row.Scan(
		&p.ID, &p.OpportunityID, &pair, &p.EntryPrice, &p.ExitPrice,
		&p.Amount, &p.Profit, &p.Fee, &p.NetProfit, &p.Success, &status, &p.IsLive, &p.Wallet,
		&p.FrontRunTx, &p.BackRunTx, &p.Error, &p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Pair, _ = domain.ParsePair(pair)
	p.Status = domain.PositionStatus(status)
	p.IsDemo = !p.IsLive
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Insert records a position. A second row for the same position or the same
// opportunity returns domain.ErrAlreadyExists.
func (s *PositionStore) Insert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (` + positionSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.OpportunityID, p.Pair.Symbol, p.EntryPrice, p.ExitPrice,
		p.Amount, p.Profit, p.Fee, p.NetProfit, p.Success, string(p.Status), p.IsLive, p.Wallet,
		p.FrontRunTx, p.BackRunTx, p.Error, p.OpenedAt, p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: insert position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a position, or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListHistory returns positions newest first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := newListQuery(`SELECT `+positionSelectCols+` FROM positions WHERE 1=1`).
		apply("opened_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListBefore returns positions opened strictly before the cutoff, oldest
// first.
func (s *PositionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE opened_at < $1 ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
