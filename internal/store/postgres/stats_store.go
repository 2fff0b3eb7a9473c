package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// StatsStore keeps periodic snapshots of the cumulative counters. Derived
// fields are not stored.
type StatsStore struct {
	pool *pgxpool.Pool
}

func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

func (s *StatsStore) InsertSnapshot(ctx context.Context, st domain.Stats) error {
	const query = `
		INSERT INTO stats_snapshots
			(total_opportunities, executed, successful, total_profit, total_fees, last_update)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		st.TotalOpportunities, st.Executed, st.Successful,
		st.TotalProfit, st.TotalFees, st.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert stats snapshot: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot, or domain.ErrNotFound when none exist.
func (s *StatsStore) Latest(ctx context.Context) (domain.Stats, error) {
	const query = `
		SELECT total_opportunities, executed, successful, total_profit, total_fees, last_update
		FROM stats_snapshots ORDER BY id DESC LIMIT 1`

	var st domain.Stats
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.TotalOpportunities, &st.Executed, &st.Successful,
		&st.TotalProfit, &st.TotalFees, &st.LastUpdate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Stats{}, fmt.Errorf("postgres: latest stats: %w", domain.ErrNotFound)
		}
		return domain.Stats{}, fmt.Errorf("postgres: latest stats: %w", err)
	}
	st.NetProfit = st.TotalProfit.Sub(st.TotalFees)
	return st, nil
}

var _ domain.StatsStore = (*StatsStore)(nil)
