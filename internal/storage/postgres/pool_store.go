package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
// One row per round in sale_pools; a missing row means nothing raised yet.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// Get retrieves the state of a round. A round without purchases has Raised = 0.
func (s *PoolStore) Get(ctx context.Context, round domain.Round) (*domain.PoolState, error) {
	if !round.IsValid() {
		return nil, storage.ErrInvalidInput
	}

	var raised string
	state := domain.PoolState{Round: round, Raised: decimal.Zero}
	err := s.pool.QueryRow(ctx, `
		SELECT raised::text, updated_at FROM sale_pools WHERE round = $1
	`, int(round)).Scan(&raised, &state.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return &state, nil
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}

	if state.Raised, err = parseDecimal(raised); err != nil {
		return nil, err
	}
	return &state, nil
}

// Advance sets raised = expected + by if the stored raised equals expected.
// The first advance of a round inserts its row, which only matches expected = 0.
func (s *PoolStore) Advance(ctx context.Context, round domain.Round, expected, by decimal.Decimal) (*domain.PoolState, error) {
	if !round.IsValid() || by.IsNegative() {
		return nil, storage.ErrInvalidInput
	}

	var query string
	if expected.IsZero() {
		query = `
			INSERT INTO sale_pools (round, raised, updated_at)
			VALUES ($1, $3::numeric, $4)
			ON CONFLICT (round) DO UPDATE
			SET raised = sale_pools.raised + $3::numeric, updated_at = $4
			WHERE sale_pools.raised = $2::numeric
			RETURNING raised::text, updated_at
		`
	} else {
		query = `
			UPDATE sale_pools
			SET raised = raised + $3::numeric, updated_at = $4
			WHERE round = $1 AND raised = $2::numeric
			RETURNING raised::text, updated_at
		`
	}

	var raised string
	state := domain.PoolState{Round: round}
	err := s.pool.QueryRow(ctx, query, int(round), expected.String(), by.String(), time.Now().UnixMilli()).
		Scan(&raised, &state.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrConflict
		}
		return nil, fmt.Errorf("advance pool: %w", err)
	}

	if state.Raised, err = parseDecimal(raised); err != nil {
		return nil, err
	}
	return &state, nil
}
