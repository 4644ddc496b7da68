package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/storage"
)

// InvestmentStore implements storage.InvestmentStore using PostgreSQL.
type InvestmentStore struct {
	pool *Pool
}

// NewInvestmentStore creates a new InvestmentStore.
func NewInvestmentStore(pool *Pool) *InvestmentStore {
	return &InvestmentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.InvestmentStore = (*InvestmentStore)(nil)

// Insert adds a new record. Returns ErrDuplicateKey if purchase_id exists.
func (s *InvestmentStore) Insert(ctx context.Context, r *domain.InvestmentRecord) error {
	if r == nil || r.PurchaseID == "" || r.InvestorID == "" || !r.Category.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO investments (
			purchase_id, investor_id, category, amount, pool_size, tokens, created_at
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		r.PurchaseID,
		r.InvestorID,
		string(r.Category),
		r.Amount.String(),
		r.PoolSize.String(),
		uintText(r.Tokens),
		r.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert investment: %w", err)
	}
	return nil
}

// GetByInvestor retrieves all records of an investor, ordered by created_at ASC.
func (s *InvestmentStore) GetByInvestor(ctx context.Context, investorID string) ([]*domain.InvestmentRecord, error) {
	query := `
		SELECT purchase_id, investor_id, category, amount::text, pool_size::text, tokens::text, created_at
		FROM investments
		WHERE investor_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.pool.Query(ctx, query, investorID)
	if err != nil {
		return nil, fmt.Errorf("query investments by investor: %w", err)
	}
	defer rows.Close()

	var records []*domain.InvestmentRecord
	for rows.Next() {
		r, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan investment: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investments: %w", err)
	}

	return records, nil
}

func scanInvestment(row pgx.Row) (*domain.InvestmentRecord, error) {
	var (
		r                    domain.InvestmentRecord
		category             string
		amount, pool, tokens string
	)
	if err := row.Scan(&r.PurchaseID, &r.InvestorID, &category, &amount, &pool, &tokens, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Category = domain.Category(category)

	var err error
	if r.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if r.PoolSize, err = parseDecimal(pool); err != nil {
		return nil, err
	}
	if r.Tokens, err = parseUint(tokens); err != nil {
		return nil, err
	}

	return &r, nil
}
