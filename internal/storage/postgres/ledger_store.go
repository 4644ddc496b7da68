package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

const ledgerColumns = `
	investor_id, seed_tokens::text, private_tokens::text, presale_tokens::text,
	claimed::text, start_time, updated_at
`

// Get retrieves the entry of an investor. Returns ErrNotFound if not exists.
func (s *LedgerStore) Get(ctx context.Context, investorID string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE investor_id = $1`

	e, err := scanLedgerEntry(s.pool.QueryRow(ctx, query, investorID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// PutAllocation upserts the allocation of an investor.
// On conflict only the allocation columns change; claimed and start_time are kept.
func (s *LedgerStore) PutAllocation(ctx context.Context, investorID string, alloc domain.Allocation, startTime int64) (*domain.LedgerEntry, error) {
	if investorID == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO ledger_entries (
			investor_id, seed_tokens, private_tokens, presale_tokens, claimed, start_time, updated_at
		) VALUES ($1, $2::numeric, $3::numeric, $4::numeric, 0, $5, $6)
		ON CONFLICT (investor_id) DO UPDATE
		SET seed_tokens = EXCLUDED.seed_tokens,
		    private_tokens = EXCLUDED.private_tokens,
		    presale_tokens = EXCLUDED.presale_tokens,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + ledgerColumns

	row := s.pool.QueryRow(ctx, query,
		investorID,
		uintText(alloc.Get(domain.RoundSeed)),
		uintText(alloc.Get(domain.RoundPrivate)),
		uintText(alloc.Get(domain.RoundPresale)),
		startTime,
		time.Now().UnixMilli(),
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		return nil, fmt.Errorf("put allocation: %w", err)
	}
	return e, nil
}

// SetStartTime changes the distribution start of an investor that has not claimed yet.
func (s *LedgerStore) SetStartTime(ctx context.Context, investorID string, startTime int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ledger_entries
		SET start_time = $2, updated_at = $3
		WHERE investor_id = $1 AND claimed = 0
	`, investorID, startTime, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set start time: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing investor from one that already claimed.
	if _, err := s.Get(ctx, investorID); err != nil {
		return err
	}
	return storage.ErrConflict
}

// AddClaimed sets claimed = expected + delta if the stored claimed equals expected.
func (s *LedgerStore) AddClaimed(ctx context.Context, investorID string, expected, delta uint64) (*domain.LedgerEntry, error) {
	query := `
		UPDATE ledger_entries
		SET claimed = claimed + $3::numeric, updated_at = $4
		WHERE investor_id = $1 AND claimed = $2::numeric
		RETURNING ` + ledgerColumns

	row := s.pool.QueryRow(ctx, query, investorID, uintText(expected), uintText(delta), time.Now().UnixMilli())
	e, err := scanLedgerEntry(row)
	if err == nil {
		return e, nil
	}
	if !isNotFoundError(err) {
		return nil, fmt.Errorf("add claimed: %w", err)
	}

	if _, err := s.Get(ctx, investorID); err != nil {
		return nil, err
	}
	return nil, storage.ErrConflict
}

// List retrieves all entries, ordered by investor_id ASC.
func (s *LedgerStore) List(ctx context.Context) ([]*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries ORDER BY investor_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	return entries, nil
}

// scanLedgerEntry scans a single row selected with ledgerColumns.
func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		e                             domain.LedgerEntry
		seed, private, presale, claim string
	)
	if err := row.Scan(&e.InvestorID, &seed, &private, &presale, &claim, &e.StartTime, &e.UpdatedAt); err != nil {
		return nil, err
	}

	for i, s := range []string{seed, private, presale} {
		v, err := parseUint(s)
		if err != nil {
			return nil, err
		}
		e.Allocation[i] = v
	}

	claimed, err := parseUint(claim)
	if err != nil {
		return nil, err
	}
	e.Claimed = claimed

	return &e, nil
}
