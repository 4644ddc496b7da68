package clickhouse

import (
	"context"
	"fmt"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/storage"
)

// ClaimEventStore implements storage.ClaimEventStore using ClickHouse.
type ClaimEventStore struct {
	conn *Conn
}

// NewClaimEventStore creates a new ClaimEventStore.
func NewClaimEventStore(conn *Conn) *ClaimEventStore {
	return &ClaimEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ClaimEventStore = (*ClaimEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if claim_id exists.
func (s *ClaimEventStore) Insert(ctx context.Context, e *domain.ClaimEvent) error {
	if e == nil || e.ClaimID == "" || e.InvestorID == "" {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would collapse a duplicate later; keep append-only semantics now.
	exists, err := s.exists(ctx, e.InvestorID, e.ClaimID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO claim_events (
			claim_id, investor_id, amount, claimed_total, vested, elapsed_sec, claimed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		e.ClaimID, e.InvestorID, e.Amount, e.ClaimedTotal, e.Vested, e.ElapsedSec, e.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("insert claim event: %w", err)
	}
	return nil
}

// GetByInvestor retrieves all events of an investor, ordered by claimed_at ASC.
func (s *ClaimEventStore) GetByInvestor(ctx context.Context, investorID string) ([]*domain.ClaimEvent, error) {
	query := `
		SELECT claim_id, investor_id, amount, claimed_total, vested, elapsed_sec, claimed_at
		FROM claim_events FINAL
		WHERE investor_id = ?
		ORDER BY claimed_at ASC, claimed_total ASC
	`

	rows, err := s.conn.Query(ctx, query, investorID)
	if err != nil {
		return nil, fmt.Errorf("query claim events: %w", err)
	}
	defer rows.Close()

	var events []*domain.ClaimEvent
	for rows.Next() {
		var e domain.ClaimEvent
		err := rows.Scan(&e.ClaimID, &e.InvestorID, &e.Amount, &e.ClaimedTotal, &e.Vested, &e.ElapsedSec, &e.ClaimedAt)
		if err != nil {
			return nil, fmt.Errorf("scan claim event row: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim event rows: %w", err)
	}

	return events, nil
}

func (s *ClaimEventStore) exists(ctx context.Context, investorID, claimID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM claim_events
		WHERE investor_id = ? AND claim_id = ?
	`, investorID, claimID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
