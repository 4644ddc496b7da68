package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"sale-vesting-engine/internal/domain"
)

// LedgerStore provides access to ledger_entries storage.
type LedgerStore interface {
	// Get retrieves the entry of an investor. Returns ErrNotFound if not exists.
	Get(ctx context.Context, investorID string) (*domain.LedgerEntry, error)

	// PutAllocation replaces the allocation of an investor and returns the stored entry.
	// A new entry starts with claimed = 0 and the given start time.
	// An existing entry keeps its claimed amount and start time.
	PutAllocation(ctx context.Context, investorID string, alloc domain.Allocation, startTime int64) (*domain.LedgerEntry, error)

	// SetStartTime changes the distribution start of an investor.
	// Returns ErrNotFound if not exists, ErrConflict if anything has been claimed.
	SetStartTime(ctx context.Context, investorID string, startTime int64) error

	// AddClaimed sets claimed = expected + delta if the stored claimed equals expected.
	// Returns ErrConflict on mismatch, ErrNotFound if not exists.
	AddClaimed(ctx context.Context, investorID string, expected, delta uint64) (*domain.LedgerEntry, error)

	// List retrieves all entries, ordered by investor_id ASC.
	List(ctx context.Context) ([]*domain.LedgerEntry, error)
}

// InvestmentStore provides access to investments storage (append-only).
type InvestmentStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if purchase_id exists.
	Insert(ctx context.Context, r *domain.InvestmentRecord) error

	// GetByInvestor retrieves all records of an investor, ordered by created_at ASC.
	GetByInvestor(ctx context.Context, investorID string) ([]*domain.InvestmentRecord, error)
}

// PoolStore provides access to the per-round capital counters.
type PoolStore interface {
	// Get retrieves the state of a round. A round without purchases has Raised = 0.
	Get(ctx context.Context, round domain.Round) (*domain.PoolState, error)

	// Advance sets raised = expected + by if the stored raised equals expected.
	// Returns ErrConflict on mismatch, ErrInvalidInput for a negative amount.
	Advance(ctx context.Context, round domain.Round, expected, by decimal.Decimal) (*domain.PoolState, error)
}

// ClaimEventStore provides access to claim_events storage (append-only).
type ClaimEventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if claim_id exists.
	Insert(ctx context.Context, e *domain.ClaimEvent) error

	// GetByInvestor retrieves all events of an investor, ordered by claimed_at ASC.
	GetByInvestor(ctx context.Context, investorID string) ([]*domain.ClaimEvent, error)
}
