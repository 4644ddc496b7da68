package observability

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/storage"
)

// LedgerStore wraps a storage.LedgerStore with query timing.
type LedgerStore struct {
	next     storage.LedgerStore
	metrics  *Metrics
	database string
}

// InstrumentLedgerStore returns next with every call timed under database.
func InstrumentLedgerStore(next storage.LedgerStore, m *Metrics, database string) *LedgerStore {
	return &LedgerStore{next: next, metrics: m, database: database}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

func (s *LedgerStore) observe(operation string, start time.Time, err error) {
	s.metrics.RecordDBQuery(s.database, operation, time.Since(start).Seconds(), expectedOrNil(err))
}

// Get implements storage.LedgerStore.
func (s *LedgerStore) Get(ctx context.Context, investorID string) (*domain.LedgerEntry, error) {
	start := time.Now()
	e, err := s.next.Get(ctx, investorID)
	s.observe("ledger_get", start, err)
	return e, err
}

// PutAllocation implements storage.LedgerStore.
func (s *LedgerStore) PutAllocation(ctx context.Context, investorID string, alloc domain.Allocation, startTime int64) (*domain.LedgerEntry, error) {
	start := time.Now()
	e, err := s.next.PutAllocation(ctx, investorID, alloc, startTime)
	s.observe("ledger_put_allocation", start, err)
	if err == nil {
		s.metrics.AllocationsSet.Inc()
	}
	return e, err
}

// SetStartTime implements storage.LedgerStore.
func (s *LedgerStore) SetStartTime(ctx context.Context, investorID string, startTime int64) error {
	start := time.Now()
	err := s.next.SetStartTime(ctx, investorID, startTime)
	s.observe("ledger_set_start_time", start, err)
	return err
}

// AddClaimed implements storage.LedgerStore.
func (s *LedgerStore) AddClaimed(ctx context.Context, investorID string, expected, delta uint64) (*domain.LedgerEntry, error) {
	start := time.Now()
	e, err := s.next.AddClaimed(ctx, investorID, expected, delta)
	s.observe("ledger_add_claimed", start, err)
	return e, err
}

// List implements storage.LedgerStore.
func (s *LedgerStore) List(ctx context.Context) ([]*domain.LedgerEntry, error) {
	start := time.Now()
	entries, err := s.next.List(ctx)
	s.observe("ledger_list", start, err)
	return entries, err
}

// PoolStore wraps a storage.PoolStore with query timing and the raised gauge.
type PoolStore struct {
	next     storage.PoolStore
	metrics  *Metrics
	database string
}

// InstrumentPoolStore returns next with every call timed under database.
func InstrumentPoolStore(next storage.PoolStore, m *Metrics, database string) *PoolStore {
	return &PoolStore{next: next, metrics: m, database: database}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// Get implements storage.PoolStore.
func (s *PoolStore) Get(ctx context.Context, round domain.Round) (*domain.PoolState, error) {
	start := time.Now()
	state, err := s.next.Get(ctx, round)
	s.metrics.RecordDBQuery(s.database, "pool_get", time.Since(start).Seconds(), err)
	if err == nil {
		s.metrics.SetPoolRaised(*state)
	}
	return state, err
}

// Advance implements storage.PoolStore.
func (s *PoolStore) Advance(ctx context.Context, round domain.Round, expected, by decimal.Decimal) (*domain.PoolState, error) {
	start := time.Now()
	state, err := s.next.Advance(ctx, round, expected, by)
	s.metrics.RecordDBQuery(s.database, "pool_advance", time.Since(start).Seconds(), expectedOrNil(err))
	if err == nil {
		s.metrics.SetPoolRaised(*state)
	}
	return state, err
}

// expectedOrNil hides the domain errors stores return by contract,
// so only real failures count as query errors.
func expectedOrNil(err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
		return nil
	}
	return err
}
