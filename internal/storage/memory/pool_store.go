package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.Mutex
	data map[domain.Round]domain.PoolState
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[domain.Round]domain.PoolState),
	}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// Get retrieves the state of a round. A round without purchases has Raised = 0.
func (s *PoolStore) Get(_ context.Context, round domain.Round) (*domain.PoolState, error) {
	if !round.IsValid() {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.data[round]
	if !exists {
		state = domain.PoolState{Round: round, Raised: decimal.Zero}
	}
	return &state, nil
}

// Advance sets raised = expected + by if the stored raised equals expected.
func (s *PoolStore) Advance(_ context.Context, round domain.Round, expected, by decimal.Decimal) (*domain.PoolState, error) {
	if !round.IsValid() || by.IsNegative() {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.data[round]
	if !exists {
		state = domain.PoolState{Round: round, Raised: decimal.Zero}
	}
	if !state.Raised.Equal(expected) {
		return nil, storage.ErrConflict
	}

	state.Raised = expected.Add(by)
	state.UpdatedAt = time.Now().UnixMilli()
	s.data[round] = state

	return &state, nil
}
