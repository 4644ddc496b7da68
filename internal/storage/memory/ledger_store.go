package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore.
type LedgerStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LedgerEntry // keyed by investor_id
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		data: make(map[string]*domain.LedgerEntry),
	}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// Get retrieves the entry of an investor. Returns ErrNotFound if not exists.
func (s *LedgerStore) Get(_ context.Context, investorID string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[investorID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	entryCopy := *e
	return &entryCopy, nil
}

// PutAllocation replaces the allocation of an investor, keeping claimed and start time.
func (s *LedgerStore) PutAllocation(_ context.Context, investorID string, alloc domain.Allocation, startTime int64) (*domain.LedgerEntry, error) {
	if investorID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[investorID]
	if !exists {
		e = &domain.LedgerEntry{InvestorID: investorID, StartTime: startTime}
		s.data[investorID] = e
	}
	e.Allocation = alloc
	e.UpdatedAt = time.Now().UnixMilli()

	entryCopy := *e
	return &entryCopy, nil
}

// SetStartTime changes the distribution start of an investor that has not claimed yet.
func (s *LedgerStore) SetStartTime(_ context.Context, investorID string, startTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[investorID]
	if !exists {
		return storage.ErrNotFound
	}
	if e.Claimed > 0 {
		return storage.ErrConflict
	}

	e.StartTime = startTime
	e.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// AddClaimed sets claimed = expected + delta if the stored claimed equals expected.
func (s *LedgerStore) AddClaimed(_ context.Context, investorID string, expected, delta uint64) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[investorID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if e.Claimed != expected {
		return nil, storage.ErrConflict
	}

	e.Claimed = expected + delta
	e.UpdatedAt = time.Now().UnixMilli()

	entryCopy := *e
	return &entryCopy, nil
}

// List retrieves all entries, ordered by investor_id ASC.
func (s *LedgerStore) List(_ context.Context) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.LedgerEntry, 0, len(s.data))
	for _, e := range s.data {
		entryCopy := *e
		result = append(result, &entryCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].InvestorID < result[j].InvestorID
	})

	return result, nil
}
