package memory

import (
	"context"
	"sort"
	"sync"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/storage"
)

// InvestmentStore is an in-memory implementation of storage.InvestmentStore.
type InvestmentStore struct {
	mu         sync.RWMutex
	data       map[string]*domain.InvestmentRecord // keyed by purchase_id
	byInvestor map[string][]string                 // investor_id -> purchase_ids
}

// NewInvestmentStore creates a new in-memory investment store.
func NewInvestmentStore() *InvestmentStore {
	return &InvestmentStore{
		data:       make(map[string]*domain.InvestmentRecord),
		byInvestor: make(map[string][]string),
	}
}

// Compile-time interface check.
var _ storage.InvestmentStore = (*InvestmentStore)(nil)

// Insert adds a new record. Returns ErrDuplicateKey if purchase_id exists.
func (s *InvestmentStore) Insert(_ context.Context, r *domain.InvestmentRecord) error {
	if r == nil || r.PurchaseID == "" || r.InvestorID == "" || !r.Category.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.PurchaseID]; exists {
		return storage.ErrDuplicateKey
	}

	recordCopy := *r
	s.data[r.PurchaseID] = &recordCopy
	s.byInvestor[r.InvestorID] = append(s.byInvestor[r.InvestorID], r.PurchaseID)
	return nil
}

// GetByInvestor retrieves all records of an investor, ordered by created_at ASC.
func (s *InvestmentStore) GetByInvestor(_ context.Context, investorID string) ([]*domain.InvestmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byInvestor[investorID]
	result := make([]*domain.InvestmentRecord, 0, len(ids))
	for _, id := range ids {
		recordCopy := *s.data[id]
		result = append(result, &recordCopy)
	}

	// Stable keeps insertion order for equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})

	return result, nil
}
