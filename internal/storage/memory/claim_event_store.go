package memory

import (
	"context"
	"sort"
	"sync"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/storage"
)

// ClaimEventStore is an in-memory implementation of storage.ClaimEventStore.
type ClaimEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ClaimEvent // keyed by claim_id
}

// NewClaimEventStore creates a new in-memory claim event store.
func NewClaimEventStore() *ClaimEventStore {
	return &ClaimEventStore{
		data: make(map[string]*domain.ClaimEvent),
	}
}

// Compile-time interface check.
var _ storage.ClaimEventStore = (*ClaimEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if claim_id exists.
func (s *ClaimEventStore) Insert(_ context.Context, e *domain.ClaimEvent) error {
	if e == nil || e.ClaimID == "" || e.InvestorID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ClaimID]; exists {
		return storage.ErrDuplicateKey
	}

	eventCopy := *e
	s.data[e.ClaimID] = &eventCopy
	return nil
}

// GetByInvestor retrieves all events of an investor, ordered by claimed_at ASC.
func (s *ClaimEventStore) GetByInvestor(_ context.Context, investorID string) ([]*domain.ClaimEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ClaimEvent
	for _, e := range s.data {
		if e.InvestorID == investorID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ClaimedAt != result[j].ClaimedAt {
			return result[i].ClaimedAt < result[j].ClaimedAt
		}
		return result[i].ClaimedTotal < result[j].ClaimedTotal
	})

	return result, nil
}
