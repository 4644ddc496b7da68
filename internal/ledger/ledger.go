// Package ledger keeps per-investor claim bookkeeping on top of the vesting
// schedule: claimable = vested - claimed, and claim advances claimed to vested.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/idhash"
	"sale-vesting-engine/internal/storage"
	"sale-vesting-engine/internal/storage/memory"
	"sale-vesting-engine/internal/vesting"
)

// Options configures a Ledger.
type Options struct {
	// Store persists entries. Defaults to an in-memory store.
	Store storage.LedgerStore

	// StartTime is the shared distribution start (Unix seconds) given to new entries.
	StartTime int64

	// OnClaim is called after each committed claim, outside the investor lock.
	OnClaim func(domain.ClaimEvent)
}

// Ledger tracks claimed amounts per investor.
// Claims for one investor are serialized in-process by a keyed mutex;
// across processes the store's compare-and-set on claimed rejects a double claim.
type Ledger struct {
	store     storage.LedgerStore
	startTime int64
	onClaim   func(domain.ClaimEvent)
	locks     keyedMutex
}

// New creates a Ledger.
func New(opts Options) *Ledger {
	store := opts.Store
	if store == nil {
		store = memory.NewLedgerStore()
	}
	return &Ledger{
		store:     store,
		startTime: opts.StartTime,
		onClaim:   opts.OnClaim,
	}
}

// StartTime returns the default distribution start.
func (l *Ledger) StartTime() int64 {
	return l.startTime
}

// SetAllocation replaces the investor's allocation basis. claimed is kept.
// Summing with a previous allocation is the caller's job.
//
// Once the investor has claimed, no round may go down: vesting is monotone in
// each round's amount, so this keeps claimed <= vested for every later time.
func (l *Ledger) SetAllocation(ctx context.Context, investorID string, alloc domain.Allocation) (*domain.LedgerEntry, error) {
	if investorID == "" {
		return nil, ErrInvalidInvestor
	}

	unlock := l.locks.lock(investorID)
	defer unlock()

	current, err := l.store.Get(ctx, investorID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("get entry: %w", err)
	case current.Claimed > 0:
		for _, round := range domain.Rounds {
			if alloc.Get(round) < current.Allocation.Get(round) {
				return nil, fmt.Errorf("%w: %s %d -> %d", ErrAllocationReduced,
					round, current.Allocation.Get(round), alloc.Get(round))
			}
		}
	}

	entry, err := l.store.PutAllocation(ctx, investorID, alloc, l.startTime)
	if err != nil {
		return nil, fmt.Errorf("put allocation: %w", err)
	}
	return entry, nil
}

// SetStartTime moves one investor's distribution start away from the shared one.
// Rejected with ErrStartTimeLocked once anything has been claimed.
func (l *Ledger) SetStartTime(ctx context.Context, investorID string, startTime int64) error {
	if investorID == "" {
		return ErrInvalidInvestor
	}

	unlock := l.locks.lock(investorID)
	defer unlock()

	err := l.store.SetStartTime(ctx, investorID, startTime)
	if errors.Is(err, storage.ErrConflict) {
		return ErrStartTimeLocked
	}
	return err
}

// Entry returns the investor's ledger entry. Returns storage.ErrNotFound if unallocated.
func (l *Ledger) Entry(ctx context.Context, investorID string) (*domain.LedgerEntry, error) {
	return l.store.Get(ctx, investorID)
}

// Vested returns the investor's vested amount at now (Unix seconds).
// Unallocated investors have vested nothing.
func (l *Ledger) Vested(ctx context.Context, investorID string, now int64) (uint64, error) {
	entry, err := l.store.Get(ctx, investorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get entry: %w", err)
	}
	return vesting.VestedAmount(entry.Allocation, now-entry.StartTime), nil
}

// Claimable returns vested minus claimed at now (Unix seconds).
// Returns 0 and ErrNothingToClaim when that is not positive.
func (l *Ledger) Claimable(ctx context.Context, investorID string, now int64) (uint64, error) {
	entry, err := l.store.Get(ctx, investorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrNothingToClaim
		}
		return 0, fmt.Errorf("get entry: %w", err)
	}

	amount, _ := claimable(entry, now)
	if amount == 0 {
		return 0, ErrNothingToClaim
	}
	return amount, nil
}

// Claim advances claimed to vested at now and returns the delta.
// Two claims at the same now: the second returns ErrNothingToClaim.
func (l *Ledger) Claim(ctx context.Context, investorID string, now int64) (uint64, error) {
	if investorID == "" {
		return 0, ErrInvalidInvestor
	}

	unlock := l.locks.lock(investorID)

	entry, err := l.store.Get(ctx, investorID)
	if err != nil {
		unlock()
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrNothingToClaim
		}
		return 0, fmt.Errorf("get entry: %w", err)
	}

	amount, vested := claimable(entry, now)
	if amount == 0 {
		unlock()
		return 0, ErrNothingToClaim
	}

	updated, err := l.store.AddClaimed(ctx, investorID, entry.Claimed, amount)
	unlock()
	if err != nil {
		// ErrConflict here means another process claimed in between.
		return 0, fmt.Errorf("add claimed: %w", err)
	}
	if updated.Claimed > vested {
		panic(fmt.Sprintf("ledger: claimed %d exceeds vested %d for %s", updated.Claimed, vested, investorID))
	}

	if l.onClaim != nil {
		l.onClaim(domain.ClaimEvent{
			ClaimID:      idhash.ComputeClaimID(investorID, entry.Claimed, updated.Claimed),
			InvestorID:   investorID,
			Amount:       amount,
			ClaimedTotal: updated.Claimed,
			Vested:       vested,
			ElapsedSec:   now - entry.StartTime,
			ClaimedAt:    now * 1000,
		})
	}

	return amount, nil
}

// claimable returns vested - claimed (0 when not positive) and vested.
// vested < claimed happens only for a now earlier than a past claim.
func claimable(entry *domain.LedgerEntry, now int64) (uint64, uint64) {
	vested := vesting.VestedAmount(entry.Allocation, now-entry.StartTime)
	if vested <= entry.Claimed {
		return 0, vested
	}
	return vested - entry.Claimed, vested
}
