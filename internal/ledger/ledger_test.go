package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/pricing"
	"sale-vesting-engine/internal/storage"
	"sale-vesting-engine/internal/storage/memory"
	"sale-vesting-engine/internal/vesting"
)

const start = int64(1700000000)

func TestLedger_EndToEndSeedScenario(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	tokens, err := pricing.PriceAndQuantity(domain.RoundSeed, decimal.NewFromInt(1000), decimal.NewFromInt(6000), false)
	require.NoError(t, err)
	require.Equal(t, uint64(12352), tokens)

	_, err = l.SetAllocation(ctx, "investor", domain.NewAllocation(tokens, 0, 0))
	require.NoError(t, err)

	// Nothing vested at the start
	amount, err := l.Claimable(ctx, "investor", start)
	assert.ErrorIs(t, err, ErrNothingToClaim)
	assert.Equal(t, uint64(0), amount)

	end := start + vesting.Duration(domain.RoundSeed)
	amount, err = l.Claimable(ctx, "investor", end)
	require.NoError(t, err)
	assert.Equal(t, tokens, amount)

	claimed, err := l.Claim(ctx, "investor", end)
	require.NoError(t, err)
	assert.Equal(t, tokens, claimed)

	entry, err := l.Entry(ctx, "investor")
	require.NoError(t, err)
	assert.Equal(t, tokens, entry.Claimed)

	_, err = l.Claimable(ctx, "investor", end)
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestLedger_ClaimIdempotentAtSameTime(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(12352, 5000, 1000))
	require.NoError(t, err)

	now := start + 86400*100
	first, err := l.Claim(ctx, "inv", now)
	require.NoError(t, err)
	assert.Positive(t, first)

	_, err = l.Claim(ctx, "inv", now)
	assert.ErrorIs(t, err, ErrNothingToClaim)

	entry, err := l.Entry(ctx, "inv")
	require.NoError(t, err)
	assert.Equal(t, first, entry.Claimed)
}

func TestLedger_RepeatedClaimsSaturate(t *testing.T) {
	ctx := context.Background()
	alloc := domain.NewAllocation(12352, 5000, 1001)
	l := New(Options{StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", alloc)
	require.NoError(t, err)

	var total uint64
	for day := int64(1); day <= 600; day += 7 {
		amount, err := l.Claim(ctx, "inv", start+day*86400)
		if err != nil {
			require.ErrorIs(t, err, ErrNothingToClaim)
			continue
		}
		total += amount
	}
	amount, err := l.Claim(ctx, "inv", start+vesting.Duration(domain.RoundSeed)*2)
	if err == nil {
		total += amount
	}

	assert.Equal(t, alloc.Total(), total)
}

func TestLedger_PresaleCliffReleasedImmediately(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(0, 0, 1000))
	require.NoError(t, err)

	amount, err := l.Claim(ctx, "inv", start+1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), amount)

	// Nothing more until the cliff ends
	_, err = l.Claim(ctx, "inv", start+vesting.Cliff()-1)
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestLedger_PresaleCliffClaimableAtStart(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(0, 0, 1000))
	require.NoError(t, err)

	amount, err := l.Claimable(ctx, "inv", start)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), amount)

	amount, err = l.Claim(ctx, "inv", start)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), amount)

	_, err = l.Claim(ctx, "inv", start)
	assert.ErrorIs(t, err, ErrNothingToClaim)

	// One second before the start still vests nothing
	_, err = l.SetAllocation(ctx, "other", domain.NewAllocation(0, 0, 1000))
	require.NoError(t, err)
	_, err = l.Claimable(ctx, "other", start-1)
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestLedger_UnallocatedInvestor(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	amount, err := l.Claimable(ctx, "ghost", start+1000)
	assert.ErrorIs(t, err, ErrNothingToClaim)
	assert.Equal(t, uint64(0), amount)

	_, err = l.Claim(ctx, "ghost", start+1000)
	assert.ErrorIs(t, err, ErrNothingToClaim)

	vested, err := l.Vested(ctx, "ghost", start+1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), vested)

	_, err = l.Entry(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedger_InvalidInvestor(t *testing.T) {
	ctx := context.Background()
	l := New(Options{})

	_, err := l.SetAllocation(ctx, "", domain.NewAllocation(1, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidInvestor)

	_, err = l.Claim(ctx, "", start)
	assert.ErrorIs(t, err, ErrInvalidInvestor)

	assert.ErrorIs(t, l.SetStartTime(ctx, "", start), ErrInvalidInvestor)
}

func TestLedger_SetAllocationReplacesAndKeepsClaimed(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(1000, 0, 0))
	require.NoError(t, err)

	end := start + vesting.Duration(domain.RoundSeed)
	_, err = l.Claim(ctx, "inv", end)
	require.NoError(t, err)

	// Not additive: the caller passes the summed basis
	entry, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(1000, 500, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), entry.Claimed)

	amount, err := l.Claimable(ctx, "inv", end)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), amount)
}

func TestLedger_SetAllocationRejectsReductionAfterClaim(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(1000, 0, 0))
	require.NoError(t, err)

	// Free to replace before any claim
	_, err = l.SetAllocation(ctx, "inv", domain.NewAllocation(800, 0, 0))
	require.NoError(t, err)

	_, err = l.Claim(ctx, "inv", start+86400*30)
	require.NoError(t, err)

	_, err = l.SetAllocation(ctx, "inv", domain.NewAllocation(700, 100, 0))
	assert.ErrorIs(t, err, ErrAllocationReduced)
}

func TestLedger_SetStartTime(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(1000, 0, 0))
	require.NoError(t, err)

	later := start + 86400
	require.NoError(t, l.SetStartTime(ctx, "inv", later))

	_, err = l.Claimable(ctx, "inv", later)
	assert.ErrorIs(t, err, ErrNothingToClaim)

	_, err = l.Claim(ctx, "inv", later+vesting.Duration(domain.RoundSeed))
	require.NoError(t, err)

	assert.ErrorIs(t, l.SetStartTime(ctx, "inv", start), ErrStartTimeLocked)
	assert.ErrorIs(t, l.SetStartTime(ctx, "ghost", start), storage.ErrNotFound)
}

func TestLedger_ClaimBeforeStart(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(1000, 1000, 1000))
	require.NoError(t, err)

	_, err = l.Claim(ctx, "inv", start-3600)
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestLedger_ConcurrentClaimsDoNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	l := New(Options{StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(12352, 0, 0))
	require.NoError(t, err)

	now := start + vesting.Duration(domain.RoundSeed)/2

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total uint64
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			amount, err := l.Claim(ctx, "inv", now)
			if err != nil {
				assert.ErrorIs(t, err, ErrNothingToClaim)
				return
			}
			mu.Lock()
			total += amount
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(6176), total)
	entry, err := l.Entry(ctx, "inv")
	require.NoError(t, err)
	assert.Equal(t, uint64(6176), entry.Claimed)
	assert.Equal(t, 0, l.locks.size())
}

func TestLedger_OnClaimHook(t *testing.T) {
	ctx := context.Background()

	var events []domain.ClaimEvent
	l := New(Options{
		Store:     memory.NewLedgerStore(),
		StartTime: start,
		OnClaim:   func(e domain.ClaimEvent) { events = append(events, e) },
	})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(12352, 0, 0))
	require.NoError(t, err)

	half := start + vesting.Duration(domain.RoundSeed)/2
	_, err = l.Claim(ctx, "inv", half)
	require.NoError(t, err)
	_, err = l.Claim(ctx, "inv", half)
	require.ErrorIs(t, err, ErrNothingToClaim)
	_, err = l.Claim(ctx, "inv", start+vesting.Duration(domain.RoundSeed))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, uint64(6176), events[0].Amount)
	assert.Equal(t, uint64(6176), events[0].ClaimedTotal)
	assert.Equal(t, uint64(6176), events[0].Vested)
	assert.Equal(t, vesting.Duration(domain.RoundSeed)/2, events[0].ElapsedSec)
	assert.Equal(t, half*1000, events[0].ClaimedAt)
	assert.Len(t, events[0].ClaimID, 64)

	assert.Equal(t, uint64(6176), events[1].Amount)
	assert.Equal(t, uint64(12352), events[1].ClaimedTotal)
	assert.NotEqual(t, events[0].ClaimID, events[1].ClaimID)
}

// conflictStore simulates another process claiming between read and write.
type conflictStore struct {
	*memory.LedgerStore
}

func (s conflictStore) AddClaimed(ctx context.Context, investorID string, expected, delta uint64) (*domain.LedgerEntry, error) {
	return nil, storage.ErrConflict
}

func TestLedger_ClaimConflictFromStore(t *testing.T) {
	ctx := context.Background()
	l := New(Options{Store: conflictStore{memory.NewLedgerStore()}, StartTime: start})

	_, err := l.SetAllocation(ctx, "inv", domain.NewAllocation(1000, 0, 0))
	require.NoError(t, err)

	_, err = l.Claim(ctx, "inv", start+vesting.Duration(domain.RoundSeed))
	assert.ErrorIs(t, err, storage.ErrConflict)
}
