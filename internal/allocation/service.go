// Package allocation turns purchases into ledger allocations: it prices each
// purchase on the curve, advances the round's pool counter and hands the
// investor's summed per-round tokens to the ledger.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sale-vesting-engine/internal/domain"
	"sale-vesting-engine/internal/idhash"
	"sale-vesting-engine/internal/ledger"
	"sale-vesting-engine/internal/pricing"
	"sale-vesting-engine/internal/storage"
)

const defaultMaxRetries = 3

// Purchase is one capital contribution to be priced and recorded.
type Purchase struct {
	InvestorID string
	Category   domain.Category
	Amount     decimal.Decimal
	Reference  string // caller idempotency key
	CreatedAt  int64  // ms; zero means now
}

// Result is the outcome of a recorded purchase.
type Result struct {
	Record *domain.InvestmentRecord
	Entry  *domain.LedgerEntry // nil for BuyMore
}

// Options for creating Service.
type Options struct {
	// Required
	Ledger      *ledger.Ledger
	Investments storage.InvestmentStore
	Pools       storage.PoolStore

	// Optional
	Logger     *log.Logger
	MaxRetries int                           // pool compare-and-set attempts, default 3
	OnPurchase func(domain.InvestmentRecord) // called after the record is stored
}

// Service records purchases. Purchases are serialized in-process; the pool
// compare-and-set guards against other processes.
type Service struct {
	ledger      *ledger.Ledger
	investments storage.InvestmentStore
	pools       storage.PoolStore
	logger      *log.Logger
	maxRetries  int
	onPurchase  func(domain.InvestmentRecord)

	mu sync.Mutex
}

// New creates a new Service.
func New(opts Options) *Service {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{
		ledger:      opts.Ledger,
		investments: opts.Investments,
		pools:       opts.Pools,
		logger:      opts.Logger,
		maxRetries:  maxRetries,
		onPurchase:  opts.OnPurchase,
	}
}

// Purchase prices and records a purchase, then resets the investor's ledger
// allocation to the sum of all their priced purchases.
//
// The purchase is priced at the pool size it brings the round to, so the first
// purchase into an empty round is not lost to the curve's zero-pool guard and a
// purchase that would push the round past its final boundary fails with
// pricing.ErrPoolExhausted. BuyMore is recorded as capital only.
//
// The stored InvestmentRecord.PoolSize is therefore the pool size after this
// purchase, not the snapshot taken before it.
func (s *Service) Purchase(ctx context.Context, p Purchase) (*Result, error) {
	if p.InvestorID == "" || !p.Category.IsValid() || !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: investor=%q category=%q amount=%s", ErrInvalidPurchase, p.InvestorID, p.Category, p.Amount)
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := &domain.InvestmentRecord{
		PurchaseID: idhash.ComputePurchaseID(p.InvestorID, p.Category, p.Amount, p.Reference),
		InvestorID: p.InvestorID,
		Category:   p.Category,
		Amount:     p.Amount,
		PoolSize:   decimal.Zero,
		CreatedAt:  p.CreatedAt,
	}

	history, err := s.investments.GetByInvestor(ctx, p.InvestorID)
	if err != nil {
		return nil, fmt.Errorf("get investments: %w", err)
	}
	for _, r := range history {
		if r.PurchaseID == record.PurchaseID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePurchase, record.PurchaseID)
		}
	}

	round, priced := p.Category.Round()
	if priced {
		if err := s.advancePool(ctx, round, record); err != nil {
			return nil, err
		}
	}

	if err := s.investments.Insert(ctx, record); err != nil {
		if priced {
			s.logf("purchase %s advanced %s pool by %s but was not recorded: %v",
				record.PurchaseID, round, record.Amount, err)
		}
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePurchase, record.PurchaseID)
		}
		return nil, fmt.Errorf("insert investment: %w", err)
	}
	if s.onPurchase != nil {
		s.onPurchase(*record)
	}

	result := &Result{Record: record}
	if !priced {
		s.logf("recorded %s top-up of %s for %s", p.Category, p.Amount, p.InvestorID)
		return result, nil
	}

	alloc := sumAllocation(append(history, record))
	entry, err := s.ledger.SetAllocation(ctx, p.InvestorID, alloc)
	if err != nil {
		return nil, fmt.Errorf("set allocation: %w", err)
	}
	result.Entry = entry

	s.logf("recorded %s purchase of %s for %s: %d tokens at pool %s",
		p.Category, p.Amount, p.InvestorID, record.Tokens, record.PoolSize)
	return result, nil
}

// advancePool prices the record against the current pool and moves the pool
// forward with compare-and-set, re-reading on conflict.
func (s *Service) advancePool(ctx context.Context, round domain.Round, record *domain.InvestmentRecord) error {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		state, err := s.pools.Get(ctx, round)
		if err != nil {
			return fmt.Errorf("get pool: %w", err)
		}

		poolSize := state.Raised.Add(record.Amount)
		tokens, err := pricing.PriceAndQuantity(round, record.Amount, poolSize, record.Category.Discounted())
		if err != nil {
			return fmt.Errorf("price purchase: %w", err)
		}

		_, err = s.pools.Advance(ctx, round, state.Raised, record.Amount)
		if errors.Is(err, storage.ErrConflict) {
			s.logf("pool %s changed during purchase (attempt %d/%d)", round, attempt, s.maxRetries)
			continue
		}
		if err != nil {
			return fmt.Errorf("advance pool: %w", err)
		}

		record.PoolSize = poolSize
		record.Tokens = tokens
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPoolContention, round)
}

// Investment assembles the investor's contributions per category.
// Capital is summed per category; the pool size is that of the first purchase
// in the category, which is the cheapest point the investor entered at.
func (s *Service) Investment(ctx context.Context, investorID string) (domain.Investment, error) {
	records, err := s.investments.GetByInvestor(ctx, investorID)
	if err != nil {
		return domain.Investment{}, fmt.Errorf("get investments: %w", err)
	}

	var inv domain.Investment
	for _, r := range records {
		var c *domain.Contribution
		switch r.Category {
		case domain.CategorySeed:
			c = &inv.Seed
		case domain.CategoryPrivate:
			c = &inv.Private
		case domain.CategoryPresale:
			c = &inv.Presale
		case domain.CategoryDiscountedPresale:
			c = &inv.DiscountedPresale
		case domain.CategoryBuyMore:
			inv.BuyMore = inv.BuyMore.Add(r.Amount)
			continue
		default:
			continue
		}

		if c.IsZero() {
			c.PoolSize = r.PoolSize
		}
		c.Amount = c.Amount.Add(r.Amount)
	}

	return inv, nil
}

// MaxLockMonths returns the token-weighted vesting length of the investor.
// Returns pricing.ErrNoInvestment for an investor without purchases.
func (s *Service) MaxLockMonths(ctx context.Context, investorID string) (float64, error) {
	inv, err := s.Investment(ctx, investorID)
	if err != nil {
		return 0, err
	}
	return pricing.AverageMonths(inv)
}

// sumAllocation adds the tokens of all priced records per round.
func sumAllocation(records []*domain.InvestmentRecord) domain.Allocation {
	var alloc domain.Allocation
	for _, r := range records {
		round, ok := r.Category.Round()
		if !ok {
			continue
		}
		alloc[round] += r.Tokens
	}
	return alloc
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
