package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"sale-vesting-engine/internal/domain"
)

// AverageMonths returns the vesting length in months averaged over the rounds
// the investor bought into, weighted by tokens received in each round.
//
// Weighting by tokens (not capital) pulls the average toward cheaper rounds.
// Rounds with a zero amount or zero pool size are left out entirely.
// BuyMore capital counts as an investment but carries no vesting weight.
// Returns 0 when no round yields tokens.
func AverageMonths(inv domain.Investment) (float64, error) {
	if inv.IsEmpty() {
		return 0, ErrNoInvestment
	}

	presale, discounted := inv.Presale, false
	if !inv.DiscountedPresale.IsZero() {
		presale, discounted = inv.DiscountedPresale, true
	}

	parts := [domain.RoundCount]struct {
		contribution domain.Contribution
		discounted   bool
	}{
		domain.RoundSeed:    {contribution: inv.Seed},
		domain.RoundPrivate: {contribution: inv.Private},
		domain.RoundPresale: {contribution: presale, discounted: discounted},
	}

	// Summed as decimals: tokens * months can exceed uint64.
	weighted, total := decimal.Zero, decimal.Zero
	for _, round := range domain.Rounds {
		c := parts[round].contribution
		if c.Amount.IsZero() || c.PoolSize.IsZero() {
			continue
		}

		tokens, err := PriceAndQuantity(round, c.Amount, c.PoolSize, parts[round].discounted)
		if err != nil {
			return 0, fmt.Errorf("price %s contribution: %w", round, err)
		}
		if tokens == 0 {
			continue
		}

		t := decimal.NewFromUint64(tokens)
		weighted = weighted.Add(t.Mul(decimal.NewFromInt(round.VestingMonths())))
		total = total.Add(t)
	}

	if total.IsZero() {
		return 0, nil
	}
	months, _ := weighted.DivRound(total, 16).Float64()
	return months, nil
}
