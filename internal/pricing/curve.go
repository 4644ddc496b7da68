// Package pricing converts raised capital into sale tokens along a stepped
// bonding curve and derives token-weighted vesting lengths.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"sale-vesting-engine/internal/domain"
)

// Curve parameters. Prices are in capital units per token.
var (
	startPrices = [domain.RoundCount]decimal.Decimal{
		decimal.RequireFromString("0.08"), // seed
		decimal.RequireFromString("0.14"), // private
		decimal.RequireFromString("0.16"), // presale (public)
	}

	// presaleDiscount is subtracted from the presale start price for private presale buyers.
	presaleDiscount = decimal.RequireFromString("0.01")

	// priceIncrement is the price change across one full step.
	priceIncrement = decimal.RequireFromString("0.004")

	// stepBoundaries are cumulative pool sizes; step i spans [boundary[i], boundary[i+1]].
	stepBoundaries = [...]decimal.Decimal{
		decimal.NewFromInt(0),
		decimal.NewFromInt(25000),
		decimal.NewFromInt(75000),
		decimal.NewFromInt(150000),
		decimal.NewFromInt(250000),
	}

	// stepWidths[i] = stepBoundaries[i+1] - stepBoundaries[i].
	stepWidths = [...]decimal.Decimal{
		decimal.NewFromInt(25000),
		decimal.NewFromInt(50000),
		decimal.NewFromInt(75000),
		decimal.NewFromInt(100000),
	}

	// fractionScale truncates the position inside a step to 4 decimal places.
	fractionScale = decimal.NewFromInt(10000)

	one = decimal.NewFromInt(1)
)

// StepCount is the number of price steps on the curve.
const StepCount = len(stepWidths)

// MaxPoolSize is the final step boundary. Prices are undefined past it.
func MaxPoolSize() decimal.Decimal {
	return stepBoundaries[StepCount]
}

// StartPrice returns the round's price at an empty pool.
func StartPrice(round domain.Round, discounted bool) (decimal.Decimal, error) {
	if !round.IsValid() {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrInvalidRound, round)
	}
	price := startPrices[round]
	if discounted && round == domain.RoundPresale {
		price = price.Sub(presaleDiscount)
	}
	return price, nil
}

// HighestPrice returns the round's price at the final step boundary.
func HighestPrice(round domain.Round, discounted bool) (decimal.Decimal, error) {
	start, err := StartPrice(round, discounted)
	if err != nil {
		return decimal.Zero, err
	}
	return start.Add(priceIncrement.Mul(decimal.NewFromInt(int64(StepCount)))), nil
}

// stepIndex returns the step the pool size has entered but not completed:
// the first boundary index whose value is >= poolSize, minus one.
// A pool exactly on a boundary belongs to the step it completes.
func stepIndex(poolSize decimal.Decimal) (int, error) {
	for i, boundary := range stepBoundaries {
		if boundary.GreaterThanOrEqual(poolSize) {
			if i == 0 {
				return 0, nil
			}
			return i - 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %s > %s", ErrPoolExhausted, poolSize, MaxPoolSize())
}

// fractionAlong returns the position of poolSize inside its step in [0, 1],
// truncated (not rounded) to 4 decimal places.
func fractionAlong(poolSize decimal.Decimal, step int) decimal.Decimal {
	along := poolSize.Sub(stepBoundaries[step])
	scaled, _ := along.Mul(fractionScale).QuoRem(stepWidths[step], 0)
	return scaled.Div(fractionScale)
}

// BuyPrice returns the effective price per token for a purchase made when
// the round's pool already holds poolSize.
//
// The price starts at the round's start price for an empty pool and rises by
// priceIncrement across each step, reaching HighestPrice at the final boundary.
// It is continuous at step boundaries.
//
// The price at the start of a step is counted from the bottom of the curve:
// step i starts at StartPrice + i*priceIncrement, written here as
// HighestPrice - (StepCount-i)*priceIncrement. The fraction along the step is
// added on top, so the price never drops as the pool grows.
func BuyPrice(round domain.Round, poolSize decimal.Decimal, discounted bool) (decimal.Decimal, error) {
	highest, err := HighestPrice(round, discounted)
	if err != nil {
		return decimal.Zero, err
	}
	if poolSize.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative pool size %s", ErrInvalidInput, poolSize)
	}

	step, err := stepIndex(poolSize)
	if err != nil {
		return decimal.Zero, err
	}

	// Price at the start of the current step.
	stepsRemaining := decimal.NewFromInt(int64(StepCount - step))
	priceAtStepStart := highest.Sub(priceIncrement.Mul(stepsRemaining))

	return priceAtStepStart.Add(priceIncrement.Mul(fractionAlong(poolSize, step))), nil
}

// PriceAndQuantity returns the number of tokens bought with invested capital
// when the round's pool held poolSizeBefore before this purchase.
//
// Returns 0 when invested or poolSizeBefore is zero. The quantity is rounded up.
// The pool size is a caller-supplied snapshot; the curve keeps no state.
func PriceAndQuantity(round domain.Round, invested, poolSizeBefore decimal.Decimal, discounted bool) (uint64, error) {
	if !round.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRound, round)
	}
	if invested.IsNegative() {
		return 0, fmt.Errorf("%w: negative investment %s", ErrInvalidInput, invested)
	}
	if invested.IsZero() || poolSizeBefore.IsZero() {
		return 0, nil
	}

	price, err := BuyPrice(round, poolSizeBefore, discounted)
	if err != nil {
		return 0, err
	}

	quantity, remainder := invested.QuoRem(price, 0)
	if remainder.IsPositive() {
		quantity = quantity.Add(one)
	}

	tokens := quantity.BigInt()
	if !tokens.IsUint64() {
		return 0, fmt.Errorf("%w: token quantity %s overflows", ErrInvalidInput, tokens)
	}
	return tokens.Uint64(), nil
}
