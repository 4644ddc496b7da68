package pricing

import "errors"

// Pricing errors.
var (
	// ErrInvalidRound is returned for a round outside Seed, Private, Presale.
	ErrInvalidRound = errors.New("invalid round")

	// ErrInvalidInput is returned for negative capital or pool sizes.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPoolExhausted is returned when the pool size is past the final step boundary.
	// The curve is not extrapolated beyond it.
	ErrPoolExhausted = errors.New("pool exhausted: pool size beyond final step boundary")

	// ErrNoInvestment is returned when an investor has no contribution in any category.
	ErrNoInvestment = errors.New("no investment")
)
