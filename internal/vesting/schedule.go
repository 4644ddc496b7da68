// Package vesting computes how much of a per-round token allocation has
// vested after a given time since the distribution start.
package vesting

import (
	"fmt"
	"math/big"

	"sale-vesting-engine/internal/domain"
)

// cliffDivisor sets both the presale cliff length (duration / 10) and the
// amount released during it (allocation / 10).
const cliffDivisor = 10

// Duration returns the vesting duration of the round in seconds.
func Duration(round domain.Round) int64 {
	return round.VestingSeconds()
}

// Cliff returns the length of the presale initial cliff in seconds.
func Cliff() int64 {
	return Duration(domain.RoundPresale) / cliffDivisor
}

// RoundVested returns the tokens of one round vested after elapsed seconds.
//
// Seed and Private vest linearly from zero. Presale releases amount/10 for
// the whole cliff, starting at elapsed 0, then follows the same linear schedule; the cliff is a
// floor, not an addition. Every round is fully vested at its duration.
func RoundVested(round domain.Round, amount uint64, elapsed int64) uint64 {
	if amount == 0 || elapsed < 0 || !round.IsValid() {
		return 0
	}

	duration := Duration(round)
	if elapsed >= duration {
		return amount
	}

	if round == domain.RoundPresale && elapsed < Cliff() {
		return amount / cliffDivisor
	}

	return linear(amount, elapsed, duration)
}

// VestedAmount returns the total vested tokens across all rounds of alloc
// after elapsed seconds. Negative elapsed (before the start) vests nothing.
func VestedAmount(alloc domain.Allocation, elapsed int64) uint64 {
	var total uint64
	for _, round := range domain.Rounds {
		total += RoundVested(round, alloc.Get(round), elapsed)
	}
	return total
}

// linear returns amount * elapsed / duration truncated, with 0 <= elapsed < duration.
func linear(amount uint64, elapsed, duration int64) uint64 {
	// amount * elapsed can overflow uint64 for large allocations.
	vested := new(big.Int).SetUint64(amount)
	vested.Mul(vested, big.NewInt(elapsed))
	vested.Quo(vested, big.NewInt(duration))
	if !vested.IsUint64() || vested.Uint64() > amount {
		panic(fmt.Sprintf("vesting: linear %d*%d/%d exceeds amount", amount, elapsed, duration))
	}
	return vested.Uint64()
}
