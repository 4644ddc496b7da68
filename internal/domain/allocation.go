package domain

// Allocation holds the token quantities per round for one investor.
// It is the vesting basis and is indexed by Round.
type Allocation [RoundCount]uint64

// NewAllocation builds an allocation from per-round token amounts.
func NewAllocation(seed, private, presale uint64) Allocation {
	return Allocation{seed, private, presale}
}

// Get returns the tokens allocated in a round.
func (a Allocation) Get(r Round) uint64 {
	if !r.IsValid() {
		return 0
	}
	return a[r]
}

// Total returns the tokens allocated across all rounds.
func (a Allocation) Total() uint64 {
	var total uint64
	for _, v := range a {
		total += v
	}
	return total
}

// Add returns the per-round sum of two allocations.
func (a Allocation) Add(b Allocation) Allocation {
	var out Allocation
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}
