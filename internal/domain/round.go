package domain

// Round identifies one of the fixed sale phases.
type Round int

const (
	RoundSeed Round = iota
	RoundPrivate
	RoundPresale
)

// RoundCount is the number of sale rounds.
const RoundCount = 3

// Rounds lists all rounds in order.
var Rounds = [RoundCount]Round{RoundSeed, RoundPrivate, RoundPresale}

// SecondsPerDay is used to convert vesting lengths to seconds.
const SecondsPerDay = 24 * 60 * 60

// DaysPerMonth is the average calendar month length (365/12 days).
const DaysPerMonth = 365.0 / 12.0

// roundVestingMonths holds the vesting length of each round in months.
// 18 / 12 / 9 months are 547.5 / 365 / 273.75 days.
var roundVestingMonths = [RoundCount]int64{18, 12, 9}

// String returns the string representation of Round.
func (r Round) String() string {
	switch r {
	case RoundSeed:
		return "seed"
	case RoundPrivate:
		return "private"
	case RoundPresale:
		return "presale"
	default:
		return "unknown"
	}
}

// IsValid checks if the round is a valid value.
func (r Round) IsValid() bool {
	return r >= RoundSeed && r <= RoundPresale
}

// VestingMonths returns the vesting length of the round in months.
func (r Round) VestingMonths() int64 {
	if !r.IsValid() {
		return 0
	}
	return roundVestingMonths[r]
}

// VestingSeconds returns the vesting length of the round in seconds.
// months * 365/12 days is exact in seconds for every round: 365*86400/12 = 2628000.
func (r Round) VestingSeconds() int64 {
	return r.VestingMonths() * 365 * SecondsPerDay / 12
}

// ParseRound converts a round name into a Round.
func ParseRound(s string) (Round, bool) {
	for _, r := range Rounds {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}
