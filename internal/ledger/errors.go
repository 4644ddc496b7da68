package ledger

import "errors"

// Ledger errors. All are caller-visible conditions, not faults.
var (
	// ErrNothingToClaim is returned when vested minus claimed is not positive,
	// including for investors without an allocation.
	ErrNothingToClaim = errors.New("nothing to claim")

	// ErrInvalidInvestor is returned for an empty investor id.
	ErrInvalidInvestor = errors.New("invalid investor id")

	// ErrStartTimeLocked is returned when changing the start time of an
	// investor who has already claimed.
	ErrStartTimeLocked = errors.New("start time locked: investor has claimed")

	// ErrAllocationReduced is returned when a new allocation lowers any round
	// of an investor who has already claimed.
	ErrAllocationReduced = errors.New("allocation reduced below claimed basis")
)
