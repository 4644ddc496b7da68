package domain

import "github.com/shopspring/decimal"

// LedgerEntry is the claim bookkeeping of one investor.
// Corresponds to ledger_entries table in PostgreSQL.
type LedgerEntry struct {
	InvestorID string     // PRIMARY KEY, investor address
	Allocation Allocation // vesting basis per round
	Claimed    uint64     // tokens already claimed
	StartTime  int64      // distribution start, Unix seconds
	UpdatedAt  int64      // last modification (ms)
}

// ClaimEvent records one successful claim.
// Corresponds to claim_events table in ClickHouse.
type ClaimEvent struct {
	ClaimID      string // deterministic hash
	InvestorID   string // investor address
	Amount       uint64 // tokens claimed by this call
	ClaimedTotal uint64 // claimed after this call
	Vested       uint64 // vested at claim time
	ElapsedSec   int64  // seconds since distribution start
	ClaimedAt    int64  // Unix timestamp in milliseconds
}

// PoolState is the running capital counter of one round.
type PoolState struct {
	Round     Round
	Raised    decimal.Decimal // capital raised so far, never negative
	UpdatedAt int64           // ms
}
