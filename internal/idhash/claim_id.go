// Package idhash derives deterministic record identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeClaimID computes a deterministic claim_id using SHA256.
// Formula: SHA256(investor_id|claimed_before|claimed_after)
// Claimed totals only grow, so the pair identifies one claim of an investor.
// Returns hex-encoded hash (64 characters).
func ComputeClaimID(investorID string, claimedBefore, claimedAfter uint64) string {
	data := fmt.Sprintf("%s|%d|%d", investorID, claimedBefore, claimedAfter)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
