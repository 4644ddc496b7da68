package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"

	"sale-vesting-engine/internal/domain"
)

// ComputePurchaseID computes a deterministic purchase_id using SHA256.
// Formula: SHA256(investor_id|category|amount|reference)
// reference is the caller's idempotency key (payment id, request id).
// Amount is normalized so "1000" and "1000.00" hash the same.
// Returns hex-encoded hash (64 characters).
func ComputePurchaseID(
	investorID string,
	category domain.Category,
	amount decimal.Decimal,
	reference string,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s",
		investorID,
		string(category),
		amount.String(),
		reference,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
