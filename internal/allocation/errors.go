package allocation

import "errors"

var (
	// ErrInvalidPurchase is returned for an empty investor, unknown category or non-positive amount.
	ErrInvalidPurchase = errors.New("invalid purchase")

	// ErrDuplicatePurchase is returned when a purchase with the same id was already recorded.
	ErrDuplicatePurchase = errors.New("duplicate purchase")

	// ErrPoolContention is returned when the pool counter kept changing under retries.
	ErrPoolContention = errors.New("pool contention: retries exhausted")
)
