package domain

import "github.com/shopspring/decimal"

// Contribution is the capital put into one round and the round's pool size
// at the time of the contribution.
type Contribution struct {
	Amount   decimal.Decimal // capital contributed
	PoolSize decimal.Decimal // cumulative capital raised in the round before this contribution
}

// IsZero reports whether nothing was contributed.
func (c Contribution) IsZero() bool {
	return c.Amount.IsZero()
}

// Investment is one investor's contributions across all sale categories.
// Presale and DiscountedPresale are mutually exclusive in a calculation;
// DiscountedPresale wins when both are set.
type Investment struct {
	Seed              Contribution
	Private           Contribution
	Presale           Contribution    // public presale pricing
	DiscountedPresale Contribution    // private presale pricing
	BuyMore           decimal.Decimal // top-up capital, no vesting weight
}

// IsEmpty reports whether the investor contributed nothing in any category.
func (inv Investment) IsEmpty() bool {
	return inv.Seed.IsZero() &&
		inv.Private.IsZero() &&
		inv.Presale.IsZero() &&
		inv.DiscountedPresale.IsZero() &&
		inv.BuyMore.IsZero()
}

// Category is the purchase category of a single investment record.
type Category string

const (
	CategorySeed              Category = "SEED"
	CategoryPrivate           Category = "PRIVATE"
	CategoryPresale           Category = "PRESALE"
	CategoryDiscountedPresale Category = "DISCOUNTED_PRESALE"
	CategoryBuyMore           Category = "BUY_MORE"
)

// String returns the string representation of Category.
func (c Category) String() string {
	return string(c)
}

// IsValid checks if the category is a valid value.
func (c Category) IsValid() bool {
	switch c {
	case CategorySeed, CategoryPrivate, CategoryPresale, CategoryDiscountedPresale, CategoryBuyMore:
		return true
	}
	return false
}

// Round returns the sale round priced for this category.
// BuyMore has no round and returns false.
func (c Category) Round() (Round, bool) {
	switch c {
	case CategorySeed:
		return RoundSeed, true
	case CategoryPrivate:
		return RoundPrivate, true
	case CategoryPresale, CategoryDiscountedPresale:
		return RoundPresale, true
	}
	return 0, false
}

// Discounted reports whether the category uses the private presale price.
func (c Category) Discounted() bool {
	return c == CategoryDiscountedPresale
}

// InvestmentRecord is a single purchase processed by the allocation step.
// Corresponds to investments table in PostgreSQL.
type InvestmentRecord struct {
	PurchaseID string          // PRIMARY KEY, deterministic hash
	InvestorID string          // investor address
	Category   Category        // purchase category
	Amount     decimal.Decimal // capital contributed
	PoolSize   decimal.Decimal // round pool size after this purchase, used for pricing (zero for BuyMore)
	Tokens     uint64          // tokens priced for this purchase (zero for BuyMore)
	CreatedAt  int64           // Unix timestamp in milliseconds
}
