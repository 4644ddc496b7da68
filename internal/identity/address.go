// Package identity validates investor identifiers. Investors are wallet
// addresses: base58-encoded 32-byte ed25519 public keys.
package identity

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AddressLength is the decoded length of a wallet address.
const AddressLength = 32

var (
	// ErrInvalidAddress is returned when an address is not base58 or has the wrong length.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrOffCurveAddress is returned for program-derived addresses, which no wallet key controls.
	ErrOffCurveAddress = errors.New("address is not an ed25519 public key")
)

// ValidateAddress checks that addr decodes to a 32-byte point on the ed25519 curve.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != AddressLength {
		return fmt.Errorf("%w: decoded length %d, want %d", ErrInvalidAddress, len(decoded), AddressLength)
	}
	if !isOnCurve(decoded) {
		return ErrOffCurveAddress
	}
	return nil
}

// EncodeAddress returns the base58 form of a 32-byte public key.
func EncodeAddress(key []byte) (string, error) {
	if len(key) != AddressLength {
		return "", fmt.Errorf("%w: key length %d, want %d", ErrInvalidAddress, len(key), AddressLength)
	}
	return base58.Encode(key), nil
}

func isOnCurve(point []byte) bool {
	if len(point) != AddressLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
