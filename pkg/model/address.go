package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address identifies an account or contract on the host ledger.
// Canonical form is lowercase, 0x-prefixed, 40 hex characters.
type Address string

// NativeAsset is the payment-asset sentinel for the ledger's native currency.
const NativeAsset Address = "0x0000000000000000000000000000000000000000"

// ParseAddress validates s and returns its canonical form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("address %q: missing 0x prefix", s)
	}
	body := s[2:]
	if len(body) != 40 {
		return "", fmt.Errorf("address %q: expected 40 hex characters, got %d", s, len(body))
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("address %q: %w", s, err)
	}
	return Address("0x" + strings.ToLower(body)), nil
}

// MustAddress is ParseAddress for constants and tests.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) IsZero() bool {
	return a == "" || a == NativeAsset
}

func (a Address) String() string {
	return string(a)
}
