// internal/blockchain/evm/units.go
package evm

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	EtherDecimals = 18
	GweiDecimals  = 9
)

// ParseUnits converts a decimal string such as "0.001" into base units with
// the given number of decimals. Digits below one base unit are truncated.
func ParseUnits(value string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidAmount, value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w %q: negative", ErrInvalidAmount, value)
	}
	return d.Shift(decimals).BigInt(), nil
}

// ParseEther converts an ether string to wei.
func ParseEther(value string) (*big.Int, error) {
	return ParseUnits(value, EtherDecimals)
}

// ParseGwei converts a gwei string to wei.
func ParseGwei(value string) (*big.Int, error) {
	return ParseUnits(value, GweiDecimals)
}

// FormatUnits renders base units as a decimal string.
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}
