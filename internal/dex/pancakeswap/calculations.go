// =============================
// File: internal/dex/pancakeswap/calculations.go
// =============================
package pancakeswap

import (
	"math/big"
)

// DefaultSlippageDivisor gives minOut = out - out/12, about 8.3% tolerance.
const DefaultSlippageDivisor = 12

// MinOut returns quoted - quoted/divisor using integer floor division.
// A divisor below 1 disables protection and returns 0.
func MinOut(quoted *big.Int, divisor int64) *big.Int {
	if quoted == nil || quoted.Sign() <= 0 || divisor < 1 {
		return new(big.Int)
	}
	cut := new(big.Int).Quo(quoted, big.NewInt(divisor))
	return new(big.Int).Sub(quoted, cut)
}
