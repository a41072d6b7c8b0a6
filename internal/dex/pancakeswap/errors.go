// =============================
// File: internal/dex/pancakeswap/errors.go
// =============================
package pancakeswap

import (
	"errors"
	"strings"
)

var (
	// ErrNotPairCreated is returned for logs that are not factory PairCreated events.
	ErrNotPairCreated = errors.New("log is not a PairCreated event")

	// ErrEmptyBalance is returned when a sell finds nothing to sell.
	ErrEmptyBalance = errors.New("token balance is zero")

	// ErrNoQuote is returned when the router returns no output amount.
	ErrNoQuote = errors.New("router returned no quote")
)

// IsExpiredError reports a router revert caused by a passed deadline.
func IsExpiredError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "EXPIRED")
}

// IsInsufficientOutputError reports a router revert caused by minOut.
func IsInsufficientOutputError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "INSUFFICIENT_OUTPUT_AMOUNT")
}
