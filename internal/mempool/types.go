// internal/mempool/types.go
package mempool

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrDecode marks calldata that could not be decoded.
var ErrDecode = errors.New("calldata decode failed")

// Selector is the 4-byte function identifier at the start of calldata.
type Selector [4]byte

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// ParseSelector parses "0xf305d719" style selectors.
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(raw) != 8 {
		return sel, fmt.Errorf("invalid selector %q: want 4 bytes", s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return sel, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	copy(sel[:], b)
	return sel, nil
}

// DecodedCall is a router call decoded against the router ABI.
type DecodedCall struct {
	Selector Selector
	Method   string
	Args     []interface{}
}

// DecodeError reports calldata with a watched selector that the decoder
// could not parse.
type DecodeError struct {
	Selector Selector
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Selector, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
