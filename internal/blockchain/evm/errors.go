// internal/blockchain/evm/errors.go
package evm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAmount is returned for amounts that do not parse as decimals.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Error carries the node method that failed.
type Error struct {
	Err    error
	Method string
}

func (e *Error) Error() string {
	return fmt.Sprintf("evm error [%s]: %v", e.Method, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the failing method name.
func NewError(err error, method string) error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Method: method}
}

var retryablePatterns = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"eof",
	"too many requests",
	"429",
	"502",
	"503",
	"header not found",
	"transaction underpriced",
}

var noncePatterns = []string{
	"nonce too low",
	"nonce too high",
	"already known",
	"replacement transaction underpriced",
}

// IsRetryableError reports whether err looks like a transient node or
// transport failure.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return containsAny(err, retryablePatterns) || IsNonceError(err)
}

// IsNonceError reports whether the node rejected the transaction nonce.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err, noncePatterns)
}

// ErrorKind returns a short label for metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsNonceError(err):
		return "nonce"
	case IsRetryableError(err):
		return "transient"
	default:
		return "other"
	}
}

func containsAny(err error, patterns []string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
