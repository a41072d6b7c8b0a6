// internal/submission/types.go
package submission

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrConfirmationTimeout is returned when a sent transaction is not mined in time.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrReverted is returned when the transaction was mined with a failed status.
	ErrReverted = errors.New("transaction reverted")

	// ErrZeroAmount rejects orders that would swap nothing.
	ErrZeroAmount = errors.New("swap amount must be positive")
)

// Direction of a swap relative to the native token.
type Direction int

const (
	Buy Direction = iota
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// SwapOrder is one swap to submit through the router.
type SwapOrder struct {
	Direction Direction
	Token     common.Address
	Recipient common.Address
	AmountIn  *big.Int
	MinOut    *big.Int
	Deadline  time.Time
	GasPrice  *big.Int
	GasLimit  uint64
}

// State of an order inside the engine.
type State int

const (
	StatePending State = iota
	StateAttempting
	StateRetrying
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can follow.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// RetryPolicy bounds send attempts.
type RetryPolicy struct {
	MaxAttempts uint
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns 5 attempts spaced 10 to 15 seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinBackoff:  10 * time.Second,
		MaxBackoff:  15 * time.Second,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if p.MinBackoff < 0 || p.MaxBackoff < p.MinBackoff {
		return fmt.Errorf("invalid backoff range [%s, %s]", p.MinBackoff, p.MaxBackoff)
	}
	return nil
}

// Result describes a finished order.
type Result struct {
	State    State
	Attempts uint
	TxHash   common.Hash
	Receipt  *types.Receipt
}

// FatalError ends an order: either attempts ran out or the sent transaction
// did not confirm successfully.
type FatalError struct {
	Attempts uint
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("order failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Executor sends orders and waits for them to be mined.
type Executor interface {
	Send(ctx context.Context, order SwapOrder) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// StateChange is emitted on every order transition.
type StateChange struct {
	Order   SwapOrder
	State   State
	Attempt uint
	TxHash  common.Hash
	Err     error
	At      time.Time
}

// Observer receives order transitions.
type Observer interface {
	OrderStateChanged(StateChange)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(StateChange)

func (f ObserverFunc) OrderStateChanged(c StateChange) { f(c) }
