// internal/submission/engine.go
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/evm"
	"github.com/rovshanmuradov/mempool-sniper/internal/logger"
)

// Config controls retries, deadlines and confirmation.
type Config struct {
	Policy RetryPolicy
	// DeadlineWindow is added to the attempt time when RefreshDeadline is set.
	DeadlineWindow  time.Duration
	RefreshDeadline bool
	ConfirmTimeout  time.Duration
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Policy:          DefaultRetryPolicy(),
		DeadlineWindow:  5 * time.Minute,
		RefreshDeadline: true,
		ConfirmTimeout:  3 * time.Minute,
	}
}

// Engine submits one order at a time with bounded retries and waits for it
// to be mined.
type Engine struct {
	executor  Executor
	config    Config
	logger    *zap.Logger
	observers []Observer
	now       func() time.Time
}

// NewEngine creates an engine that sends through executor.
func NewEngine(executor Executor, config Config, logger *zap.Logger, observers ...Observer) (*Engine, error) {
	if err := config.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if config.ConfirmTimeout <= 0 {
		return nil, errors.New("confirm timeout must be positive")
	}
	if config.RefreshDeadline && config.DeadlineWindow <= 0 {
		return nil, errors.New("deadline window must be positive")
	}
	return &Engine{
		executor:  executor,
		config:    config,
		logger:    logger.Named("submission"),
		observers: observers,
		now:       time.Now,
	}, nil
}

// Submit sends order, retrying failed sends per the retry policy, and waits
// for confirmation of the first accepted send. Every failure that ends the
// order is a *FatalError.
func (e *Engine) Submit(ctx context.Context, order SwapOrder) (*Result, error) {
	if order.AmountIn == nil || order.AmountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	log := logger.WithOperation(e.logger, "submit_"+order.Direction.String()).With(
		zap.String("token", order.Token.Hex()),
		zap.String("amount_in", order.AmountIn.String()))

	e.emit(StateChange{Order: order, State: StatePending})

	maxAttempts := e.config.Policy.MaxAttempts
	var attempts uint

	send := func() (*types.Transaction, error) {
		attempts++
		current := order
		if e.config.RefreshDeadline {
			current.Deadline = e.now().Add(e.config.DeadlineWindow)
		}
		e.emit(StateChange{Order: current, State: StateAttempting, Attempt: attempts})

		tx, err := e.executor.Send(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			log.Warn("Swap attempt failed",
				zap.Uint("attempt", attempts),
				zap.Uint("max_attempts", maxAttempts),
				zap.String("kind", evm.ErrorKind(err)),
				zap.Error(err))
			if attempts < maxAttempts {
				e.emit(StateChange{Order: current, State: StateRetrying, Attempt: attempts, Err: err})
			}
			return nil, err
		}
		log.Info("Swap transaction sent",
			zap.Uint("attempt", attempts),
			zap.String("tx_hash", tx.Hash().Hex()),
			zap.Time("deadline", current.Deadline))
		return tx, nil
	}

	tx, err := backoff.Retry(ctx, send,
		backoff.WithBackOff(newRangeBackOff(e.config.Policy.MinBackoff, e.config.Policy.MaxBackoff)),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return e.fail(log, order, attempts, common.Hash{}, unwrapPermanent(err))
	}

	txHash := tx.Hash()
	log = logger.WithTransaction(log, txHash.Hex())
	log.Info("Waiting for confirmation", zap.Duration("timeout", e.config.ConfirmTimeout))

	waitCtx, cancel := context.WithTimeout(ctx, e.config.ConfirmTimeout)
	defer cancel()

	receipt, err := e.executor.WaitMined(waitCtx, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrConfirmationTimeout, e.config.ConfirmTimeout)
		}
		return e.fail(log, order, attempts, txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return e.fail(log, order, attempts, txHash, fmt.Errorf("%w in block %s", ErrReverted, receipt.BlockNumber))
	}

	log.Info("Swap confirmed",
		zap.Uint("attempts", attempts),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.Stringer("block", receipt.BlockNumber))
	e.emit(StateChange{Order: order, State: StateConfirmed, Attempt: attempts, TxHash: txHash})

	return &Result{
		State:    StateConfirmed,
		Attempts: attempts,
		TxHash:   txHash,
		Receipt:  receipt,
	}, nil
}

func (e *Engine) fail(log *zap.Logger, order SwapOrder, attempts uint, txHash common.Hash, err error) (*Result, error) {
	fatal := &FatalError{Attempts: attempts, Err: err}
	log.Error("Swap failed", zap.Uint("attempts", attempts), zap.Error(err))
	e.emit(StateChange{Order: order, State: StateFailed, Attempt: attempts, TxHash: txHash, Err: fatal})
	return &Result{State: StateFailed, Attempts: attempts, TxHash: txHash}, fatal
}

func (e *Engine) emit(change StateChange) {
	change.At = e.now()
	for _, o := range e.observers {
		o.OrderStateChanged(change)
	}
}

func unwrapPermanent(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
