// internal/bot/trade.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/evm"
	"github.com/rovshanmuradov/mempool-sniper/internal/submission"
)

// Buy spends amount (native units, config default when empty) on token,
// then exits the process with the order outcome.
func (r *Runner) Buy(ctx context.Context, token common.Address, amount string) error {
	result, err := r.buy(ctx, token, amount)
	return r.finish(ctx, submission.Buy, result, err)
}

// Sell sells amount (raw token units; config default, then the whole balance
// when empty) of token, then exits the process with the order outcome.
func (r *Runner) Sell(ctx context.Context, token common.Address, amount string) error {
	result, err := r.sell(ctx, token, amount)
	return r.finish(ctx, submission.Sell, result, err)
}

func (r *Runner) buy(ctx context.Context, token common.Address, amount string) (*submission.Result, error) {
	if amount == "" {
		amount = r.cfg.Trade.BuyAmount
	}
	amountIn, err := evm.ParseEther(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid buy amount: %w", err)
	}

	order, err := r.trader.PrepareBuy(token, amountIn)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare buy: %w", err)
	}
	r.logger.Info("Buying token",
		zap.String("token", token.Hex()),
		zap.String("amount", evm.FormatUnits(amountIn, 18)))

	return r.engine.Submit(ctx, order)
}

func (r *Runner) sell(ctx context.Context, token common.Address, amount string) (*submission.Result, error) {
	if amount == "" {
		amount = r.cfg.Trade.SellAmount
	}
	var amountIn *big.Int
	if amount != "" {
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok || v.Sign() <= 0 {
			return nil, fmt.Errorf("%w: invalid sell amount %q", evm.ErrInvalidAmount, amount)
		}
		amountIn = v
	}

	order, err := r.trader.PrepareSell(ctx, token, amountIn)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare sell: %w", err)
	}
	r.logger.Info("Selling token",
		zap.String("token", token.Hex()),
		zap.Stringer("amount", order.AmountIn),
		zap.Stringer("min_out", order.MinOut))

	return r.engine.Submit(ctx, order)
}

// finish turns an order outcome into the process exit code. Resources are
// released first since ExitFunc may not return.
func (r *Runner) finish(ctx context.Context, direction submission.Direction, result *submission.Result, err error) error {
	code := ExitSuccess
	if err != nil || result == nil || result.State != submission.StateConfirmed {
		code = ExitFailure
	}

	switch {
	case code == ExitSuccess:
		r.logger.Info("Order confirmed",
			zap.String("direction", direction.String()),
			zap.String("tx_hash", result.TxHash.Hex()),
			zap.Uint("attempts", result.Attempts))
	case errors.Is(err, context.Canceled):
		r.logger.Warn("Order cancelled", zap.String("direction", direction.String()))
	default:
		r.logger.Error("Order failed", zap.String("direction", direction.String()), zap.Error(err))
	}

	if closeErr := r.Close(context.WithoutCancel(ctx)); closeErr != nil {
		r.logger.Warn("Shutdown finished with errors", zap.Error(closeErr))
	}
	r.exit(code)
	return err
}
