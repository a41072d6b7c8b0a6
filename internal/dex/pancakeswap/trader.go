// =============================
// File: internal/dex/pancakeswap/trader.go
// =============================
package pancakeswap

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/submission"
)

// Quoter is the read side of the router used to price sells.
type Quoter interface {
	QuoteAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// TraderConfig holds per-order defaults.
type TraderConfig struct {
	Wrapped         common.Address
	Recipient       common.Address
	GasPrice        *big.Int
	GasLimit        uint64
	SlippageDivisor int64
	DeadlineWindow  time.Duration
}

// Trader turns buy and sell requests into swap orders.
type Trader struct {
	quoter Quoter
	config TraderConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewTrader creates a trader.
func NewTrader(quoter Quoter, config TraderConfig, logger *zap.Logger) *Trader {
	if config.SlippageDivisor == 0 {
		config.SlippageDivisor = DefaultSlippageDivisor
	}
	return &Trader{
		quoter: quoter,
		config: config,
		logger: logger.Named("pancakeswap-trader"),
		now:    time.Now,
	}
}

// PrepareBuy spends amountIn of the native token on token. The order has no
// output floor.
func (t *Trader) PrepareBuy(token common.Address, amountIn *big.Int) (submission.SwapOrder, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return submission.SwapOrder{}, submission.ErrZeroAmount
	}
	order := t.baseOrder(submission.Buy, token)
	order.AmountIn = new(big.Int).Set(amountIn)
	order.MinOut = new(big.Int)
	t.logger.Warn("Buy order has no minimum output", zap.String("token", token.Hex()))
	return order, nil
}

// PrepareSell sells amount of token, or the whole recipient balance when
// amount is nil, with minOut derived from the current router quote.
func (t *Trader) PrepareSell(ctx context.Context, token common.Address, amount *big.Int) (submission.SwapOrder, error) {
	balance, err := t.quoter.BalanceOf(ctx, token, t.config.Recipient)
	if err != nil {
		return submission.SwapOrder{}, err
	}
	t.logger.Info("Token balance",
		zap.String("token", token.Hex()),
		zap.String("owner", t.config.Recipient.Hex()),
		zap.String("balance", balance.String()))

	if amount == nil {
		amount = balance
	}
	if amount.Sign() <= 0 {
		if balance.Sign() <= 0 {
			return submission.SwapOrder{}, ErrEmptyBalance
		}
		return submission.SwapOrder{}, submission.ErrZeroAmount
	}
	if amount.Cmp(balance) > 0 {
		t.logger.Warn("Sell amount exceeds balance",
			zap.String("amount", amount.String()),
			zap.String("balance", balance.String()))
	}

	order := t.baseOrder(submission.Sell, token)
	amounts, err := t.quoter.QuoteAmountsOut(ctx, amount, []common.Address{token, t.config.Wrapped})
	if err != nil {
		return submission.SwapOrder{}, err
	}
	quoted := amounts[len(amounts)-1]

	order.AmountIn = new(big.Int).Set(amount)
	order.MinOut = MinOut(quoted, t.config.SlippageDivisor)

	t.logger.Info("Sell quoted",
		zap.String("amount_in", order.AmountIn.String()),
		zap.String("quoted_out", quoted.String()),
		zap.String("min_out", order.MinOut.String()))
	return order, nil
}

func (t *Trader) baseOrder(direction submission.Direction, token common.Address) submission.SwapOrder {
	gasPrice := new(big.Int)
	if t.config.GasPrice != nil {
		gasPrice.Set(t.config.GasPrice)
	}
	return submission.SwapOrder{
		Direction: direction,
		Token:     token,
		Recipient: t.config.Recipient,
		Deadline:  t.now().Add(t.config.DeadlineWindow),
		GasPrice:  gasPrice,
		GasLimit:  t.config.GasLimit,
	}
}

