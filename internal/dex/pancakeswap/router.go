// =============================
// File: internal/dex/pancakeswap/router.go
// =============================
package pancakeswap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/submission"
)

// Backend is what the router needs from a node connection.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Router binds the swap router contract and signs swaps with auth.
type Router struct {
	address  common.Address
	wrapped  common.Address
	backend  Backend
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	logger   *zap.Logger
}

var _ submission.Executor = (*Router)(nil)

// NewRouter binds the router at address. auth signs every transaction; its
// nonce is left empty so each send picks the pending nonce.
func NewRouter(address, wrapped common.Address, backend Backend, auth *bind.TransactOpts, logger *zap.Logger) *Router {
	return &Router{
		address:  address,
		wrapped:  wrapped,
		backend:  backend,
		contract: bind.NewBoundContract(address, RouterABI, backend, backend, backend),
		auth:     auth,
		logger:   logger.Named("pancakeswap-router"),
	}
}

// Address returns the router contract address.
func (r *Router) Address() common.Address {
	return r.address
}

// BuyPath returns [wrapped, token].
func (r *Router) BuyPath(token common.Address) []common.Address {
	return []common.Address{r.wrapped, token}
}

// SellPath returns [token, wrapped].
func (r *Router) SellPath(token common.Address) []common.Address {
	return []common.Address{token, r.wrapped}
}

// Send signs and broadcasts order as a fee-on-transfer tolerant swap.
func (r *Router) Send(ctx context.Context, order submission.SwapOrder) (*types.Transaction, error) {
	opts := *r.auth
	opts.Context = ctx
	opts.Nonce = nil
	opts.GasPrice = order.GasPrice
	opts.GasLimit = order.GasLimit
	opts.Value = nil

	minOut := order.MinOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	deadline := big.NewInt(order.Deadline.Unix())

	var (
		tx  *types.Transaction
		err error
	)
	switch order.Direction {
	case submission.Buy:
		opts.Value = order.AmountIn
		tx, err = r.contract.Transact(&opts, MethodBuy,
			minOut, r.BuyPath(order.Token), order.Recipient, deadline)
	case submission.Sell:
		tx, err = r.contract.Transact(&opts, MethodSell,
			order.AmountIn, minOut, r.SellPath(order.Token), order.Recipient, deadline)
	default:
		return nil, fmt.Errorf("unsupported direction %s", order.Direction)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", order.Direction, order.Token.Hex(), err)
	}

	r.logger.Debug("Swap transaction signed",
		zap.String("direction", order.Direction.String()),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()))
	return tx, nil
}

// WaitMined blocks until tx has a receipt or ctx ends.
func (r *Router) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, r.backend, tx)
}

// QuoteAmountsOut calls getAmountsOut for amountIn along path.
func (r *Router) QuoteAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, MethodGetAmountsOut, amountIn, path); err != nil {
		return nil, fmt.Errorf("getAmountsOut: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoQuote
	}
	amounts := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	if len(amounts) == 0 {
		return nil, ErrNoQuote
	}
	return amounts, nil
}

// BalanceOf reads token.balanceOf(owner).
func (r *Router) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	erc20 := bind.NewBoundContract(token, ERC20ABI, r.backend, r.backend, r.backend)
	var out []interface{}
	if err := erc20.Call(&bind.CallOpts{Context: ctx}, &out, MethodBalanceOf, owner); err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("balanceOf %s: empty result", token.Hex())
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}
