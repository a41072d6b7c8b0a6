// internal/blockchain/evm/client.go
package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Client is a thin adapter over ethclient used for submission. It satisfies
// bind.ContractBackend and bind.DeployBackend through the embedded client.
type Client struct {
	*ethclient.Client
	url    string
	logger *zap.Logger
}

// Dial connects to the node RPC endpoint (http or ws).
func Dial(ctx context.Context, rpcURL string, logger *zap.Logger) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	eth, err := ethclient.DialContext(dialCtx, rpcURL)
	if err != nil {
		return nil, NewError(fmt.Errorf("dial %s: %w", rpcURL, err), "dial")
	}
	return &Client{
		Client: eth,
		url:    rpcURL,
		logger: logger.Named("evm-client"),
	}, nil
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.Client.ChainID(ctx)
	if err != nil {
		c.logger.Error("ChainID error", zap.Error(err))
		return nil, NewError(err, "eth_chainId")
	}
	return id, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.Client.SendTransaction(ctx, tx); err != nil {
		c.logger.Warn("SendTransaction error",
			zap.String("tx_hash", tx.Hash().Hex()),
			zap.String("kind", ErrorKind(err)),
			zap.Error(err))
		return NewError(err, "eth_sendRawTransaction")
	}
	c.logger.Debug("Transaction broadcast", zap.String("tx_hash", tx.Hash().Hex()))
	return nil
}

// URL returns the endpoint the client was dialled with.
func (c *Client) URL() string {
	return c.url
}
