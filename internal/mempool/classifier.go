// internal/mempool/classifier.go
package mempool

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
)

// Classifier picks liquidity calls to the router out of the pending stream.
type Classifier struct {
	router    common.Address
	selectors map[Selector]struct{}
	decoder   Decoder
	logger    *zap.Logger
}

// NewClassifier watches calls to router whose selector is in selectors.
func NewClassifier(router common.Address, selectors []Selector, decoder Decoder, logger *zap.Logger) *Classifier {
	set := make(map[Selector]struct{}, len(selectors))
	for _, s := range selectors {
		set[s] = struct{}{}
	}
	if decoder == nil {
		decoder = NewABIDecoder(nil)
	}
	return &Classifier{
		router:    router,
		selectors: set,
		decoder:   decoder,
		logger:    logger.Named("classifier"),
	}
}

// Classify returns nil, nil for transactions that are not watched router
// calls. The decoder only runs for watched calls; its failures come back as
// *DecodeError.
func (c *Classifier) Classify(tx *node.PendingTransaction) (*DecodedCall, error) {
	if tx == nil || tx.To == nil || *tx.To != c.router {
		return nil, nil
	}
	if len(tx.Data) < 4 {
		return nil, nil
	}

	var sel Selector
	copy(sel[:], tx.Data[:4])
	if _, ok := c.selectors[sel]; !ok {
		return nil, nil
	}

	call, err := c.decoder.Decode(tx.Data)
	if err != nil {
		return nil, &DecodeError{Selector: sel, Err: err}
	}

	c.logger.Debug("Liquidity call detected",
		zap.String("tx_hash", tx.Hash.Hex()),
		zap.String("method", call.Method),
		zap.Stringer("selector", sel))
	return call, nil
}

// Router returns the watched router address.
func (c *Classifier) Router() common.Address {
	return c.router
}
