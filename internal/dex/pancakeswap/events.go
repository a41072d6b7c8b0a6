// =============================
// File: internal/dex/pancakeswap/events.go
// =============================
package pancakeswap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PairCreatedTopic is the event signature hash of PairCreated.
func PairCreatedTopic() common.Hash {
	return FactoryABI.Events[EventPairCreated].ID
}

// ParsePairCreated decodes a factory PairCreated log.
func ParsePairCreated(log types.Log) (*PairCreated, error) {
	if len(log.Topics) != 3 || log.Topics[0] != PairCreatedTopic() {
		return nil, ErrNotPairCreated
	}

	values, err := FactoryABI.Unpack(EventPairCreated, log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack PairCreated data: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unpack PairCreated data: expected 2 values, got %d", len(values))
	}
	pair, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected pair type %T", values[0])
	}
	index, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected index type %T", values[1])
	}

	return &PairCreated{
		Token0:      common.BytesToAddress(log.Topics[1].Bytes()),
		Token1:      common.BytesToAddress(log.Topics[2].Bytes()),
		Pair:        pair,
		Index:       index,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
	}, nil
}
