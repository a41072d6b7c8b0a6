// =============================
// File: internal/dex/pancakeswap/types.go
// =============================
package pancakeswap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PairCreated is a decoded factory PairCreated log.
type PairCreated struct {
	Token0      common.Address
	Token1      common.Address
	Pair        common.Address
	Index       *big.Int
	BlockNumber uint64
	TxHash      common.Hash
}

// Involves reports whether token is one side of the pair.
func (p *PairCreated) Involves(token common.Address) bool {
	return p.Token0 == token || p.Token1 == token
}
