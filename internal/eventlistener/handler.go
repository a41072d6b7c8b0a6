// internal/eventlistener/handler.go
package eventlistener

import (
	"context"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/dex/pancakeswap"
	"github.com/rovshanmuradov/mempool-sniper/internal/logger"
)

// LogPair returns a handler that logs each new pair.
func LogPair(log *zap.Logger) PairHandler {
	return func(_ context.Context, pair *pancakeswap.PairCreated) {
		log.Info("New pair",
			zap.String("token0", pair.Token0.Hex()),
			zap.String("token1", pair.Token1.Hex()),
			zap.String("pair", pair.Pair.Hex()),
			zap.Stringer("index", pair.Index),
			zap.Uint64("block", pair.BlockNumber),
			zap.String("tx", logger.ShortHash(pair.TxHash.Hex())))
	}
}
