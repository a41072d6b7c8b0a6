package eventlistener

import (
	"context"

	"github.com/rovshanmuradov/mempool-sniper/internal/dex/pancakeswap"
)

// PairHandler is called for every decoded PairCreated log, in log order.
type PairHandler func(ctx context.Context, pair *pancakeswap.PairCreated)

// Recorder receives notifier counters.
type Recorder interface {
	PairCreated()
}

type nopRecorder struct{}

func (nopRecorder) PairCreated() {}

const logBuffer = 256
