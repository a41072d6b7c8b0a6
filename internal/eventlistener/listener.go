// internal/eventlistener/listener.go
package eventlistener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
	"github.com/rovshanmuradov/mempool-sniper/internal/dex/pancakeswap"
	"github.com/rovshanmuradov/mempool-sniper/internal/events"
)

// Notifier streams PairCreated logs of one factory to registered handlers.
type Notifier struct {
	factory common.Address
	logger  *zap.Logger

	mu       sync.RWMutex
	handlers []PairHandler

	publisher events.Publisher
	recorder  Recorder
}

var _ node.Listener = (*Notifier)(nil)

// NewNotifier creates a notifier for factory.
func NewNotifier(factory common.Address, logger *zap.Logger) *Notifier {
	return &Notifier{
		factory:  factory,
		logger:   logger.Named("pair_notifier"),
		recorder: nopRecorder{},
	}
}

// WithPublisher publishes every pair as a PairCreatedEvent.
func (n *Notifier) WithPublisher(p events.Publisher) *Notifier {
	n.publisher = p
	return n
}

// WithRecorder sets the metrics sink.
func (n *Notifier) WithRecorder(r Recorder) *Notifier {
	if r != nil {
		n.recorder = r
	}
	return n
}

// OnPairCreated registers handler.
func (n *Notifier) OnPairCreated(handler PairHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

// Name implements node.Listener.
func (n *Notifier) Name() string {
	return "pair_notifier"
}

// Listen subscribes to the factory logs on session until ctx is cancelled.
func (n *Notifier) Listen(ctx context.Context, session *node.Session) error {
	logs := make(chan types.Log, logBuffer)
	sub, err := session.SubscribeLogs(ctx, node.LogFilter{
		Addresses: []common.Address{n.factory},
		Topics:    [][]common.Hash{{pancakeswap.PairCreatedTopic()}},
	}, logs)
	if err != nil {
		return fmt.Errorf("subscribe PairCreated logs: %w", err)
	}
	defer sub.Unsubscribe()

	n.logger.Info("Watching pair creation",
		zap.String("factory", n.factory.Hex()),
		zap.String("subscription", sub.ID()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case log := <-logs:
			n.handleLog(ctx, log)
		}
	}
}

func (n *Notifier) handleLog(ctx context.Context, log types.Log) {
	if log.Removed {
		n.logger.Debug("Ignoring removed log", zap.String("tx_hash", log.TxHash.Hex()))
		return
	}
	pair, err := pancakeswap.ParsePairCreated(log)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, pancakeswap.ErrNotPairCreated) {
			level = zap.DebugLevel
		}
		n.logger.Log(level, "Skipping undecodable factory log",
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Error(err))
		return
	}

	n.recorder.PairCreated()
	n.publish(pair)

	n.mu.RLock()
	handlers := append([]PairHandler(nil), n.handlers...)
	n.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, pair)
	}
}

func (n *Notifier) publish(pair *pancakeswap.PairCreated) {
	if n.publisher == nil {
		return
	}
	event := &events.PairCreatedEvent{
		BaseEvent:   events.NewBaseEvent(events.PairCreated),
		Token0:      pair.Token0.Hex(),
		Token1:      pair.Token1.Hex(),
		Pair:        pair.Pair.Hex(),
		Index:       pair.Index.String(),
		BlockNumber: pair.BlockNumber,
		TxHash:      pair.TxHash.Hex(),
	}
	if err := n.publisher.Publish(event); err != nil {
		n.logger.Debug("Pair event not published", zap.Error(err))
	}
}
