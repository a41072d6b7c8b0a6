// internal/bot/events.go
package bot

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/events"
	"github.com/rovshanmuradov/mempool-sniper/internal/submission"
)

// orderReporter republishes submission state changes on the bus.
type orderReporter struct {
	publisher events.Publisher
	logger    *zap.Logger
}

var _ submission.Observer = (*orderReporter)(nil)

func newOrderReporter(publisher events.Publisher, logger *zap.Logger) *orderReporter {
	return &orderReporter{publisher: publisher, logger: logger}
}

func (o *orderReporter) OrderStateChanged(change submission.StateChange) {
	event := &events.OrderStateEvent{
		BaseEvent: events.NewBaseEvent(events.OrderState),
		Direction: change.Order.Direction.String(),
		Token:     change.Order.Token.Hex(),
		State:     change.State.String(),
		Attempt:   change.Attempt,
	}
	if !change.At.IsZero() {
		event.EventTime = change.At
	}
	if change.TxHash != (common.Hash{}) {
		event.TxHash = change.TxHash.Hex()
	}
	if change.Err != nil {
		event.Error = change.Err.Error()
	}
	if err := o.publisher.Publish(event); err != nil {
		o.logger.Debug("Order event not published", zap.Error(err))
	}
}
