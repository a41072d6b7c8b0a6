// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed = errors.New("event bus is shutting down")
	ErrBusFull   = errors.New("event channel full")
)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(event Event) error
}

type registration struct {
	id      string
	handler Handler
}

// Bus is an in-memory event bus. Asynchronous events are delivered in
// publish order by a single dispatcher goroutine, and handlers of one type
// run in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]registration
	closed   bool

	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64
	logger  *zap.Logger
}

var _ Publisher = (*Bus)(nil)

// BusStats is a point-in-time view of the bus.
type BusStats struct {
	BufferSize      int
	Pending         int
	Dropped         uint64
	HandlersPerType map[EventType]int
}

// NewBus creates a bus whose queue holds bufferSize events.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	b := &Bus{
		handlers: make(map[EventType][]registration),
		queue:    make(chan Event, bufferSize),
		done:     make(chan struct{}),
		logger:   logger.Named("event_bus"),
	}
	go b.dispatch()
	return b
}

// Subscribe registers handler for every type in eventTypes.
func (b *Bus) Subscribe(handler Handler, eventTypes ...EventType) Subscription {
	id := uuid.NewString()

	b.mu.Lock()
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], registration{id: id, handler: handler})
	}
	b.mu.Unlock()

	b.logger.Debug("Handler subscribed",
		zap.Any("event_types", eventTypes),
		zap.String("subscription_id", id))

	return &subscription{id: id, bus: b, types: eventTypes}
}

// SubscribeFunc subscribes a plain function.
func (b *Bus) SubscribeFunc(fn func(context.Context, Event) error, eventTypes ...EventType) Subscription {
	return b.Subscribe(HandlerFunc(fn), eventTypes...)
}

// Publish queues event without blocking. A full queue drops the event.
func (b *Bus) Publish(event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- event:
		return nil
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())))
		return ErrBusFull
	}
}

// PublishSync runs every handler for event on the calling goroutine and
// joins their errors.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	regs := append([]registration(nil), b.handlers[event.Type()]...)
	b.mu.RUnlock()

	var errs []error
	for _, r := range regs {
		if err := r.handler.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", r.id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

// dispatch runs until the queue is closed and empty.
func (b *Bus) dispatch() {
	defer close(b.done)
	for event := range b.queue {
		_ = b.PublishSync(context.Background(), event)
	}
}

func (b *Bus) unsubscribe(id string, eventTypes []EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range eventTypes {
		regs := b.handlers[t][:0]
		for _, r := range b.handlers[t] {
			if r.id != id {
				regs = append(regs, r)
			}
		}
		if len(regs) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = regs
		}
	}
	b.logger.Debug("Handler unsubscribed", zap.String("subscription_id", id))
}

// Shutdown rejects new events and waits until queued ones are delivered or
// ctx expires. Calling it again only waits.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
		b.logger.Info("Shutting down event bus", zap.Int("pending_events", len(b.queue)))
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Stats reports queue usage and handler counts.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[EventType]int, len(b.handlers))
	for t, regs := range b.handlers {
		counts[t] = len(regs)
	}
	return BusStats{
		BufferSize:      cap(b.queue),
		Pending:         len(b.queue),
		Dropped:         b.dropped.Load(),
		HandlersPerType: counts,
	}
}
