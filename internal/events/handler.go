// internal/events/handler.go
package events

import (
	"context"
	"sync"
)

// Handler receives events from the bus. Handlers run on the dispatcher
// goroutine and should return quickly.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id    string
	bus   *Bus
	types []EventType
	once  sync.Once
}

// Unsubscribe is safe to call more than once.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.unsubscribe(s.id, s.types) })
}
