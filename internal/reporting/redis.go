// internal/reporting/redis.go
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mempool-sniper/internal/events"
)

const publishTimeout = 2 * time.Second

// Publisher is the subset of *redis.Client used for reporting.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Options configures the redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects to redis and checks the connection with PING.
func Dial(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// RedisPublisher forwards bus events as JSON to redis pub/sub channels.
type RedisPublisher struct {
	client Publisher
	prefix string
	logger *zap.Logger
	sub    events.Subscription
}

// NewRedisPublisher creates a publisher writing to <prefix>:<kind> channels.
func NewRedisPublisher(client Publisher, prefix string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		prefix: prefix,
		logger: logger.Named("redis_reporter"),
	}
}

// Channel returns the redis channel for an event type.
func Channel(prefix string, t events.EventType) (string, bool) {
	var kind string
	switch t {
	case events.PairCreated:
		kind = "pairs"
	case events.SnipeDetected:
		kind = "snipes"
	case events.OrderState:
		kind = "orders"
	default:
		return "", false
	}
	if prefix == "" {
		return kind, true
	}
	return prefix + ":" + kind, true
}

// Attach subscribes the publisher to every reported event type on bus.
func (p *RedisPublisher) Attach(bus *events.Bus) {
	p.sub = bus.SubscribeFunc(p.Handle, events.PairCreated, events.SnipeDetected, events.OrderState)
}

// Detach removes the bus subscription.
func (p *RedisPublisher) Detach() {
	if p.sub != nil {
		p.sub.Unsubscribe()
		p.sub = nil
	}
}

// Handle implements events.Handler.
func (p *RedisPublisher) Handle(ctx context.Context, event events.Event) error {
	channel, ok := Channel(p.prefix, event.Type())
	if !ok {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	receivers, err := p.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("channel", channel),
			zap.Error(err))
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	p.logger.Debug("Event published",
		zap.String("channel", channel),
		zap.Int64("receivers", receivers))
	return nil
}
