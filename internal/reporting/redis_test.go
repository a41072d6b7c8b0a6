package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/mempool-sniper/internal/events"
)

type message struct {
	channel string
	payload []byte
}

type fakeRedis struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, msg interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel, msg)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{channel: channel, payload: msg.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) snapshot() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func TestChannel(t *testing.T) {
	tests := []struct {
		prefix string
		typ    events.EventType
		want   string
		ok     bool
	}{
		{prefix: "sniper", typ: events.PairCreated, want: "sniper:pairs", ok: true},
		{prefix: "sniper", typ: events.SnipeDetected, want: "sniper:snipes", ok: true},
		{prefix: "sniper", typ: events.OrderState, want: "sniper:orders", ok: true},
		{prefix: "", typ: events.OrderState, want: "orders", ok: true},
		{prefix: "sniper", typ: events.EventType("other")},
	}
	for _, tt := range tests {
		got, ok := Channel(tt.prefix, tt.typ)
		assert.Equal(t, tt.ok, ok, tt.typ)
		assert.Equal(t, tt.want, got, tt.typ)
	}
}

func TestRedisPublisherForwardsBusEvents(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	fake := &fakeRedis{}
	p := NewRedisPublisher(fake, "sniper", zaptest.NewLogger(t))
	p.Attach(bus)

	require.NoError(t, bus.Publish(&events.SnipeDetectedEvent{
		BaseEvent: events.NewBaseEvent(events.SnipeDetected),
		Token:     "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82",
		TxHash:    "0xa1",
		Method:    "addLiquidityETH",
	}))
	require.NoError(t, bus.Publish(&events.OrderStateEvent{
		BaseEvent: events.NewBaseEvent(events.OrderState),
		Direction: "buy",
		State:     "confirmed",
		Attempt:   2,
		TxHash:    "0xb2",
	}))

	require.Eventually(t, func() bool { return len(fake.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := fake.snapshot()

	assert.Equal(t, "sniper:snipes", msgs[0].channel)
	var snipe map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].payload, &snipe))
	assert.Equal(t, "snipe.detected", snipe["type"])
	assert.Equal(t, "addLiquidityETH", snipe["method"])

	assert.Equal(t, "sniper:orders", msgs[1].channel)
	var order map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[1].payload, &order))
	assert.Equal(t, "confirmed", order["state"])
	assert.Equal(t, float64(2), order["attempt"])
	assert.NotContains(t, order, "error")

	p.Detach()
	require.NoError(t, bus.PublishSync(context.Background(), &events.PairCreatedEvent{BaseEvent: events.NewBaseEvent(events.PairCreated)}))
	assert.Len(t, fake.snapshot(), 2)
}

func TestRedisPublisherReportsErrors(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused")}
	p := NewRedisPublisher(fake, "sniper", zaptest.NewLogger(t))

	err := p.Handle(context.Background(), &events.PairCreatedEvent{BaseEvent: events.NewBaseEvent(events.PairCreated)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sniper:pairs")
}

func TestRedisPublisherLiveServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, Options{Addr: "localhost:6379", DB: 1})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	pubsub := client.Subscribe(ctx, "sniper-test:pairs")
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(client, "sniper-test", zaptest.NewLogger(t))
	require.NoError(t, p.Handle(ctx, &events.PairCreatedEvent{
		BaseEvent: events.NewBaseEvent(events.PairCreated),
		Pair:      "0x0eD7e52944161450477ee417DE9Cd3a859b14fD0",
	}))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, "0x0eD7e52944161450477ee417DE9Cd3a859b14fD0")
}
