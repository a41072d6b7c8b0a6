package sniping

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node/nodetest"
	"github.com/rovshanmuradov/mempool-sniper/internal/dex/pancakeswap"
	"github.com/rovshanmuradov/mempool-sniper/internal/events"
	"github.com/rovshanmuradov/mempool-sniper/internal/mempool"
)

var router = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")

type countingRecorder struct {
	pending, classified, decodeFailed, intents, duplicates atomic.Int64
}

func (r *countingRecorder) PendingSeen() { r.pending.Add(1) }
func (r *countingRecorder) Classified(string) { r.classified.Add(1) }
func (r *countingRecorder) DecodeFailed() { r.decodeFailed.Add(1) }
func (r *countingRecorder) IntentDetected() { r.intents.Add(1) }
func (r *countingRecorder) DuplicateIntent() { r.duplicates.Add(1) }

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type mempoolFixture struct {
	mu     sync.Mutex
	bodies map[common.Hash]map[string]interface{}
}

func (f *mempoolFixture) add(hash common.Hash, to common.Address, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[hash] = map[string]interface{}{
		"hash":  hash,
		"from":  common.HexToAddress("0x01"),
		"to":    to,
		"input": hexutil.Bytes(data),
		"value": "0x0",
	}
}

func (f *mempoolFixture) handle(params []json.RawMessage) (interface{}, error) {
	var hash common.Hash
	if err := json.Unmarshal(params[0], &hash); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.bodies[hash]
	if !ok {
		return nil, nil
	}
	return body, nil
}

func liquidityData(t *testing.T, token common.Address) []byte {
	t.Helper()
	data, err := pancakeswap.RouterABI.Pack(pancakeswap.MethodAddLiquidityETH,
		token, big.NewInt(1e18), big.NewInt(0), big.NewInt(0), other, big.NewInt(1_700_000_000))
	require.NoError(t, err)
	return data
}

func newTestSniper(t *testing.T, cfg Config) *Sniper {
	t.Helper()
	selector, err := mempool.ParseSelector("0xf305d719")
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	classifier := mempool.NewClassifier(router, []mempool.Selector{selector}, mempool.NewABIDecoder(nil), logger)
	return NewSniper(classifier, NewTrigger(target, time.Minute, logger), cfg, logger)
}

func startListening(t *testing.T, srv *nodetest.Server, s *Sniper) nodetest.Subscription {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	session, err := node.Dial(ctx, srv.URL(), node.DefaultSessionConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Listen(ctx, session) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop")
		}
		_ = session.Close()
	})

	select {
	case sub := <-srv.Subscribed():
		require.Equal(t, "newPendingTransactions", sub.Kind)
		return sub
	case <-time.After(5 * time.Second):
		t.Fatal("sniper did not subscribe")
		return nodetest.Subscription{}
	}
}

func TestSniperPipeline(t *testing.T) {
	srv := nodetest.NewServer(t)
	fixture := &mempoolFixture{bodies: make(map[common.Hash]map[string]interface{})}
	srv.Handle("eth_getTransactionByHash", fixture.handle)

	hit := common.HexToHash("0xa1")
	secondHit := common.HexToHash("0xa2")
	otherToken := common.HexToHash("0xb1")
	otherRouter := common.HexToHash("0xb2")
	broken := common.HexToHash("0xb3")
	unknown := common.HexToHash("0xb4")

	fixture.add(hit, router, liquidityData(t, target))
	fixture.add(secondHit, router, liquidityData(t, target))
	fixture.add(otherToken, router, liquidityData(t, other))
	fixture.add(otherRouter, other, liquidityData(t, target))
	fixture.add(broken, router, liquidityData(t, target)[:40])

	cfg := DefaultConfig()
	cfg.Workers = 4
	s := newTestSniper(t, cfg)

	recorder := &countingRecorder{}
	publisher := &capturePublisher{}
	var handled []*SnipeIntent
	var mu sync.Mutex
	s.WithRecorder(recorder).WithPublisher(publisher)
	s.OnIntent(func(_ context.Context, intent *SnipeIntent) {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, intent)
	})

	sub := startListening(t, srv, s)
	for _, h := range []common.Hash{hit, hit, otherToken, otherRouter, broken, unknown, secondHit} {
		require.NoError(t, srv.Notify(sub.ID, h))
	}

	// two hits, one duplicate and one other-token call reach the trigger
	require.Eventually(t, func() bool {
		return recorder.pending.Load() == 7 &&
			recorder.classified.Load() == 4 &&
			recorder.intents.Load() == 2 &&
			recorder.duplicates.Load() == 1 &&
			recorder.decodeFailed.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, publisher.count())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handled, 1, "only the first intent is handled")
	assert.Equal(t, target, handled[0].Token)
}

func TestSniperDryRunHandlesEveryIntent(t *testing.T) {
	srv := nodetest.NewServer(t)
	fixture := &mempoolFixture{bodies: make(map[common.Hash]map[string]interface{})}
	srv.Handle("eth_getTransactionByHash", fixture.handle)

	hashes := []common.Hash{common.HexToHash("0xc1"), common.HexToHash("0xc2"), common.HexToHash("0xc3")}
	for _, h := range hashes {
		fixture.add(h, router, liquidityData(t, target))
	}

	cfg := DefaultConfig()
	cfg.Once = false
	cfg.DryRun = true
	s := newTestSniper(t, cfg)

	var calls atomic.Int64
	s.OnIntent(func(context.Context, *SnipeIntent) { calls.Add(1) })
	publisher := &capturePublisher{}
	s.WithPublisher(publisher)

	sub := startListening(t, srv, s)
	for _, h := range hashes {
		require.NoError(t, srv.Notify(sub.ID, h))
	}

	require.Eventually(t, func() bool { return calls.Load() == 3 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return publisher.count() == 3 }, 5*time.Second, 5*time.Millisecond)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	event, ok := publisher.events[0].(*events.SnipeDetectedEvent)
	require.True(t, ok)
	assert.True(t, event.DryRun)
	assert.Equal(t, target.Hex(), event.Token)
	assert.Equal(t, events.SnipeDetected, event.Type())
}

func TestSniperSubscribeFailure(t *testing.T) {
	srv := nodetest.NewServer(t)
	s := newTestSniper(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	session, err := node.Dial(ctx, srv.URL(), node.DefaultSessionConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	session.Terminate()
	<-session.Done()
	cancel()

	err = s.Listen(context.Background(), session)
	assert.Error(t, err)
}
