package eventlistener

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node/nodetest"
	"github.com/rovshanmuradov/mempool-sniper/internal/dex/pancakeswap"
	"github.com/rovshanmuradov/mempool-sniper/internal/events"
)

var (
	factory = common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73")
	wbnb    = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	token   = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
	pair    = common.HexToAddress("0x0eD7e52944161450477ee417DE9Cd3a859b14fD0")
)

func pairCreatedLog(t *testing.T, index int64, block uint64) types.Log {
	t.Helper()
	data, err := pancakeswap.FactoryABI.Events[pancakeswap.EventPairCreated].Inputs.NonIndexed().Pack(pair, big.NewInt(index))
	require.NoError(t, err)
	return types.Log{
		Address:     factory,
		Topics:      []common.Hash{pancakeswap.PairCreatedTopic(), common.BytesToHash(token.Bytes()), common.BytesToHash(wbnb.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(index)),
	}
}

type pairCounter struct {
	mu    sync.Mutex
	pairs []*pancakeswap.PairCreated
	total int
}

func (c *pairCounter) PairCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
}

func (c *pairCounter) handle(_ context.Context, p *pancakeswap.PairCreated) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs = append(c.pairs, p)
}

func (c *pairCounter) snapshot() ([]*pancakeswap.PairCreated, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*pancakeswap.PairCreated(nil), c.pairs...), c.total
}

func TestNotifierDeliversPairs(t *testing.T) {
	srv := nodetest.NewServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := node.Dial(ctx, srv.URL(), node.DefaultSessionConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer session.Close()

	bus := events.NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())
	var published sync.WaitGroup
	published.Add(2)
	bus.SubscribeFunc(func(_ context.Context, e events.Event) error {
		defer published.Done()
		created := e.(*events.PairCreatedEvent)
		assert.Equal(t, pair.Hex(), created.Pair)
		return nil
	}, events.PairCreated)

	counter := &pairCounter{}
	core, logs := observer.New(zap.InfoLevel)
	n := NewNotifier(factory, zaptest.NewLogger(t)).WithPublisher(bus).WithRecorder(counter)
	n.OnPairCreated(counter.handle)
	n.OnPairCreated(LogPair(zap.New(core)))

	done := make(chan error, 1)
	go func() { done <- n.Listen(ctx, session) }()

	var sub nodetest.Subscription
	select {
	case sub = <-srv.Subscribed():
	case <-time.After(5 * time.Second):
		t.Fatal("notifier did not subscribe")
	}
	assert.Equal(t, "logs", sub.Kind)
	require.Len(t, sub.Params, 2)
	var filter struct {
		Address []common.Address `json:"address"`
		Topics  [][]common.Hash  `json:"topics"`
	}
	require.NoError(t, json.Unmarshal(sub.Params[1], &filter))
	assert.Equal(t, []common.Address{factory}, filter.Address)
	assert.Equal(t, [][]common.Hash{{pancakeswap.PairCreatedTopic()}}, filter.Topics)

	foreign := pairCreatedLog(t, 99, 9)
	foreign.Topics[0] = common.HexToHash("0x01")

	require.NoError(t, srv.Notify(sub.ID, pairCreatedLog(t, 1, 100)))
	require.NoError(t, srv.Notify(sub.ID, foreign))
	require.NoError(t, srv.Notify(sub.ID, pairCreatedLog(t, 2, 101)))

	require.Eventually(t, func() bool {
		pairs, _ := counter.snapshot()
		return len(pairs) == 2
	}, 5*time.Second, 5*time.Millisecond)

	pairs, total := counter.snapshot()
	assert.Equal(t, 2, total)
	assert.Equal(t, int64(1), pairs[0].Index.Int64())
	assert.Equal(t, int64(2), pairs[1].Index.Int64())
	assert.Equal(t, uint64(101), pairs[1].BlockNumber)
	assert.True(t, pairs[0].Involves(token))
	assert.Equal(t, 2, logs.FilterMessage("New pair").Len())

	published.Wait()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("notifier did not stop")
	}
}

func TestNotifierSkipsRemovedLogs(t *testing.T) {
	counter := &pairCounter{}
	n := NewNotifier(factory, zaptest.NewLogger(t)).WithRecorder(counter)
	n.OnPairCreated(counter.handle)

	removed := pairCreatedLog(t, 1, 100)
	removed.Removed = true
	n.handleLog(context.Background(), removed)

	pairs, total := counter.snapshot()
	assert.Empty(t, pairs)
	assert.Zero(t, total)
}
