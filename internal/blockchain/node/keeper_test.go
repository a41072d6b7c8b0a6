package node_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node/nodetest"
)

type countingListener struct {
	sessions atomic.Int64
	fail     error
}

func (l *countingListener) Name() string { return "counting" }

func (l *countingListener) Listen(ctx context.Context, s *node.Session) error {
	l.sessions.Add(1)
	if l.fail != nil {
		return l.fail
	}
	<-ctx.Done()
	return ctx.Err()
}

type recordingObserver struct {
	mu        sync.Mutex
	timeouts  int
	reconnect int
	states    []bool
}

func (o *recordingObserver) ConnectionChanged(c bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, c)
}

func (o *recordingObserver) Reconnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnect++
}

func (o *recordingObserver) LivenessTimeout() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeouts++
}

func (o *recordingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timeouts, o.reconnect
}

func testKeeperConfig(url string) node.KeeperConfig {
	cfg := node.DefaultKeeperConfig(url)
	cfg.KeepAliveInterval = 20 * time.Millisecond
	cfg.PongTimeout = 80 * time.Millisecond
	cfg.ReconnectInitial = 5 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond
	cfg.FlapRate = 100
	cfg.FlapBurst = 10
	return cfg
}

func runKeeper(t *testing.T, k *node.Keeper) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("keeper did not stop")
		}
	})
	return cancel, errCh
}

func TestKeeperHealthySessionNeverReconnects(t *testing.T) {
	srv := nodetest.NewServer(t)
	listener := &countingListener{}
	observer := &recordingObserver{}

	k := node.NewKeeper(testKeeperConfig(srv.URL()), zaptest.NewLogger(t)).WithObserver(observer)
	k.Attach(listener)
	runKeeper(t, k)

	// ten keep-alive intervals, several pong timeouts
	time.Sleep(400 * time.Millisecond)

	health := k.Health()
	assert.True(t, health.Connected)
	assert.False(t, health.LastPong.IsZero(), "pongs were recorded")
	assert.Equal(t, uint64(0), health.Reconnects)
	assert.Equal(t, 1, srv.Connections())
	assert.Equal(t, int64(1), listener.sessions.Load())

	timeouts, reconnects := observer.counts()
	assert.Zero(t, timeouts)
	assert.Zero(t, reconnects)
}

func TestKeeperLivenessTimeoutReconnectsOnce(t *testing.T) {
	srv := nodetest.NewServer(t)
	// first connection swallows pings, the replacement answers them
	srv.SetPong(func(index int) bool { return index > 0 })

	listener := &countingListener{}
	observer := &recordingObserver{}

	k := node.NewKeeper(testKeeperConfig(srv.URL()), zaptest.NewLogger(t)).WithObserver(observer)
	k.Attach(listener)
	runKeeper(t, k)

	require.Eventually(t, func() bool {
		return srv.Connections() == 2 && k.Health().Connected
	}, 5*time.Second, 10*time.Millisecond)

	// the replacement session stays up
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, 2, srv.Connections())
	assert.Equal(t, uint64(1), k.Health().Reconnects)
	assert.Equal(t, int64(2), listener.sessions.Load())

	timeouts, reconnects := observer.counts()
	assert.Equal(t, 1, timeouts)
	assert.Equal(t, 1, reconnects)
}

func TestKeeperReconnectsWhenServerDrops(t *testing.T) {
	srv := nodetest.NewServer(t)
	listener := &countingListener{}

	k := node.NewKeeper(testKeeperConfig(srv.URL()), zaptest.NewLogger(t))
	k.Attach(listener)
	runKeeper(t, k)

	require.Eventually(t, func() bool { return listener.sessions.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	srv.DropConnections()

	require.Eventually(t, func() bool {
		return listener.sessions.Load() == 2 && srv.Connections() == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), k.Health().Reconnects)
}

func TestKeeperFailingListenerForcesNewSession(t *testing.T) {
	srv := nodetest.NewServer(t)
	listener := &countingListener{fail: errors.New("subscribe rejected")}

	k := node.NewKeeper(testKeeperConfig(srv.URL()), zaptest.NewLogger(t))
	k.Attach(listener)
	runKeeper(t, k)

	require.Eventually(t, func() bool { return listener.sessions.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
}

func TestKeeperDialExhausted(t *testing.T) {
	cfg := testKeeperConfig("ws://127.0.0.1:1")
	cfg.MaxDialAttempts = 3
	k := node.NewKeeper(cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := k.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, node.ErrReconnectExhausted)
}

func TestKeeperStopsOnCancel(t *testing.T) {
	srv := nodetest.NewServer(t)
	listener := &countingListener{}

	k := node.NewKeeper(testKeeperConfig(srv.URL()), zaptest.NewLogger(t))
	k.Attach(listener)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(ctx) }()

	require.Eventually(t, func() bool { return k.Health().Connected }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("keeper did not stop")
	}
	assert.False(t, k.Health().Connected)
	assert.Equal(t, 1, srv.Connections())
}

func TestKeeperFlapLimiterThrottlesReconnect(t *testing.T) {
	srv := nodetest.NewServer(t)
	listener := &countingListener{}

	cfg := testKeeperConfig(srv.URL())
	cfg.FlapRate = 5 // one session per 200ms once the burst is spent
	cfg.FlapBurst = 1
	k := node.NewKeeper(cfg, zaptest.NewLogger(t))
	k.Attach(listener)
	runKeeper(t, k)

	require.Eventually(t, func() bool { return listener.sessions.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	dropped := time.Now()
	srv.DropConnections()

	require.Eventually(t, func() bool {
		return listener.sessions.Load() == 2 && k.Health().Connected
	}, 5*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(dropped), 150*time.Millisecond)
	assert.Equal(t, uint64(1), k.Health().Reconnects)
	assert.Equal(t, 2, srv.Connections())
}

func TestKeeperFlapWaitHoldsUntilDeadline(t *testing.T) {
	srv := nodetest.NewServer(t)
	listener := &countingListener{}

	cfg := testKeeperConfig(srv.URL())
	cfg.FlapRate = 0.1
	cfg.FlapBurst = 1
	k := node.NewKeeper(cfg, zaptest.NewLogger(t))
	k.Attach(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(ctx) }()

	require.Eventually(t, func() bool { return listener.sessions.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	srv.DropConnections()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Error(t, ctx.Err(), "run returned only once the deadline passed")
	case <-time.After(5 * time.Second):
		t.Fatal("keeper did not stop")
	}
	assert.Equal(t, 1, srv.Connections())
}
