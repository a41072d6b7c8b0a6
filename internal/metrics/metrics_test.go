package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
	"github.com/rovshanmuradov/mempool-sniper/internal/events"
	"github.com/rovshanmuradov/mempool-sniper/internal/submission"
)

func TestCollectorPipelineCounters(t *testing.T) {
	c := NewCollector()

	c.PendingSeen()
	c.PendingSeen()
	c.Classified("addLiquidityETH")
	c.Classified("addLiquidityETH")
	c.Classified("addLiquidity")
	c.DecodeFailed()
	c.IntentDetected()
	c.DuplicateIntent()
	c.PairCreated()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.pendingSeen))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.classified.WithLabelValues("addLiquidityETH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.classified.WithLabelValues("addLiquidity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decodeErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.intents))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pairs))
}

func TestCollectorNodeObserver(t *testing.T) {
	c := NewCollector()

	c.ConnectionChanged(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connected))
	c.LivenessTimeout()
	c.ConnectionChanged(false)
	c.Reconnected()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.livenessTimeout))
}

func TestCollectorOrderStates(t *testing.T) {
	c := NewCollector()
	buy := submission.SwapOrder{Direction: submission.Buy}
	sell := submission.SwapOrder{Direction: submission.Sell}

	for _, change := range []submission.StateChange{
		{Order: buy, State: submission.StatePending},
		{Order: buy, State: submission.StateAttempting, Attempt: 1},
		{Order: buy, State: submission.StateRetrying, Attempt: 1, Err: errors.New("nonce too low")},
		{Order: buy, State: submission.StateAttempting, Attempt: 2},
		{Order: buy, State: submission.StateConfirmed, Attempt: 2},
		{Order: sell, State: submission.StateAttempting, Attempt: 1},
		{Order: sell, State: submission.StateFailed, Attempt: 1},
	} {
		c.OrderStateChanged(change)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.attempts.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues("sell")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.orders.WithLabelValues("buy", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.orders.WithLabelValues("sell", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.orders), "only final states are counted")
}

func gatheredValue(t *testing.T, c *Collector, name string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestCollectorWatchBus(t *testing.T) {
	c := NewCollector()
	stats := events.BusStats{BufferSize: 8, Pending: 3, Dropped: 5}
	c.WatchBus(func() events.BusStats { return stats })

	assert.Equal(t, 5.0, gatheredValue(t, c, "sniper_events_dropped_total"))
	assert.Equal(t, 3.0, gatheredValue(t, c, "sniper_events_pending"))

	stats.Dropped, stats.Pending = 9, 0
	assert.Equal(t, 9.0, gatheredValue(t, c, "sniper_events_dropped_total"))
	assert.Equal(t, 0.0, gatheredValue(t, c, "sniper_events_pending"))
}

func TestServerEndpoints(t *testing.T) {
	c := NewCollector()
	c.PendingSeen()

	health := node.ConnectionHealth{
		Connected:         true,
		KeepAliveInterval: 15 * time.Second,
		Reconnects:        3,
	}
	srv := NewServer(":0", c, func() node.ConnectionHealth { return health }, zaptest.NewLogger(t))

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.True(t, strings.Contains(body, "sniper_mempool_pending_seen_total 1"), body)
		assert.Contains(t, body, "go_goroutines")
	})

	t.Run("healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got node.ConnectionHealth
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.Connected)
		assert.Equal(t, uint64(3), got.Reconnects)
	})

	t.Run("disconnected", func(t *testing.T) {
		health.Connected = false
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
