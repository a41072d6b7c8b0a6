// internal/metrics/collector.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rovshanmuradov/mempool-sniper/internal/blockchain/node"
	"github.com/rovshanmuradov/mempool-sniper/internal/events"
	"github.com/rovshanmuradov/mempool-sniper/internal/submission"
)

const namespace = "sniper"

// Collector owns every sniper metric on a private registry.
type Collector struct {
	registry *prometheus.Registry

	pendingSeen     prometheus.Counter
	classified      *prometheus.CounterVec
	decodeErrors    prometheus.Counter
	intents         prometheus.Counter
	duplicates      prometheus.Counter
	pairs           prometheus.Counter
	reconnects      prometheus.Counter
	livenessTimeout prometheus.Counter
	connected       prometheus.Gauge
	attempts        *prometheus.CounterVec
	orders          *prometheus.CounterVec
}

var _ node.Observer = (*Collector)(nil)
var _ submission.Observer = (*Collector)(nil)

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pendingSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "pending_seen_total",
			Help:      "Pending transaction hashes received",
		}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "classified_total",
			Help:      "Router calls with a watched selector, by method",
		}, []string{"method"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "decode_errors_total",
			Help:      "Watched router calls whose arguments could not be decoded",
		}),
		intents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "intents_total",
			Help:      "Snipe intents produced",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "duplicates_total",
			Help:      "Matches suppressed because the tx hash was already seen",
		}),
		pairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "pairs_created_total",
			Help:      "PairCreated logs decoded",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "reconnects_total",
			Help:      "Websocket sessions replaced",
		}),
		livenessTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "liveness_timeouts_total",
			Help:      "Sessions terminated because no pong arrived in time",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "connected",
			Help:      "1 while a websocket session is live",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "attempts_total",
			Help:      "Swap send attempts, by direction",
		}, []string{"direction"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "orders_total",
			Help:      "Orders that reached a final state, by direction and state",
		}, []string{"direction", "state"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.pendingSeen, c.classified, c.decodeErrors,
		c.intents, c.duplicates, c.pairs,
		c.reconnects, c.livenessTimeout, c.connected,
		c.attempts, c.orders,
	)
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WatchBus exports the drop counter and queue depth reported by stats.
// Call it once per collector.
func (c *Collector) WatchBus(stats func() events.BusStats) {
	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because the bus queue was full",
		}, func() float64 { return float64(stats().Dropped) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "pending",
			Help:      "Events queued for delivery",
		}, func() float64 { return float64(stats().Pending) }),
	)
}

// Mempool pipeline counters, see sniping.Recorder.

func (c *Collector) PendingSeen() { c.pendingSeen.Inc() }
func (c *Collector) Classified(method string) { c.classified.WithLabelValues(method).Inc() }
func (c *Collector) DecodeFailed() { c.decodeErrors.Inc() }
func (c *Collector) IntentDetected() { c.intents.Inc() }
func (c *Collector) DuplicateIntent() { c.duplicates.Inc() }

// PairCreated counts decoded factory logs.
func (c *Collector) PairCreated() { c.pairs.Inc() }

// ConnectionChanged implements node.Observer.
func (c *Collector) ConnectionChanged(connected bool) {
	if connected {
		c.connected.Set(1)
		return
	}
	c.connected.Set(0)
}

// Reconnected implements node.Observer.
func (c *Collector) Reconnected() { c.reconnects.Inc() }

// LivenessTimeout implements node.Observer.
func (c *Collector) LivenessTimeout() { c.livenessTimeout.Inc() }

// OrderStateChanged implements submission.Observer.
func (c *Collector) OrderStateChanged(change submission.StateChange) {
	direction := change.Order.Direction.String()
	switch {
	case change.State == submission.StateAttempting:
		c.attempts.WithLabelValues(direction).Inc()
	case change.State.Terminal():
		c.orders.WithLabelValues(direction, change.State.String()).Inc()
	}
}
