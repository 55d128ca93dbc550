package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RegistrySource is the subset of the broker's registry the collector needs
// to poll. Defined here (rather than imported from pkg/broker) to keep
// pkg/metrics free of a dependency on pkg/broker.
type RegistrySource interface {
	CountAlive() (alive, dead int)
}

// Collector periodically samples registry-wide gauges that aren't naturally
// updated inline by the call sites that change them (SubsystemsTotal), and
// re-exposes the inline counters/gauges broker and client call sites update
// directly, so callers only need to hold one *Collector.
type Collector struct {
	source RegistrySource
	stopCh chan struct{}

	ConnectionsTotal    prometheus.Counter
	ConnectionsOpen     prometheus.Gauge
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec
	KVSetTotal          *prometheus.CounterVec
	KVGetTotal          *prometheus.CounterVec
	SubscribedUpdates   prometheus.Counter
	EventsCalledTotal   prometheus.Counter
	EventTargetsTotal   *prometheus.CounterVec
	LogRecordsIngested  *prometheus.CounterVec
}

// NewCollector creates a collector that polls source for subsystem counts
// and re-exposes the package-level DDS metrics for inline updates.
func NewCollector(source RegistrySource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),

		ConnectionsTotal:    ConnectionsTotal,
		ConnectionsOpen:     ConnectionsOpen,
		TransactionsTotal:   TransactionsTotal,
		TransactionDuration: TransactionDuration,
		KVSetTotal:          KVSetTotal,
		KVGetTotal:          KVGetTotal,
		SubscribedUpdates:   SubscribedUpdatesTotal,
		EventsCalledTotal:   EventsCalledTotal,
		EventTargetsTotal:   EventTargetsTotal,
		LogRecordsIngested:  LogRecordsIngestedTotal,
	}
}

// Start begins polling SubsystemsTotal on a timer. The inline metrics (Inc
// calls scattered through broker/client code) update themselves and do not
// need polling.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

// SetSource attaches (or replaces) the registry polled for SubsystemsTotal.
// Broker construction creates its registry after the collector exists, so
// this is set once the two are wired together rather than at NewCollector.
func (c *Collector) SetSource(source RegistrySource) {
	c.source = source
}

func (c *Collector) collect() {
	if c.source == nil {
		return
	}
	alive, dead := c.source.CountAlive()
	SubsystemsTotal.WithLabelValues("true").Set(float64(alive))
	SubsystemsTotal.WithLabelValues("false").Set(float64(dead))
}
