package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecs_connections_total",
			Help: "Total number of connections accepted by the broker",
		},
	)

	ConnectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecs_connections_open",
			Help: "Number of currently open connections",
		},
	)

	// Registry metrics
	SubsystemsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecs_subsystems_total",
			Help: "Total number of registered subsystems by alive state",
		},
		[]string{"alive"},
	)

	// Transaction metrics
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecs_transactions_total",
			Help: "Total number of transactions by opcode and terminal state",
		},
		[]string{"opcode", "state"},
	)

	TransactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecs_transaction_duration_seconds",
			Help:    "Time from NEW to terminal RET/NAK, by opcode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"opcode"},
	)

	// KV metrics
	KVSetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecs_kv_set_total",
			Help: "Total number of SET_KV operations by result state",
		},
		[]string{"state"},
	)

	KVGetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecs_kv_get_total",
			Help: "Total number of GET_KV operations by result state",
		},
		[]string{"state"},
	)

	SubscribedUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecs_subscribed_updates_total",
			Help: "Total number of SUBSCRIBED_UPD messages fanned out to subscribers",
		},
	)

	// Event metrics
	EventsCalledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecs_events_called_total",
			Help: "Total number of CALL_EVENT invocations",
		},
	)

	EventTargetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecs_event_targets_total",
			Help: "Total number of per-target event dispatches by terminal status",
		},
		[]string{"status"},
	)

	// Logging ingest metrics
	LogRecordsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecs_log_records_ingested_total",
			Help: "Total number of structured log records accepted by the ingest client path",
		},
		[]string{"level"},
	)
)

func init() {
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ConnectionsOpen)
	prometheus.MustRegister(SubsystemsTotal)
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(TransactionDuration)
	prometheus.MustRegister(KVSetTotal)
	prometheus.MustRegister(KVGetTotal)
	prometheus.MustRegister(SubscribedUpdatesTotal)
	prometheus.MustRegister(EventsCalledTotal)
	prometheus.MustRegister(EventTargetsTotal)
	prometheus.MustRegister(LogRecordsIngestedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
