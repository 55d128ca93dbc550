/*
Package metrics defines the Prometheus metrics the broker and client expose,
plus the health/readiness endpoints used alongside them.

# Metrics catalog

	ecs_connections_total              Counter    accepted connections
	ecs_connections_open                Gauge      currently open connections
	ecs_subsystems_total{alive}          GaugeVec   registered subsystems by bound state
	ecs_transactions_total{opcode,state} CounterVec transactions by opcode and terminal state
	ecs_transaction_duration_seconds{opcode} HistogramVec NEW-to-terminal latency
	ecs_kv_set_total{state}              CounterVec SET_KV outcomes
	ecs_kv_get_total{state}              CounterVec GET_KV outcomes
	ecs_subscribed_updates_total         Counter    SUBSCRIBED_UPD fan-out count
	ecs_events_called_total              Counter    CALL_EVENT invocations
	ecs_event_targets_total{status}      CounterVec per-target event outcomes
	ecs_log_records_ingested_total{level} CounterVec records handed to pkg/logclient

Collector wraps these package-level vars for callers that want a single
handle (broker.New takes one), and polls a RegistrySource on an interval to
keep ecs_subsystems_total current — the only gauge here that isn't updated
inline by the code path that changes it.

# Usage

	collector := metrics.NewCollector(registry)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
*/
package metrics
