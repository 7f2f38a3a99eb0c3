package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	rateLimitDecisions     *prometheus.CounterVec
	rateLimitFailOpen      prometheus.Counter
	chatMessagesPersisted  *prometheus.CounterVec
	chatPersistenceErrors  *prometheus.CounterVec
	chatConnectionsTotal   *prometheus.CounterVec
	presenceTransitions    *prometheus.CounterVec
	chatEventsBroadcast    *prometheus.CounterVec
	chatOperationDurations *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used by the chat core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		rateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_rate_limit_decisions_total",
			Help: "Rate limit admission decisions by event and outcome.",
		}, []string{"event", "outcome"})

		rateLimitFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_rate_limit_fail_open_total",
			Help: "Admissions granted because the counter backend failed.",
		})

		chatMessagesPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Chat message mutations persisted by operation.",
		}, []string{"operation"})

		chatPersistenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_persistence_errors_total",
			Help: "Chat persistence failures by operation.",
		}, []string{"operation"})

		chatConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Websocket chat connections by participant kind.",
		}, []string{"kind"})

		presenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_presence_transitions_total",
			Help: "Room membership transitions.",
		}, []string{"transition"})

		chatEventsBroadcast = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_events_broadcast_total",
			Help: "Gateway events fanned out to room members by type.",
		}, []string{"type"})

		chatOperationDurations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_operation_duration_seconds",
			Help:    "Latency of chat store operations.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of chat API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_http_latency_seconds",
			Help:    "Latency distribution for chat API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(
			rateLimitDecisions,
			rateLimitFailOpen,
			chatMessagesPersisted,
			chatPersistenceErrors,
			chatConnectionsTotal,
			presenceTransitions,
			chatEventsBroadcast,
			chatOperationDurations,
			httpRequestsTotal,
			httpLatencySeconds,
		)
	})
}

// RateLimitDecisions exposes the admission counter.
func RateLimitDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return rateLimitDecisions
}

// RateLimitFailOpen exposes the fail-open counter.
func RateLimitFailOpen() prometheus.Counter {
	RegisterMetrics()
	return rateLimitFailOpen
}

// ChatMessagesPersisted exposes the persisted mutation counter.
func ChatMessagesPersisted() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesPersisted
}

// ChatPersistenceErrors exposes the persistence failure counter.
func ChatPersistenceErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return chatPersistenceErrors
}

// ChatConnectionsTotal exposes the websocket connection counter.
func ChatConnectionsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return chatConnectionsTotal
}

// PresenceTransitions exposes the join/leave counter.
func PresenceTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return presenceTransitions
}

// ChatEventsBroadcast exposes the broadcast counter.
func ChatEventsBroadcast() *prometheus.CounterVec {
	RegisterMetrics()
	return chatEventsBroadcast
}

// ChatOperationDurations exposes the store latency histogram.
func ChatOperationDurations() *prometheus.HistogramVec {
	RegisterMetrics()
	return chatOperationDurations
}

// HTTPRequests exposes the counter for chat API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for chat API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}
