package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	realtimeConnections      prometheus.Gauge
	realtimeConnectionsTotal prometheus.Counter
	realtimeEventsTotal      *prometheus.CounterVec
	realtimeMessagesTotal    *prometheus.CounterVec
	realtimeDroppedTotal     *prometheus.CounterVec
	fanoutErrorsTotal        *prometheus.CounterVec

	forumCacheTotal        *prometheus.CounterVec
	assistantRequestsTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the forum server.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_http_requests_total",
			Help: "Total number of forum API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forum_http_latency_seconds",
			Help:    "Latency distribution for forum API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_http_errors_total",
			Help: "Total number of error responses returned by forum endpoints.",
		}, []string{"method", "route", "status"})

		realtimeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Websocket connections currently open on this node.",
		})

		realtimeConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_connections_total",
			Help: "Total number of websocket connections accepted.",
		})

		realtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Inbound realtime events by name and outcome.",
		}, []string{"event", "outcome"})

		realtimeMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_messages_total",
			Help: "Chat messages delivered, labelled by scope.",
		}, []string{"scope"})

		realtimeDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_dropped_frames_total",
			Help: "Outbound frames dropped because a client queue was full.",
		}, []string{"event"})

		fanoutErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_fanout_errors_total",
			Help: "Failures publishing realtime frames to other nodes.",
		}, []string{"transport"})

		forumCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_post_cache_total",
			Help: "Post list cache lookups by result.",
		}, []string{"result"})

		assistantRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_requests_total",
			Help: "Study assistant questions by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			realtimeConnections, realtimeConnectionsTotal, realtimeEventsTotal,
			realtimeMessagesTotal, realtimeDroppedTotal, fanoutErrorsTotal,
			forumCacheTotal, assistantRequestsTotal,
		)
	})
}

// HTTPRequests exposes the counter for forum API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for forum API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for forum API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// RealtimeConnections is the gauge of open websocket connections.
func RealtimeConnections() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnections
}

// RealtimeConnectionsTotal counts accepted websocket connections.
func RealtimeConnectionsTotal() prometheus.Counter {
	RegisterMetrics()
	return realtimeConnectionsTotal
}

// RealtimeEvents counts inbound events by name and outcome.
func RealtimeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsTotal
}

// RealtimeMessages counts delivered chat messages by scope.
func RealtimeMessages() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeMessagesTotal
}

// RealtimeDropped counts frames dropped for slow consumers.
func RealtimeDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeDroppedTotal
}

// FanoutErrors counts cross-node publish failures.
func FanoutErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return fanoutErrorsTotal
}

// ForumCache counts post list cache hits and misses.
func ForumCache() *prometheus.CounterVec {
	RegisterMetrics()
	return forumCacheTotal
}

// AssistantRequests counts assistant questions by outcome.
func AssistantRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return assistantRequestsTotal
}
