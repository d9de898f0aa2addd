package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	httpErrorsTotal      *prometheus.CounterVec
	chatConnections      prometheus.Gauge
	chatMessagesTotal    *prometheus.CounterVec
	chatDroppedEvents    prometheus.Counter
	socketErrorsTotal    *prometheus.CounterVec
	notificationsTotal   *prometheus.CounterVec
	sseClientsActive     prometheus.Gauge
	mentionFailuresTotal prometheus.Counter
	bridgeEventsTotal    *prometheus.CounterVec
	retentionPurged      prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for HTTP requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of error responses returned.",
		}, []string{"method", "route", "status"})

		chatConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of live websocket connections.",
		})

		chatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages persisted and broadcast.",
		}, []string{"room_type", "message_type"})

		chatDroppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_dropped_events_total",
			Help: "Outbound events dropped because a client buffer was full.",
		})

		socketErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_socket_errors_total",
			Help: "Error events returned to websocket clients.",
		}, []string{"event"})

		notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notifications stored.",
		}, []string{"type"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifications_stream_clients_active",
			Help: "Number of connected notification stream clients.",
		})

		mentionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_mention_failures_total",
			Help: "Mention notification jobs that failed.",
		})

		bridgeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_events_total",
			Help: "Domain events received from the message bus.",
		}, []string{"topic", "outcome"})

		retentionPurged = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_retention_purged_total",
			Help: "Chat messages removed by the retention worker.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			chatConnections,
			chatMessagesTotal,
			chatDroppedEvents,
			socketErrorsTotal,
			notificationsTotal,
			sseClientsActive,
			mentionFailuresTotal,
			bridgeEventsTotal,
			retentionPurged,
		)
	})
}

// HTTPRequests exposes the counter for HTTP requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for HTTP requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for HTTP error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

func ChatConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return chatConnections
}

func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesTotal
}

func ChatDroppedEvents() prometheus.Counter {
	RegisterMetrics()
	return chatDroppedEvents
}

func SocketErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return socketErrorsTotal
}

func NotificationsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsTotal
}

func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

func MentionFailures() prometheus.Counter {
	RegisterMetrics()
	return mentionFailuresTotal
}

// BridgeEvents counts bus events by topic and outcome (delivered, invalid).
func BridgeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return bridgeEventsTotal
}

func RetentionPurged() prometheus.Counter {
	RegisterMetrics()
	return retentionPurged
}
