package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	WebSocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
		[]string{"service"},
	)

	ChatRoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Rooms with at least one joined connection",
		},
	)

	MessagesStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_stored_total",
			Help: "Messages accepted by the store, by ingress",
		},
		[]string{"ingress"},
	)

	ClientSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_sends_total",
			Help: "Client side send outcomes",
		},
		[]string{"outcome"},
	)

	ClientReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_reconnects_total",
			Help: "Successful socket reconnects",
		},
	)
)
