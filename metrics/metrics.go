package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat"

var (
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_appended_total",
		Help:      "Messages persisted to the message log, by message type.",
	}, []string{"type"})

	SendsByTransport = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "message_sends_total",
		Help:      "Message send requests accepted, by transport (ws|rest|internal).",
	}, []string{"transport"})

	ConversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversations_created_total",
		Help:      "Conversations created by get-or-create.",
	})

	MessagesMarkedRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_marked_read_total",
		Help:      "Messages flipped to read by read-state batch updates.",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Currently registered realtime connections.",
	})

	WSRoomMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_room_members",
		Help:      "Connection-to-room memberships currently held by the hub.",
	})

	WSDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_dropped_connections_total",
		Help:      "Connections dropped because their send buffer was full.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "REST request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
