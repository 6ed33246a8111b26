package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive live room sockets in this process
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Live room websocket connections.",
	})

	// NotificationSocketsActive live notification sockets in this process
	NotificationSocketsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_notification_sockets_active",
		Help: "Live notification websocket connections.",
	})

	// RoomSessionsActive room sessions held by this process
	RoomSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_room_sessions_active",
		Help: "Room sessions currently running.",
	})

	// EventsPublished room events published, by kind
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_published_total",
		Help: "Room events published on the fan-out bus.",
	}, []string{"kind"})

	// DuplicateEventsDropped replays suppressed by connection dedupe
	DuplicateEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_duplicate_events_dropped_total",
		Help: "Duplicate bus deliveries dropped by connection handlers.",
	})

	// SlowConsumerDisconnects connections closed because their queue overflowed
	SlowConsumerDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_slow_consumer_disconnects_total",
		Help: "Connections closed for exceeding their outbound queue.",
	})

	// OperationErrors room operation failures, by kind
	OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_operation_errors_total",
		Help: "Room operation failures returned to clients.",
	}, []string{"kind"})

	// Retries store and bus retries at the room session boundary
	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_retries_total",
		Help: "Retried store or bus calls.",
	})

	// NotificationsCreated durable notifications created
	NotificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_notifications_created_total",
		Help: "Notifications created for absent members.",
	})

	// OpDuration room operation latency, by op
	OpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_room_op_duration_seconds",
		Help:    "Room session operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)
