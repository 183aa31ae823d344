package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide counters and gauges, exposed at /metrics.
var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dmserver_messages_sent_total",
		Help: "Messages persisted with status=sent.",
	})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dmserver_messages_delivered_total",
		Help: "Messages transitioned to status=delivered.",
	})

	MessagesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dmserver_messages_read_total",
		Help: "Messages transitioned to status=read.",
	})

	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dmserver_delivery_failures_total",
		Help: "Pushes to a session handle that failed and dropped the handle.",
	})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dmserver_online_users",
		Help: "Users with at least one registered session.",
	})

	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dmserver_open_sessions",
		Help: "Registered websocket sessions.",
	})
)
