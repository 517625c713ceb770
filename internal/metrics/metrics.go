package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthmate",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthmate",
			Name:      "webhook_events_total",
			Help:      "Gateway webhook deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthmate",
			Name:      "decisions_total",
			Help:      "Provider decisions by decision and result.",
		},
		[]string{"decision", "result"},
	)

	refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthmate",
			Name:      "refunds_total",
			Help:      "Refund attempts by result.",
		},
		[]string{"result"},
	)

	chatMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthmate",
			Name:      "chat_messages_total",
			Help:      "Chat messages persisted by sender type.",
		},
		[]string{"sender_type"},
	)

	chatDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "healthmate",
			Name:      "chat_dropped_deliveries_total",
			Help:      "Live deliveries dropped because a client buffer was full.",
		},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "healthmate",
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		},
	)

	syncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthmate",
			Name:      "sync_tasks_total",
			Help:      "Background tasks by type and final status.",
		},
		[]string{"task_type", "status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, webhookEvents, decisions, refunds,
			chatMessages, chatDropped, wsConnections, syncTasks)
	})
}

func IncHTTP(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}

func IncWebhook(outcome string) {
	webhookEvents.WithLabelValues(outcome).Inc()
}

func IncDecision(decision, result string) {
	decisions.WithLabelValues(decision, result).Inc()
}

func IncRefund(result string) {
	refunds.WithLabelValues(result).Inc()
}

func IncChatMessage(senderType string) {
	chatMessages.WithLabelValues(senderType).Inc()
}

func IncChatDropped() {
	chatDropped.Inc()
}

func WSConnected() {
	wsConnections.Inc()
}

func WSDisconnected() {
	wsConnections.Dec()
}

func IncSyncTask(taskType, status string) {
	syncTasks.WithLabelValues(taskType, status).Inc()
}
