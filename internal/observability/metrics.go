package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	gatewayRequestsTotal    *prometheus.CounterVec
	gatewayLatencySeconds   *prometheus.HistogramVec
	gatewayErrorsTotal      *prometheus.CounterVec
	realtimeEventsTotal     *prometheus.CounterVec
	realtimeCommandsTotal   *prometheus.CounterVec
	realtimeDroppedTotal    *prometheus.CounterVec
	realtimeReconnectsTotal *prometheus.CounterVec
	realtimeConnected       prometheus.Gauge
	chatAPIRequestsTotal    *prometheus.CounterVec
	sessionActionsTotal     *prometheus.CounterVec
	stateSubscribers        prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the chat client.
func RegisterMetrics() {
	registerOnce.Do(func() {
		gatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_requests_total",
			Help: "Total number of view gateway requests served.",
		}, []string{"method", "route", "status"})

		gatewayLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_gateway_latency_seconds",
			Help:    "Latency distribution for view gateway requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		gatewayErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_errors_total",
			Help: "Total number of error responses returned by the view gateway.",
		}, []string{"method", "route", "status"})

		realtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_realtime_events_total",
			Help: "Inbound realtime events received from chat-api.",
		}, []string{"event"})

		realtimeCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_realtime_commands_total",
			Help: "Outbound realtime commands written to chat-api.",
		}, []string{"command"})

		realtimeDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_realtime_commands_dropped_total",
			Help: "Outbound realtime commands dropped because the transport was not connected.",
		}, []string{"command"})

		realtimeReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_realtime_reconnect_attempts_total",
			Help: "Reconnection attempts by outcome.",
		}, []string{"outcome"})

		realtimeConnected = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_realtime_connected",
			Help: "1 while the realtime transport is connected.",
		})

		chatAPIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_api_requests_total",
			Help: "HTTP calls made to chat-api by operation and outcome.",
		}, []string{"operation", "outcome"})

		sessionActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_session_actions_total",
			Help: "Actions applied by the chat session reducer.",
		}, []string{"action"})

		stateSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_state_subscribers",
			Help: "Number of active state stream subscribers.",
		})

		prometheus.MustRegister(
			gatewayRequestsTotal,
			gatewayLatencySeconds,
			gatewayErrorsTotal,
			realtimeEventsTotal,
			realtimeCommandsTotal,
			realtimeDroppedTotal,
			realtimeReconnectsTotal,
			realtimeConnected,
			chatAPIRequestsTotal,
			sessionActionsTotal,
			stateSubscribers,
		)
	})
}

// GatewayRequests exposes the counter for gateway requests.
func GatewayRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return gatewayRequestsTotal
}

// GatewayLatency exposes the latency histogram for gateway requests.
func GatewayLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return gatewayLatencySeconds
}

// GatewayErrors exposes the counter for gateway error responses.
func GatewayErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return gatewayErrorsTotal
}

// RealtimeEvents counts inbound events by name.
func RealtimeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsTotal
}

// RealtimeCommands counts outbound commands by name.
func RealtimeCommands() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeCommandsTotal
}

// RealtimeDropped counts commands dropped while disconnected.
func RealtimeDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeDroppedTotal
}

// RealtimeReconnects counts reconnection attempts.
func RealtimeReconnects() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeReconnectsTotal
}

// RealtimeConnected reports transport connectivity.
func RealtimeConnected() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnected
}

// ChatAPIRequests counts chat-api HTTP calls.
func ChatAPIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return chatAPIRequestsTotal
}

// SessionActions counts reduced session actions.
func SessionActions() *prometheus.CounterVec {
	RegisterMetrics()
	return sessionActionsTotal
}

// StateSubscribers tracks connected state stream subscribers.
func StateSubscribers() prometheus.Gauge {
	RegisterMetrics()
	return stateSubscribers
}
