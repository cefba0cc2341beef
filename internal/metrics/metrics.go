package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	RelayCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_completions_total",
			Help: "Completed relay calls by outcome",
		},
		[]string{"outcome"}, // "success", "error" or "disconnect"
	)

	RelayTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_tokens_total",
			Help: "Tokens relayed to clients",
		},
	)

	RelayDroppedTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_dropped_tokens_total",
			Help: "Tokens dropped for slow subscribers",
		},
	)

	// Stream metrics
	OpenStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_open_streams",
			Help: "Currently open event streams",
		},
		[]string{"endpoint"},
	)

	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_heartbeats_sent_total",
			Help: "Heartbeat events written",
		},
	)
)
