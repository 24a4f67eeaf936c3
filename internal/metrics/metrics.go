// Package metrics provides Prometheus instrumentation for session
// registration, chat relay outcomes and LLM latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomeInvalid     = "invalid"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "llm_unavailable"
	OutcomeUpstream    = "upstream_error"
	OutcomeStoreError  = "store_error"
)

var (
	// SessionsRegistered counts successful email registrations.
	SessionsRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mathbot_sessions_registered_total",
		Help: "Total number of sessions created via email registration",
	})

	// ChatRequests counts chat relay calls by outcome.
	ChatRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mathbot_chat_requests_total",
		Help: "Total number of chat relay requests",
	}, []string{"outcome"})

	// LLMLatency records the duration of model calls in seconds.
	LLMLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mathbot_llm_latency_seconds",
		Help:    "LLM call latency in seconds",
		Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32, 64},
	})

	// HistoryLength records the stored history size after each exchange.
	HistoryLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mathbot_history_length",
		Help:    "Stored conversation history length after an exchange",
		Buckets: []float64{2, 4, 6, 8, 10},
	})
)

func init() {
	prometheus.MustRegister(
		SessionsRegistered,
		ChatRequests,
		LLMLatency,
		HistoryLength,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
