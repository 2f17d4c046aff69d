package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	// aiCalls counts orchestrated calls by role, serving provider and outcome.
	aiCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of orchestrated AI role calls.",
		},
		[]string{"role", "provider", "outcome"},
	)

	aiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "End-to-end duration of orchestrated AI calls in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 45, 60, 120},
		},
		[]string{"role"},
	)

	// aiTokens counts tokens by kind (prompt|completion).
	aiTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Tokens consumed by AI calls.",
		},
		[]string{"role", "provider", "kind"},
	)

	aiCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_estimated_cost_usd_total",
			Help: "Approximate USD cost of AI calls.",
		},
		[]string{"role", "provider"},
	)
)

func init() {
	prometheus.MustRegister(aiCalls, aiLatency, aiTokens, aiCost)
}
