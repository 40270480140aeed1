// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the coda agent service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for model inference
// latencies, ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// RoundBuckets covers the small integer range of agent loop rounds.
var RoundBuckets = []float64{1, 2, 3, 4, 5, 6, 8, 10}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coda_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coda_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)

	// StreamingConnections tracks active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coda_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// ModelCallsTotal counts calls to the model backend by adapter,
	// model, and outcome.
	ModelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coda_model_calls_total",
			Help: "Model backend calls",
		},
		[]string{"backend", "model", "status"},
	)

	// ModelCallLatency records model backend latency in seconds.
	ModelCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coda_model_call_latency_seconds",
			Help:    "Model backend latency",
			Buckets: LLMBuckets,
		},
		[]string{"backend", "model"},
	)

	// ModelTokensTotal counts tokens processed by direction (input/output).
	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coda_model_tokens_total",
			Help: "Token count",
		},
		[]string{"backend", "model", "direction"},
	)

	// SandboxExecutionsTotal counts sandbox executions by exit status.
	SandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coda_sandbox_executions_total",
			Help: "Sandbox code executions",
		},
		[]string{"status"},
	)

	// SandboxExecutionDuration records sandbox execution duration in seconds.
	SandboxExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coda_sandbox_execution_duration_seconds",
			Help:    "Sandbox execution duration",
			Buckets: LLMBuckets,
		},
	)

	// LoopRounds records how many rounds each loop invocation took.
	LoopRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coda_loop_rounds",
			Help:    "Rounds per agent loop invocation",
			Buckets: RoundBuckets,
		},
	)

	// RateLimitRejectedTotal counts requests rejected by rate limiting,
	// by service tier.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coda_ratelimit_rejected_total",
			Help: "Requests rejected by rate limiting",
		},
		[]string{"tier"},
	)

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coda_sessions_active",
			Help: "Active sessions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		ModelCallsTotal,
		ModelCallLatency,
		ModelTokensTotal,
		SandboxExecutionsTotal,
		SandboxExecutionDuration,
		RateLimitRejectedTotal,
		LoopRounds,
		ActiveSessions,
	)
}
