package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance, token consumption, and context pressure
//   - Dispatch run attempts and their outcomes
//   - Sandbox exec latency per backend mode
//   - Compaction activity and reclaimed history
//   - Error rates categorized by component and type
//
// Usage:
//
//	metrics := observability.DefaultMetrics()
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "ok", 1.2, 900, 120)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (ok|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization per request.
	// Labels: provider, model
	ContextWindowUsed *prometheus.HistogramVec

	// RunAttempts counts dispatch attempts by terminal status.
	// Labels: status (ok|error)
	RunAttempts *prometheus.CounterVec

	// SandboxExecDuration measures sandbox command latency in seconds.
	// Labels: mode (off|docker|apple-vm)
	SandboxExecDuration *prometheus.HistogramVec

	// SandboxExecCounter counts sandbox commands by backend and outcome.
	// Labels: mode, status (ok|error)
	SandboxExecCounter *prometheus.CounterVec

	// CompactionCounter counts compaction passes by outcome.
	// Labels: outcome (compacted|noop|failed)
	CompactionCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component, error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics constructs a Metrics registered against the process-wide
// default Prometheus registry. Constructing it twice panics on duplicate
// registration; use DefaultMetrics for shared access.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mozi_llm_request_duration_seconds",
			Help:    "LLM API request latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mozi_llm_requests_total",
			Help: "LLM API requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),

		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mozi_llm_tokens_total",
			Help: "Token consumption by provider, model, and type.",
		}, []string{"provider", "model", "type"}),

		ContextWindowUsed: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mozi_context_window_tokens",
			Help:    "Context window utilization per request in tokens.",
			Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000, 200000},
		}, []string{"provider", "model"}),

		RunAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mozi_run_attempts_total",
			Help: "Dispatch attempts by terminal status.",
		}, []string{"status"}),

		SandboxExecDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mozi_sandbox_exec_duration_seconds",
			Help:    "Sandbox command latency in seconds per backend mode.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"mode"}),

		SandboxExecCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mozi_sandbox_execs_total",
			Help: "Sandbox commands by backend mode and outcome.",
		}, []string{"mode", "status"}),

		CompactionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mozi_compactions_total",
			Help: "Compaction passes by outcome.",
		}, []string{"outcome"}),

		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mozi_errors_total",
			Help: "Errors by component and type.",
		}, []string{"component", "error_type"}),
	}
}

// RecordLLMRequest records one completed (or failed) model call: latency,
// status, and token consumption when known.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordRunAttempt records one dispatch attempt's terminal status.
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}

// RecordContextWindow records how many tokens of a model's context window
// a request consumed.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordSandboxExec records one sandbox command's backend, outcome, and
// latency.
func (m *Metrics) RecordSandboxExec(mode, status string, durationSeconds float64) {
	m.SandboxExecDuration.WithLabelValues(mode).Observe(durationSeconds)
	m.SandboxExecCounter.WithLabelValues(mode, status).Inc()
}

// RecordCompaction records one compaction pass's outcome.
func (m *Metrics) RecordCompaction(outcome string) {
	m.CompactionCounter.WithLabelValues(outcome).Inc()
}

// RecordError records an error by component and type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
