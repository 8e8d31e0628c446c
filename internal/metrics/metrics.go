// Package metrics exposes Prometheus collectors for the pipeline, research
// agent and external providers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	StageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealdesk_stage_runs_total",
			Help: "Pipeline stage executions by outcome",
		},
		[]string{"stage", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealdesk_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealdesk_pipeline_runs_total",
			Help: "Pipeline runs by terminal state",
		},
		[]string{"state"},
	)

	// Research agent metrics
	AgentRounds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealdesk_agent_rounds",
			Help:    "Model rounds used per validation run",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
		[]string{"phase"},
	)

	AgentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealdesk_agent_outcomes_total",
			Help: "Validation runs by outcome (completed, exhausted, parse_failed)",
		},
		[]string{"phase", "outcome"},
	)

	VerdictStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealdesk_verdicts_total",
			Help: "Verdicts produced by status",
		},
		[]string{"phase", "status"},
	)

	// Provider metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealdesk_search_requests_total",
			Help: "Web search requests by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealdesk_search_latency_seconds",
			Help:    "Web search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CompsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealdesk_comps_found_total",
			Help: "Comps returned per provider before dedup",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealdesk_provider_errors_total",
			Help: "Comps provider failures",
		},
		[]string{"provider"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dealdesk_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	// LLM metrics
	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealdesk_llm_tokens_total",
			Help: "Tokens consumed by operation and direction",
		},
		[]string{"operation", "direction"},
	)
)

// ObserveStage records one stage execution.
func ObserveStage(stage string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StageRuns.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ObserveSearch records one web search call.
func ObserveSearch(provider string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SearchRequests.WithLabelValues(provider, status).Inc()
	SearchLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

// ObserveTokens records token usage for an LLM operation.
func ObserveTokens(operation string, input, output int64) {
	LLMTokens.WithLabelValues(operation, "input").Add(float64(input))
	LLMTokens.WithLabelValues(operation, "output").Add(float64(output))
}
