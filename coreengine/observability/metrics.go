// Package observability provides Prometheus metrics instrumentation for the outreach engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PIPELINE METRICS
// =============================================================================

var (
	pipelineExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_pipeline_executions_total",
			Help: "Total number of orchestrator runs",
		},
		[]string{"decision", "terminal_reason"},
	)

	pipelineDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_pipeline_duration_seconds",
			Help:    "Orchestrator run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"decision"},
	)

	revisionRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outreach_revision_rounds",
			Help:    "Revision rounds used per drafting run",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	faultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_faults_total",
			Help: "Recovered faults by kind and stage",
		},
		[]string{"kind", "stage"},
	)
)

// =============================================================================
// AGENT METRICS
// =============================================================================

var (
	agentExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_agent_executions_total",
			Help: "Total number of agent executions",
		},
		[]string{"agent", "status"}, // status: success, degraded
	)

	agentDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_agent_duration_seconds",
			Help:    "Agent execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent"},
	)

	critiqueScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_critique_score",
			Help:    "Per-channel critique scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"channel"},
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_llm_calls_total",
			Help: "Total number of upstream model calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_llm_duration_seconds",
			Help:    "Model call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_cache_lookups_total",
			Help: "Response cache lookups",
		},
		[]string{"result"}, // result: hit, miss, expired
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_cache_evictions_total",
			Help: "Entries evicted from the response cache for capacity",
		},
	)
)

// =============================================================================
// TOOL METRICS
// =============================================================================

var toolExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "outreach_tool_executions_total",
		Help: "Research tool executions",
	},
	[]string{"tool", "status"}, // status: success, error
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 30, 120},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordPipelineExecution records an orchestrator run.
func RecordPipelineExecution(decision string, terminalReason string, durationMS int) {
	pipelineExecutionsTotal.WithLabelValues(decision, terminalReason).Inc()
	pipelineDurationSeconds.WithLabelValues(decision).Observe(float64(durationMS) / 1000.0)
}

// RecordRevisionRounds records how many revision rounds a drafting run used.
func RecordRevisionRounds(rounds int) {
	revisionRounds.Observe(float64(rounds))
}

// RecordFault records a recovered fault.
func RecordFault(kind string, stage string) {
	faultsTotal.WithLabelValues(kind, stage).Inc()
}

// RecordAgentExecution records agent execution metrics.
// This should be called after agent processing completes.
func RecordAgentExecution(agent string, status string, durationMS int) {
	agentExecutionsTotal.WithLabelValues(agent, status).Inc()
	agentDurationSeconds.WithLabelValues(agent).Observe(float64(durationMS) / 1000.0)
}

// RecordCritiqueScore records one channel's critique score.
func RecordCritiqueScore(channel string, score int) {
	critiqueScores.WithLabelValues(channel).Observe(float64(score))
}

// RecordLLMCall records upstream model call metrics.
func RecordLLMCall(provider string, model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(provider, model, status).Inc()
	llmDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordCacheLookup records a response cache lookup.
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheEvictions records capacity evictions.
func RecordCacheEvictions(n int) {
	cacheEvictionsTotal.Add(float64(n))
}

// RecordToolExecution records a research tool call.
func RecordToolExecution(tool string, status string) {
	toolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
