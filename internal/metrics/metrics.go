// Package metrics wires Prometheus counters, gauges and histograms around
// the chat loop, tool registry and guard stack so an operator can see run
// throughput, provider latency, spend-guard state and journal growth
// without reading logs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this process exports, backed by its own
// prometheus.Registry rather than the global default so tests (and a
// process embedding chatengine as a library) can build more than one
// without a duplicate-registration panic.
type Registry struct {
	reg *prometheus.Registry

	RunAttempts   *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	IterationsRun *prometheus.HistogramVec

	LLMRequestDuration *prometheus.HistogramVec
	LLMRequestCounter  *prometheus.CounterVec
	LLMTokensUsed      *prometheus.CounterVec

	ToolExecutionCounter  *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec
	ToolDenied            *prometheus.CounterVec

	ApprovalDecisions *prometheus.CounterVec

	SpendRemainingUSD *prometheus.GaugeVec
	SpendPaused       prometheus.Gauge

	JournalSize  prometheus.Gauge
	ActiveRuns   prometheus.Gauge
	UndoOutcomes *prometheus.CounterVec
}

// New builds and registers every metric against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		reg: reg,

		RunAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatengine_run_attempts_total",
			Help: "Total number of chat runs by outcome (started|aborted|error|done).",
		}, []string{"status"}),

		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatengine_run_duration_seconds",
			Help:    "Wall-clock duration of a complete chat run.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"agent_id"}),

		IterationsRun: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatengine_run_iterations",
			Help:    "Number of loop iterations a run consumed before completing.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}, []string{"agent_id"}),

		LLMRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatengine_llm_request_duration_seconds",
			Help:    "Duration of a single provider completion call.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMRequestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatengine_llm_requests_total",
			Help: "Total provider completion calls by provider, model and status.",
		}, []string{"provider", "model", "status"}),

		LLMTokensUsed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatengine_llm_tokens_total",
			Help: "Tokens consumed by provider, model and kind (prompt|completion).",
		}, []string{"provider", "model", "kind"}),

		ToolExecutionCounter: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatengine_tool_executions_total",
			Help: "Tool invocations by tool name and status (success|error).",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatengine_tool_execution_duration_seconds",
			Help:    "Tool handler execution time.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool_name"}),

		ToolDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatengine_tool_denied_total",
			Help: "Tool calls rejected by the guard stack by reason (approval_denied|undo_guarantee).",
		}, []string{"reason"}),

		ApprovalDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatengine_approval_decisions_total",
			Help: "Approval gate decisions by outcome (auto|granted|denied|bypassed).",
		}, []string{"outcome"}),

		SpendRemainingUSD: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatengine_spend_remaining_usd",
			Help: "Remaining daily spend budget in USD, per agent.",
		}, []string{"agent_id"}),

		SpendPaused: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatengine_spend_paused",
			Help: "1 if the spend guard is currently pausing new runs, else 0.",
		}),

		JournalSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatengine_journal_records",
			Help: "Total number of action records currently held in the journal.",
		}),

		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatengine_active_runs",
			Help: "Number of runs currently in flight across all sessions.",
		}),

		UndoOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatengine_undo_outcomes_total",
			Help: "Undo/redo operation outcomes by direction and result (success|error).",
		}, []string{"direction", "result"}),
	}
}

// Handler exposes the registry in the Prometheus exposition format, to be
// mounted at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordRunAttempt increments the run-attempt counter for the given
// terminal status.
func (r *Registry) RecordRunAttempt(status string) {
	r.RunAttempts.WithLabelValues(status).Inc()
}

// RecordRun records a completed run's duration and iteration count.
func (r *Registry) RecordRun(agentID string, durationSeconds float64, iterations int) {
	r.RunDuration.WithLabelValues(agentID).Observe(durationSeconds)
	r.IterationsRun.WithLabelValues(agentID).Observe(float64(iterations))
}

// RecordLLMRequest records one provider completion call.
func (r *Registry) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	r.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	r.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		r.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool handler invocation.
func (r *Registry) RecordToolExecution(toolName, status string, durationSeconds float64) {
	r.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	r.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordToolDenied records a guard-stack rejection.
func (r *Registry) RecordToolDenied(reason string) {
	r.ToolDenied.WithLabelValues(reason).Inc()
}

// RecordApprovalDecision records one approval gate outcome.
func (r *Registry) RecordApprovalDecision(outcome string) {
	r.ApprovalDecisions.WithLabelValues(outcome).Inc()
}

// SetSpendSnapshot refreshes the spend gauges for an agent from a guard
// snapshot taken at call time; it does not itself poll, the caller decides
// when a refresh is worth taking (after a charge, or on each run start).
func (r *Registry) SetSpendSnapshot(agentID string, remainingUSD float64, paused bool) {
	r.SpendRemainingUSD.WithLabelValues(agentID).Set(remainingUSD)
	if paused {
		r.SpendPaused.Set(1)
	} else {
		r.SpendPaused.Set(0)
	}
}

// SetJournalSize refreshes the journal-size gauge.
func (r *Registry) SetJournalSize(n int) {
	r.JournalSize.Set(float64(n))
}

// SetActiveRuns refreshes the in-flight run count gauge.
func (r *Registry) SetActiveRuns(n int) {
	r.ActiveRuns.Set(float64(n))
}

// RecordUndoOutcome records one undo/redo outcome, direction is "undo" or
// "redo".
func (r *Registry) RecordUndoOutcome(direction string, failed bool) {
	result := "success"
	if failed {
		result = "error"
	}
	r.UndoOutcomes.WithLabelValues(direction, result).Inc()
}
