package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the generation engine.
//
// Tracked signals:
//   - Generation runs by model and outcome
//   - Provider stream latency and step counts
//   - Tool execution patterns and latencies
//   - Admission-control decisions by tier
//   - Research session outcomes
type Metrics struct {
	// GenerationCounter counts generation runs.
	// Labels: model, status (completed|cancelled|error)
	GenerationCounter *prometheus.CounterVec

	// GenerationDuration measures whole-run latency in seconds.
	// Labels: model
	GenerationDuration *prometheus.HistogramVec

	// GenerationSteps measures model turns per run.
	// Labels: model
	GenerationSteps *prometheus.HistogramVec

	// ProviderRequestCounter counts provider turns.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderRequestDuration measures per-turn provider latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// AdmissionCounter counts rate-limit decisions.
	// Labels: tier (guest|user|pro), decision (allowed|rejected)
	AdmissionCounter *prometheus.CounterVec

	// ResearchCounter counts research sessions.
	// Labels: status (completed|failed)
	ResearchCounter *prometheus.CounterVec

	// SnapshotPatches counts message snapshot writes during streaming.
	SnapshotPatches prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		GenerationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_generations_total",
				Help: "Total generation runs by model and outcome",
			},
			[]string{"model", "status"},
		),

		GenerationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_generation_duration_seconds",
				Help:    "Duration of generation runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),

		GenerationSteps: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_generation_steps",
				Help:    "Model turns per generation run",
				Buckets: []float64{1, 2, 3, 5, 8, 12, 18, 24},
			},
			[]string{"model"},
		),

		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_provider_requests_total",
				Help: "Total provider turns by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_provider_request_duration_seconds",
				Help:    "Duration of provider turns in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),

		AdmissionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_admission_decisions_total",
				Help: "Total admission-control decisions by tier",
			},
			[]string{"tier", "decision"},
		),

		ResearchCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_research_sessions_total",
				Help: "Total research sessions by outcome",
			},
			[]string{"status"},
		),

		SnapshotPatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_snapshot_patches_total",
				Help: "Total message snapshot writes during streaming",
			},
		),
	}
}

// RecordGeneration records the outcome of a generation run.
func (m *Metrics) RecordGeneration(model, status string, durationSeconds float64, steps int) {
	m.GenerationCounter.WithLabelValues(model, status).Inc()
	m.GenerationDuration.WithLabelValues(model).Observe(durationSeconds)
	m.GenerationSteps.WithLabelValues(model).Observe(float64(steps))
}

// RecordProviderRequest records one provider turn.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordToolExecution records one tool execution.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordAdmission records one rate-limit decision.
func (m *Metrics) RecordAdmission(tier string, allowed bool) {
	decision := "rejected"
	if allowed {
		decision = "allowed"
	}
	m.AdmissionCounter.WithLabelValues(tier, decision).Inc()
}

// RecordResearch records the outcome of a research session.
func (m *Metrics) RecordResearch(status string) {
	m.ResearchCounter.WithLabelValues(status).Inc()
}
