package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the execution pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionErrors   *prometheus.CounterVec
	ActiveExecutions  prometheus.Gauge
	CoveragePercent   *prometheus.HistogramVec
	RiskScore         prometheus.Histogram
	GateDecisions     *prometheus.CounterVec
	ArtifactsTotal    *prometheus.CounterVec
	CodeSizeBytes     prometheus.Histogram
	OutputSizeBytes   prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "patchgate",
				Name:      "executions_total",
				Help:      "Total number of sandbox executions by language and status.",
			},
			[]string{"language", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "patchgate",
				Name:      "execution_duration_seconds",
				Help:      "Duration of sandbox executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"language"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "patchgate",
				Name:      "execution_errors_total",
				Help:      "Total sandbox execution errors by type.",
			},
			[]string{"type"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "patchgate",
				Name:      "active_executions",
				Help:      "Number of currently running sandbox executions.",
			},
		),

		CoveragePercent: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "patchgate",
				Name:      "coverage_percent",
				Help:      "Coverage percentage extracted from test runs.",
				Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"language"},
		),

		RiskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "patchgate",
				Name:      "risk_score",
				Help:      "Weighted risk scores produced by assessments.",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "patchgate",
				Name:      "gate_decisions_total",
				Help:      "Risk gate decisions by verdict and overall risk level.",
			},
			[]string{"verdict", "risk_level"},
		),

		ArtifactsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "patchgate",
				Name:      "artifacts_total",
				Help:      "Artifacts collected from workspaces by type.",
			},
			[]string{"type"},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "patchgate",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "patchgate",
				Name:      "output_size_bytes",
				Help:      "Size of execution output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.ActiveExecutions,
		m.CoveragePercent,
		m.RiskScore,
		m.GateDecisions,
		m.ArtifactsTotal,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records metrics for a completed execution.
func (m *Metrics) RecordExecution(language, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(durationSec)
}

// RecordError records an execution error by type.
func (m *Metrics) RecordError(errType string) {
	m.ExecutionErrors.WithLabelValues(errType).Inc()
}

// RecordCoverage records the coverage percentage extracted from a test run.
func (m *Metrics) RecordCoverage(language string, percent float64) {
	m.CoveragePercent.WithLabelValues(language).Observe(percent)
}

// RecordArtifact counts one collected artifact by type.
func (m *Metrics) RecordArtifact(artifactType string) {
	m.ArtifactsTotal.WithLabelValues(artifactType).Inc()
}

// RecordDecision records one risk gate decision.
func (m *Metrics) RecordDecision(blocked bool, riskLevel string, score float64) {
	verdict := "allow"
	if blocked {
		verdict = "block"
	}
	m.GateDecisions.WithLabelValues(verdict, riskLevel).Inc()
	m.RiskScore.Observe(score)
}
