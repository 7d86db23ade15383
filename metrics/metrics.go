package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/isdmx/codegrade/execution"
)

// Metrics holds Prometheus metrics for execution, sandboxes and submissions.
// All metrics use the codegrade_ namespace. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ActiveSandboxes   *prometheus.GaugeVec
	SubmissionsTotal  *prometheus.CounterVec
	SubmissionScore   *prometheus.HistogramVec
	ReconcileFailures prometheus.Counter
	SandboxesReaped   prometheus.Counter
}

// New creates and registers the metrics on the given registry.
// Returns nil if reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codegrade",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Total executions by failure reason (NONE on success).",
		}, []string{"reason"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codegrade",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Execution duration in seconds including sandbox setup and teardown.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"reason"}),

		ActiveSandboxes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "codegrade",
			Subsystem: "sandbox",
			Name:      "active",
			Help:      "Number of provisioned sandboxes not yet torn down.",
		}, []string{"backend"}),

		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codegrade",
			Subsystem: "submission",
			Name:      "total",
			Help:      "Total submissions by kind and outcome (graded, unavailable, persistence_error).",
		}, []string{"kind", "outcome"}),

		SubmissionScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codegrade",
			Subsystem: "submission",
			Name:      "score_ratio",
			Help:      "Score divided by max score of graded submissions.",
			Buckets:   []float64{0, 0.25, 0.5, 0.75, 0.99, 1},
		}, []string{"kind"}),

		ReconcileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codegrade",
			Subsystem: "progress",
			Name:      "reconcile_failures_total",
			Help:      "Reconciliations rolled back because of a store or lock failure.",
		}),

		SandboxesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codegrade",
			Subsystem: "sandbox",
			Name:      "reaped_total",
			Help:      "Stale sandboxes removed by the reaper.",
		}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveSandboxes,
		m.SubmissionsTotal,
		m.SubmissionScore,
		m.ReconcileFailures,
		m.SandboxesReaped,
	)

	return m
}

// ObserveExecution implements execution.Observer
func (m *Metrics) ObserveExecution(reason execution.FailureReason, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(string(reason)).Inc()
	m.ExecutionDuration.WithLabelValues(string(reason)).Observe(d.Seconds())
}

// SandboxStarted implements sandbox.Tracker
func (m *Metrics) SandboxStarted(backend string) {
	if m == nil {
		return
	}
	m.ActiveSandboxes.WithLabelValues(backend).Inc()
}

// SandboxReleased implements sandbox.Tracker
func (m *Metrics) SandboxReleased(backend string) {
	if m == nil {
		return
	}
	m.ActiveSandboxes.WithLabelValues(backend).Dec()
}

// ObserveSubmission records a submission outcome and, when graded, its score
func (m *Metrics) ObserveSubmission(kind, outcome string, score, maxScore int) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == OutcomeGraded && maxScore > 0 {
		m.SubmissionScore.WithLabelValues(kind).Observe(float64(score) / float64(maxScore))
	}
	if outcome == OutcomePersistenceError {
		m.ReconcileFailures.Inc()
	}
}

// ObserveReaped adds n reaped sandboxes
func (m *Metrics) ObserveReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SandboxesReaped.Add(float64(n))
}

// Submission outcomes
const (
	OutcomeGraded           = "graded"
	OutcomeUnavailable      = "unavailable"
	OutcomePersistenceError = "persistence_error"
)
