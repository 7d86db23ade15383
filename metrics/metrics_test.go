package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/codegrade/execution"
)

func TestNewNilRegistry(t *testing.T) {
	m := New(nil)
	assert.Nil(t, m)

	// every method is safe on nil
	m.ObserveExecution(execution.ReasonNone, time.Second)
	m.SandboxStarted("docker")
	m.SandboxReleased("docker")
	m.ObserveSubmission("coding", OutcomeGraded, 1, 1)
	m.ObserveReaped(3)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.ObserveExecution(execution.ReasonNone, 200*time.Millisecond)
	m.ObserveExecution(execution.ReasonTimeout, 10*time.Second)
	m.ObserveExecution(execution.ReasonTimeout, 10*time.Second)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("NONE")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("TIMEOUT")), 0)

	m.SandboxStarted("docker")
	m.SandboxStarted("docker")
	m.SandboxReleased("docker")
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveSandboxes.WithLabelValues("docker")), 0)

	m.ObserveSubmission("coding", OutcomeGraded, 67, 100)
	m.ObserveSubmission("coding", OutcomePersistenceError, 0, 100)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("coding", OutcomeGraded)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ReconcileFailures), 0)

	m.ObserveReaped(2)
	m.ObserveReaped(0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.SandboxesReaped), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
