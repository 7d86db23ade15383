package sandbox

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codegrade/execution"
)

func newTestRuntime(t *testing.T, backend Backend, opts ...RuntimeOption) (*Runtime, string) {
	t.Helper()
	workRoot := t.TempDir()
	cfg := Config{WorkRoot: workRoot, OutputLimitBytes: 32}
	return NewRuntime(zaptest.NewLogger(t), cfg, backend, denyImports{}, opts...), workRoot
}

func assertWorkRootEmpty(t *testing.T, workRoot string) {
	t.Helper()
	entries, err := os.ReadDir(workRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "materialized source must be removed")
}

func TestRuntimeExecute(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		backend := &fakeBackend{runOut: RunOutput{Stdout: "Hello, World!\n", Stderr: "warn\n"}}
		tracker := &countingTracker{}
		rt, workRoot := newTestRuntime(t, backend, WithTracker(tracker))

		res, err := rt.Execute(context.Background(), execution.Request{
			Source: "print('Hello, World!')",
			Stdin:  "3\n",
		})
		require.NoError(t, err)

		assert.True(t, res.Succeeded)
		assert.Equal(t, execution.ReasonNone, res.FailureReason)
		assert.Equal(t, "Hello, World!\n", res.Stdout)
		assert.Equal(t, "warn\n", res.Stderr)
		assert.Equal(t, 1, backend.provisions)
		assert.Equal(t, 1, backend.teardowns)
		assert.Equal(t, "3\n", backend.lastStdin)
		assert.True(t, backend.sourceExists)
		assert.Equal(t, "print('Hello, World!')", backend.sourceAtRun)
		assert.True(t, strings.HasPrefix(backend.lastRequest.Name, NamePrefix))
		assert.Equal(t, 1, tracker.started)
		assert.Equal(t, 1, tracker.released)
		assertWorkRootEmpty(t, workRoot)
	})

	t.Run("DefaultLimitsApplied", func(t *testing.T) {
		backend := &fakeBackend{}
		rt, _ := newTestRuntime(t, backend)

		_, err := rt.Execute(context.Background(), execution.Request{Source: "print(1)"})
		require.NoError(t, err)
		assert.Equal(t, DefaultTimeout, backend.lastRequest.Limits.WallClockTimeout)
		assert.Equal(t, DefaultMemoryMB, backend.lastRequest.Limits.MemoryMB)
		assert.InDelta(t, DefaultCPUShare, backend.lastRequest.Limits.CPUShare, 0.001)
	})

	t.Run("UnsafeCodeNeverProvisions", func(t *testing.T) {
		backend := &fakeBackend{}
		rt, workRoot := newTestRuntime(t, backend)

		res, err := rt.Execute(context.Background(), execution.Request{Source: "import os\nos.system('ls')"})
		require.NoError(t, err)

		assert.False(t, res.Succeeded)
		assert.Equal(t, execution.ReasonUnsafeCode, res.FailureReason)
		assert.Equal(t, "import os", res.Detail)
		assert.Zero(t, backend.provisions)
		assert.Zero(t, backend.teardowns)
		assertWorkRootEmpty(t, workRoot)
	})

	t.Run("BackendUnavailable", func(t *testing.T) {
		backend := &fakeBackend{probeErr: errors.New("daemon not running")}
		rt, _ := newTestRuntime(t, backend)

		res, err := rt.Execute(context.Background(), execution.Request{Source: "print(1)"})
		require.Error(t, err)
		require.ErrorIs(t, err, execution.ErrBackendUnavailable)

		assert.Equal(t, execution.ReasonResourceUnavailable, res.FailureReason)
		assert.Zero(t, backend.provisions)
	})

	t.Run("RuntimeError", func(t *testing.T) {
		backend := &fakeBackend{runOut: RunOutput{
			Stdout:   "partial\n",
			Stderr:   "ZeroDivisionError: division by zero",
			ExitCode: 1,
		}}
		rt, workRoot := newTestRuntime(t, backend)

		res, err := rt.Execute(context.Background(), execution.Request{Source: "print(1/0)"})
		require.NoError(t, err)

		assert.False(t, res.Succeeded)
		assert.Equal(t, execution.ReasonRuntimeError, res.FailureReason)
		assert.Equal(t, "ZeroDivisionError: division by zero", res.Stderr)
		assert.Equal(t, "exit code 1", res.Detail)
		assert.Equal(t, 1, backend.teardowns)
		assertWorkRootEmpty(t, workRoot)
	})

	t.Run("Timeout", func(t *testing.T) {
		backend := &fakeBackend{waitForCtx: true}
		rt, workRoot := newTestRuntime(t, backend)

		res, err := rt.Execute(context.Background(), execution.Request{
			Source: "while 1: pass",
			Limits: execution.Limits{WallClockTimeout: 50 * time.Millisecond},
		})
		require.NoError(t, err)

		assert.False(t, res.Succeeded)
		assert.Equal(t, execution.ReasonTimeout, res.FailureReason)
		assert.Empty(t, res.Stdout)
		assert.Contains(t, res.Detail, "50ms")
		assert.Equal(t, 1, backend.teardowns)
		assertWorkRootEmpty(t, workRoot)
	})

	t.Run("CallerCancellationDoesNotAbortRun", func(t *testing.T) {
		backend := &fakeBackend{runOut: RunOutput{Stdout: "done\n"}}
		rt, _ := newTestRuntime(t, backend)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := rt.Execute(ctx, execution.Request{Source: "print('done')"})
		require.NoError(t, err)
		assert.True(t, res.Succeeded)
		assert.Equal(t, "done\n", res.Stdout)
	})

	t.Run("OutputTruncated", func(t *testing.T) {
		long := strings.Repeat("x", 100)
		backend := &fakeBackend{runOut: RunOutput{Stdout: long}}
		rt, _ := newTestRuntime(t, backend)

		res, err := rt.Execute(context.Background(), execution.Request{Source: "print('x'*100)"})
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("x", 32)+TruncationMarker, res.Stdout)
	})

	t.Run("ProvisionFailureStillTearsDown", func(t *testing.T) {
		backend := &fakeBackend{provisionErr: errors.New("image pull failed")}
		tracker := &countingTracker{}
		rt, workRoot := newTestRuntime(t, backend, WithTracker(tracker))

		res, err := rt.Execute(context.Background(), execution.Request{Source: "print(1)"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, execution.ErrBackendUnavailable)
		assert.Equal(t, execution.ReasonInternalError, res.FailureReason)
		assert.Equal(t, 1, backend.teardowns)
		assert.Zero(t, tracker.started)
		assertWorkRootEmpty(t, workRoot)
	})

	t.Run("RunFailureIsInternal", func(t *testing.T) {
		backend := &fakeBackend{runErr: errors.New("engine crashed")}
		rt, _ := newTestRuntime(t, backend)

		res, err := rt.Execute(context.Background(), execution.Request{Source: "print(1)"})
		require.Error(t, err)
		assert.Equal(t, execution.ReasonInternalError, res.FailureReason)
		assert.Equal(t, 1, backend.teardowns)
	})

	t.Run("TeardownFailureIsLogged", func(t *testing.T) {
		backend := &fakeBackend{teardownErr: errors.New("rm failed")}
		rt, _ := newTestRuntime(t, backend)

		res, err := rt.Execute(context.Background(), execution.Request{Source: "print(1)"})
		require.NoError(t, err)
		assert.True(t, res.Succeeded)
	})
}

func TestRuntimeProbe(t *testing.T) {
	backend := &fakeBackend{}
	rt, _ := newTestRuntime(t, backend)
	require.NoError(t, rt.Probe(context.Background()))
	assert.Equal(t, backend, rt.Backend())

	backend.probeErr = errors.New("down")
	require.Error(t, rt.Probe(context.Background()))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab"+TruncationMarker, truncate("abc", 2))
	assert.Equal(t, "abc", truncate("abc", 0))
}

func TestCappedWriter(t *testing.T) {
	var sb strings.Builder
	w := newCappedWriter(&sb, 4)

	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = w.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n, "writes report full length so the child never blocks")
	assert.Equal(t, "abcde", sb.String())
}
