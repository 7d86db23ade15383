package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codegrade/execution"
)

func TestCLIBackendConstructors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Docker", func(t *testing.T) {
		backend := NewDockerBackend(logger, Config{})
		require.NotNil(t, backend)
		assert.Equal(t, BackendDocker, backend.Name())
		assert.Equal(t, DefaultImage, backend.config.Image)
		assert.IsType(t, RealCommandRunner{}, backend.cmdRunner)
	})

	t.Run("PodmanWithRunner", func(t *testing.T) {
		runner := &MockCommandRunner{}
		backend := NewPodmanBackend(logger, Config{Image: "python:3.12-slim"}, WithCommandRunner(runner))
		assert.Equal(t, BackendPodman, backend.Name())
		assert.Equal(t, "python:3.12-slim", backend.config.Image)
		assert.Equal(t, runner, backend.cmdRunner)
	})
}

func TestCLIBackendProvision(t *testing.T) {
	runner := &MockCommandRunner{}
	backend := NewDockerBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))

	sb, err := backend.Provision(context.Background(), ProvisionRequest{
		Name:       "codegrade-1",
		SourcePath: "/tmp/codegrade-x/main.py",
		Limits:     execution.Limits{MemoryMB: 128, CPUShare: 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, "codegrade-1", sb.Name)

	args := strings.Join(runner.call("create"), " ")
	for _, want := range []string{
		"--name codegrade-1",
		"--network none",
		"--memory 128m",
		"--memory-swap 128m",
		"--cpus 0.50",
		"--pids-limit 64",
		"--cap-drop ALL",
		"--security-opt no-new-privileges:true",
		"--read-only",
		"--label " + SandboxLabel + "=true",
		"-v /tmp/codegrade-x/main.py:/sandbox/main.py:ro",
		DefaultImage + " python /sandbox/main.py",
	} {
		assert.Contains(t, args, want)
	}

	t.Run("CreateFails", func(t *testing.T) {
		runner := &MockCommandRunner{commandResults: map[string]commandResult{
			"create": {stderr: "Unable to find image", exitCode: 125},
		}}
		backend := NewDockerBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))
		_, err := backend.Provision(context.Background(), ProvisionRequest{Name: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unable to find image")
	})
}

func TestCLIBackendRun(t *testing.T) {
	t.Run("PassesStdin", func(t *testing.T) {
		runner := &MockCommandRunner{commandResults: map[string]commandResult{
			"start": {stdout: "4\n"},
		}}
		backend := NewDockerBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))

		out, err := backend.Run(context.Background(), Sandbox{Name: "codegrade-1"}, "2 2\n")
		require.NoError(t, err)
		assert.Equal(t, "4\n", out.Stdout)
		assert.Equal(t, []string{"docker", "start", "--attach", "--interactive", "codegrade-1"}, runner.call("start"))
		assert.Contains(t, runner.stdins, "2 2\n")
	})

	t.Run("OOMKilled", func(t *testing.T) {
		runner := &MockCommandRunner{commandResults: map[string]commandResult{
			"start": {exitCode: 137},
		}}
		backend := NewDockerBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))

		out, err := backend.Run(context.Background(), Sandbox{Name: "codegrade-1"}, "")
		require.NoError(t, err)
		assert.Equal(t, 137, out.ExitCode)
		assert.Contains(t, out.Stderr, "memory limit")
	})

	t.Run("DeadlineKillsContainer", func(t *testing.T) {
		runner := &MockCommandRunner{blockOn: "start"}
		backend := NewDockerBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		out, err := backend.Run(ctx, Sandbox{Name: "codegrade-1"}, "")
		require.NoError(t, err)
		assert.True(t, out.TimedOut)
		assert.Contains(t, runner.subcommands(), "kill")
	})

	t.Run("EngineError", func(t *testing.T) {
		runner := &MockCommandRunner{defaultResult: commandResult{err: errors.New("exec: docker not found")}}
		backend := NewDockerBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))

		_, err := backend.Run(context.Background(), Sandbox{Name: "codegrade-1"}, "")
		require.Error(t, err)
	})
}

func TestCLIBackendTeardown(t *testing.T) {
	t.Run("Removes", func(t *testing.T) {
		runner := &MockCommandRunner{}
		backend := NewPodmanBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))
		require.NoError(t, backend.Teardown(context.Background(), Sandbox{Name: "codegrade-1"}))
		assert.Equal(t, []string{"podman", "rm", "--force", "codegrade-1"}, runner.call("rm"))
	})

	t.Run("MissingContainerIsNotAnError", func(t *testing.T) {
		runner := &MockCommandRunner{commandResults: map[string]commandResult{
			"rm": {stderr: "Error: No such container: codegrade-1", exitCode: 1},
		}}
		backend := NewDockerBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))
		require.NoError(t, backend.Teardown(context.Background(), Sandbox{Name: "codegrade-1"}))
	})

	t.Run("OtherFailure", func(t *testing.T) {
		runner := &MockCommandRunner{commandResults: map[string]commandResult{
			"rm": {stderr: "permission denied", exitCode: 1},
		}}
		backend := NewDockerBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))
		require.Error(t, backend.Teardown(context.Background(), Sandbox{Name: "codegrade-1"}))
	})
}

func TestCLIBackendProbe(t *testing.T) {
	tests := []struct {
		name     string
		newFn    func(*zap.Logger, Config, ...CLIBackendOption) *CLIBackend
		wantArgs []string
	}{
		{
			name:     "Docker",
			newFn:    NewDockerBackend,
			wantArgs: []string{"docker", "version", "--format", "{{.Server.Version}}"},
		},
		{
			name:     "Podman",
			newFn:    NewPodmanBackend,
			wantArgs: []string{"podman", "info", "--format", "{{.Host.Arch}}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &MockCommandRunner{}
			backend := tt.newFn(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))
			require.NoError(t, backend.Probe(context.Background()))
			require.Len(t, runner.calls, 1)
			assert.Equal(t, tt.wantArgs, runner.calls[0])

			runner.defaultResult = commandResult{stderr: "Cannot connect to the daemon", exitCode: 125}
			err := backend.Probe(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Cannot connect")
			assert.Contains(t, err.Error(), "exited with 125")
		})
	}

	t.Run("CommandError", func(t *testing.T) {
		runner := &MockCommandRunner{defaultResult: commandResult{err: errors.New("executable file not found")}}
		backend := NewPodmanBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))
		require.ErrorContains(t, backend.Probe(context.Background()), "podman info")
	})
}

func TestCLIBackendReapStale(t *testing.T) {
	runner := &MockCommandRunner{commandResults: map[string]commandResult{
		"container": {stdout: "Deleted Containers:\n" +
			"4f66ad9a0b2e4a7c5b3f1f4f9f2f3e6d7c8b9a0f1e2d3c4b5a69788796a5b4c3\n" +
			"0123456789ab\n\nTotal reclaimed space: 0B\n"},
	}}
	backend := NewDockerBackend(zaptest.NewLogger(t), Config{}, WithCommandRunner(runner))

	removed, err := backend.ReapStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	args := strings.Join(runner.call("container"), " ")
	assert.Contains(t, args, "--filter label="+SandboxLabel)
	assert.Contains(t, args, "--filter until=2m0s")
}
