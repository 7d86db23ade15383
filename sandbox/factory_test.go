package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codegrade/config"
)

func TestNewBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name        string
		backend     string
		enableLocal bool
		wantName    string
		wantErr     bool
	}{
		{name: "Docker", backend: "docker", wantName: BackendDocker},
		{name: "Podman", backend: "podman", wantName: BackendPodman},
		{name: "LocalEnabled", backend: "local", enableLocal: true, wantName: BackendLocal},
		{name: "LocalDisabled", backend: "local", wantErr: true},
		{name: "Unsupported", backend: "firecracker", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Sandbox: config.SandboxConfig{
				Backend:            tt.backend,
				EnableLocalBackend: tt.enableLocal,
			}}
			backend, err := NewBackend(logger, cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, backend.Name())
		})
	}
}

func TestConfigFromApp(t *testing.T) {
	cfg := &config.Config{Sandbox: config.SandboxConfig{
		Image:               "python:3.12-alpine",
		OutputLimitKB:       8,
		ProvisionTimeoutSec: 3,
		TimeoutSec:          7,
		MemoryMB:            256,
		CPUShare:            1,
	}}

	rc := ConfigFromApp(cfg)
	assert.Equal(t, "python:3.12-alpine", rc.Image)
	assert.Equal(t, DefaultInterpreter, rc.Interpreter)
	assert.Equal(t, 8*1024, rc.OutputLimitBytes)
	assert.Equal(t, 3*time.Second, rc.ProvisionTimeout)
	assert.Equal(t, DefaultTeardownTimeout, rc.TeardownTimeout)

	limits := DefaultLimits(cfg)
	assert.Equal(t, 7*time.Second, limits.WallClockTimeout)
	assert.Equal(t, 256, limits.MemoryMB)
	assert.InDelta(t, 1.0, limits.CPUShare, 0)
}
