package sandbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codegrade/config"
	"github.com/isdmx/codegrade/execution"
)

// ConfigFromApp maps the application sandbox section onto a runtime Config
func ConfigFromApp(cfg *config.Config) Config {
	sc := cfg.Sandbox
	return Config{
		Image:            sc.Image,
		Interpreter:      sc.Interpreter,
		WorkRoot:         sc.WorkRoot,
		PIDsLimit:        sc.PIDsLimit,
		TmpfsSizeMB:      sc.TmpfsSizeMB,
		OutputLimitBytes: sc.OutputLimitKB * 1024,
		ProvisionTimeout: time.Duration(sc.ProvisionTimeoutSec) * time.Second,
		TeardownTimeout:  time.Duration(sc.TeardownTimeoutSec) * time.Second,
	}.withDefaults()
}

// NewBackend creates an appropriate sandbox backend based on the configuration
func NewBackend(logger *zap.Logger, cfg *config.Config) (Backend, error) {
	runtimeConfig := ConfigFromApp(cfg)

	switch cfg.Sandbox.Backend {
	case BackendDocker:
		return NewDockerBackend(logger, runtimeConfig), nil
	case BackendPodman:
		return NewPodmanBackend(logger, runtimeConfig), nil
	case BackendLocal:
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled, set sandbox.enable_local_backend to use it")
		}
		return NewLocalBackend(logger, runtimeConfig), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}

// DefaultLimits returns the per-run limits configured for the application
func DefaultLimits(cfg *config.Config) execution.Limits {
	return execution.Limits{
		WallClockTimeout: cfg.GetTimeout(),
		MemoryMB:         cfg.Sandbox.MemoryMB,
		CPUShare:         cfg.Sandbox.CPUShare,
	}
}
