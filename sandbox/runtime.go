package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/codegrade/execution"
)

// Config holds configuration shared by the runtime and its backends
type Config struct {
	Image            string
	Interpreter      string
	WorkRoot         string // host directory for materialized sources, "" = os temp dir
	PIDsLimit        int
	TmpfsSizeMB      int
	OutputLimitBytes int
	ProvisionTimeout time.Duration
	TeardownTimeout  time.Duration
	ProbeTimeout     time.Duration
}

// withDefaults fills zero fields with package defaults
func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.Interpreter == "" {
		c.Interpreter = DefaultInterpreter
	}
	if c.PIDsLimit <= 0 {
		c.PIDsLimit = DefaultPIDsLimit
	}
	if c.TmpfsSizeMB <= 0 {
		c.TmpfsSizeMB = DefaultTmpfsSizeMB
	}
	if c.OutputLimitBytes <= 0 {
		c.OutputLimitBytes = DefaultOutputLimitBytes
	}
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = DefaultProvisionTimeout
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = DefaultTeardownTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

// Tracker is notified when sandboxes go live and when they are released
type Tracker interface {
	SandboxStarted(backend string)
	SandboxReleased(backend string)
}

// Runtime is the isolation runtime client. It implements execution.Executor
// and owns the full lifecycle of one sandbox per call.
type Runtime struct {
	logger  *zap.Logger
	config  Config
	backend Backend
	checker execution.Checker
	fs      FileSystem
	tracker Tracker
}

// RuntimeOption defines a functional option for Runtime
type RuntimeOption func(*Runtime)

// WithFileSystem sets the FileSystem used to materialize sources
func WithFileSystem(fs FileSystem) RuntimeOption {
	return func(r *Runtime) {
		r.fs = fs
	}
}

// WithTracker sets the live sandbox tracker
func WithTracker(t Tracker) RuntimeOption {
	return func(r *Runtime) {
		r.tracker = t
	}
}

// NewRuntime creates a Runtime on top of backend
func NewRuntime(logger *zap.Logger, config Config, backend Backend, checker execution.Checker, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		logger:  logger,
		config:  config.withDefaults(),
		backend: backend,
		checker: checker,
		fs:      RealFileSystem{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Probe reports whether the backend is reachable
func (r *Runtime) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.ProbeTimeout)
	defer cancel()
	return r.backend.Probe(ctx)
}

// Backend returns the underlying backend
func (r *Runtime) Backend() Backend {
	return r.backend
}

// Execute runs req.Source in a fresh sandbox.
//
// Code behaviour is classified in the result (UNSAFE_CODE, RUNTIME_ERROR,
// TIMEOUT). Host-side faults return a non-nil error alongside a result
// carrying RESOURCE_UNAVAILABLE or INTERNAL_ERROR.
//
//nolint:funlen // Lifecycle steps read best in one place
func (r *Runtime) Execute(ctx context.Context, req execution.Request) (execution.Result, error) {
	start := time.Now()
	// Once started, a submission is not cancelled by its caller; only the
	// wall-clock timeout below stops it.
	ctx = context.WithoutCancel(ctx)

	if err := r.Probe(ctx); err != nil {
		return execution.Failure(execution.ReasonResourceUnavailable, "", "", ""),
			fmt.Errorf("%w: %s: %v", execution.ErrBackendUnavailable, r.backend.Name(), err)
	}

	if ok, rule := r.checker.Check(req.Source); !ok {
		return execution.Failure(execution.ReasonUnsafeCode, "", "", rule), nil
	}

	limits := req.Limits
	if limits.WallClockTimeout <= 0 {
		limits.WallClockTimeout = DefaultTimeout
	}
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = DefaultMemoryMB
	}
	if limits.CPUShare <= 0 {
		limits.CPUShare = DefaultCPUShare
	}

	tempDir, err := r.fs.MkdirTemp(r.config.WorkRoot, NamePrefix+"*")
	if err != nil {
		return internalFailure(), fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := r.fs.RemoveAll(tempDir); rmErr != nil {
			r.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	if chmodErr := r.fs.Chmod(tempDir, DirPermission); chmodErr != nil {
		return internalFailure(), fmt.Errorf("failed to chmod temp dir: %w", chmodErr)
	}

	sourcePath := filepath.Join(tempDir, SourceFileName)
	if writeErr := r.fs.WriteFile(sourcePath, []byte(req.Source), SourceFilePermission); writeErr != nil {
		return internalFailure(), fmt.Errorf("failed to write user code: %w", writeErr)
	}

	name := NamePrefix + uuid.NewString()
	provisionCtx, cancelProvision := context.WithTimeout(ctx, r.config.ProvisionTimeout)
	sb, err := r.backend.Provision(provisionCtx, ProvisionRequest{
		Name:       name,
		SourcePath: sourcePath,
		Limits:     limits,
	})
	cancelProvision()
	if err != nil {
		// a half-created container is still removed
		r.teardown(Sandbox{Name: name, SourcePath: sourcePath})
		return internalFailure(), fmt.Errorf("failed to provision sandbox: %w", err)
	}
	if r.tracker != nil {
		r.tracker.SandboxStarted(r.backend.Name())
	}
	defer func() {
		r.teardown(sb)
		if r.tracker != nil {
			r.tracker.SandboxReleased(r.backend.Name())
		}
	}()

	r.logger.Debug("sandbox running",
		zap.String("sandbox", sb.Name),
		zap.String("backend", r.backend.Name()),
		zap.Duration("timeout", limits.WallClockTimeout),
		zap.Int("memory_mb", limits.MemoryMB),
		zap.Float64("cpu_share", limits.CPUShare))

	runCtx, cancelRun := context.WithTimeout(ctx, limits.WallClockTimeout)
	defer cancelRun()
	out, runErr := r.backend.Run(runCtx, sb, req.Stdin)
	duration := time.Since(start)

	if out.TimedOut || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.logger.Info("sandbox timed out",
			zap.String("sandbox", sb.Name),
			zap.Duration("timeout", limits.WallClockTimeout))
		res := execution.Failure(execution.ReasonTimeout, "", "",
			fmt.Sprintf("exceeded wall-clock timeout of %s", limits.WallClockTimeout))
		res.Duration = duration
		return res, nil
	}
	if runErr != nil {
		return internalFailure(), fmt.Errorf("failed to run sandbox %s: %w", sb.Name, runErr)
	}

	stdout := truncate(out.Stdout, r.config.OutputLimitBytes)
	stderr := truncate(out.Stderr, r.config.OutputLimitBytes)

	if out.ExitCode != 0 {
		res := execution.Failure(execution.ReasonRuntimeError, stdout, stderr,
			fmt.Sprintf("exit code %d", out.ExitCode))
		res.Duration = duration
		return res, nil
	}

	res := execution.Success(stdout, duration)
	res.Stderr = stderr
	return res, nil
}

// teardown releases the sandbox with a context independent of the request
func (r *Runtime) teardown(sb Sandbox) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.TeardownTimeout)
	defer cancel()
	if err := r.backend.Teardown(ctx, sb); err != nil {
		r.logger.Warn("failed to tear down sandbox", zap.String("sandbox", sb.Name), zap.Error(err))
	}
}

func internalFailure() execution.Result {
	return execution.Failure(execution.ReasonInternalError, "", "", "")
}
