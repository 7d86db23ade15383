package sandbox

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// LocalBackend implements Backend using local execution (for development only)
type LocalBackend struct {
	logger    *zap.Logger
	config    Config
	cmdRunner CommandRunner
}

// LocalBackendOption defines a functional option for LocalBackend
type LocalBackendOption func(*LocalBackend)

// WithLocalCommandRunner sets the CommandRunner for LocalBackend
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalBackendOption {
	return func(l *LocalBackend) {
		l.cmdRunner = cmdRunner
	}
}

// NewLocalBackend creates a new LocalBackend with default implementations and optional interfaces
func NewLocalBackend(logger *zap.Logger, config Config, opts ...LocalBackendOption) *LocalBackend {
	config = config.withDefaults()
	backend := &LocalBackend{
		logger:    logger,
		config:    config,
		cmdRunner: RealCommandRunner{MaxOutputBytes: config.OutputLimitBytes},
	}

	for _, opt := range opts {
		opt(backend)
	}

	return backend
}

// Name returns BackendLocal
func (*LocalBackend) Name() string {
	return BackendLocal
}

// Probe checks that the interpreter can be started
func (l *LocalBackend) Probe(ctx context.Context) error {
	_, stderr, exitCode, err := l.cmdRunner.RunCommand(ctx, "", []string{l.config.Interpreter, "--version"})
	if err != nil {
		return fmt.Errorf("%s --version: %w", l.config.Interpreter, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s --version exited with %d: %s", l.config.Interpreter, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// Provision only records the source path; there is nothing to create
func (l *LocalBackend) Provision(_ context.Context, req ProvisionRequest) (Sandbox, error) {
	l.logger.Warn("local backend provides no isolation, use it for development only",
		zap.String("sandbox", req.Name))
	return Sandbox{Name: req.Name, SourcePath: req.SourcePath}, nil
}

// Run executes the interpreter against the source file
func (l *LocalBackend) Run(ctx context.Context, sb Sandbox, stdin string) (RunOutput, error) {
	// -I: isolated mode, ignores PYTHON* env vars and the user site dir
	stdout, stderr, exitCode, err := l.cmdRunner.RunCommand(ctx, stdin, []string{l.config.Interpreter, "-I", sb.SourcePath})
	if ctx.Err() == context.DeadlineExceeded {
		return RunOutput{Stdout: stdout, Stderr: stderr, ExitCode: -1, TimedOut: true}, nil
	}
	if err != nil {
		return RunOutput{}, fmt.Errorf("failed to execute command: %w", err)
	}
	return RunOutput{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

// Teardown is a no-op; the runtime removes the materialized source
func (*LocalBackend) Teardown(context.Context, Sandbox) error {
	return nil
}
