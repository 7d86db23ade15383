package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CLIBackend implements Backend using the docker or podman CLI
type CLIBackend struct {
	binary    string
	logger    *zap.Logger
	config    Config
	cmdRunner CommandRunner
}

// CLIBackendOption defines a functional option for CLIBackend
type CLIBackendOption func(*CLIBackend)

// WithCommandRunner sets the CommandRunner for CLIBackend
func WithCommandRunner(cmdRunner CommandRunner) CLIBackendOption {
	return func(b *CLIBackend) {
		b.cmdRunner = cmdRunner
	}
}

// NewDockerBackend creates a CLIBackend using the docker binary
func NewDockerBackend(logger *zap.Logger, config Config, opts ...CLIBackendOption) *CLIBackend {
	return newCLIBackend(BackendDocker, logger, config, opts...)
}

// NewPodmanBackend creates a CLIBackend using the podman binary
func NewPodmanBackend(logger *zap.Logger, config Config, opts ...CLIBackendOption) *CLIBackend {
	return newCLIBackend(BackendPodman, logger, config, opts...)
}

func newCLIBackend(binary string, logger *zap.Logger, config Config, opts ...CLIBackendOption) *CLIBackend {
	config = config.withDefaults()
	backend := &CLIBackend{
		binary: binary,
		logger: logger,
		config: config,
		// Default implementation; streams are capped one byte above the
		// runtime limit so truncation is detectable
		cmdRunner: RealCommandRunner{MaxOutputBytes: config.OutputLimitBytes},
	}

	for _, opt := range opts {
		opt(backend)
	}

	return backend
}

// Name returns the binary name
func (b *CLIBackend) Name() string {
	return b.binary
}

// Probe checks that the engine daemon answers
func (b *CLIBackend) Probe(ctx context.Context) error {
	args := b.probeArgs()
	_, stderr, exitCode, err := b.cmdRunner.RunCommand(ctx, "", args)
	if err != nil {
		return fmt.Errorf("%s %s: %w", b.binary, args[1], err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s %s exited with %d: %s", b.binary, args[1], exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// probeArgs returns a cheap command that needs the daemon (docker) or the
// storage and runtime setup (podman). The format templates differ: podman
// info has no top-level ID and docker version has no Host.
func (b *CLIBackend) probeArgs() []string {
	if b.binary == BackendPodman {
		return []string{b.binary, "info", "--format", "{{.Host.Arch}}"}
	}
	return []string{b.binary, "version", "--format", "{{.Server.Version}}"}
}

// Provision creates the container without starting it
func (b *CLIBackend) Provision(ctx context.Context, req ProvisionRequest) (Sandbox, error) {
	args := b.createArgs(req)
	_, stderr, exitCode, err := b.cmdRunner.RunCommand(ctx, "", args)
	if err != nil {
		return Sandbox{}, fmt.Errorf("%s create: %w", b.binary, err)
	}
	if exitCode != 0 {
		return Sandbox{}, fmt.Errorf("%s create exited with %d: %s", b.binary, exitCode, strings.TrimSpace(stderr))
	}
	return Sandbox{Name: req.Name, SourcePath: req.SourcePath}, nil
}

// createArgs builds the create command with every isolation flag
func (b *CLIBackend) createArgs(req ProvisionRequest) []string {
	memory := strconv.Itoa(req.Limits.MemoryMB) + "m"
	args := []string{
		b.binary, "create",
		"--name", req.Name,
		"--label", SandboxLabel + "=true",
		"--interactive", // keep stdin open for test case input
		"--network", "none",
		"--memory", memory,
		"--memory-swap", memory, // same as memory: no swap
		"--cpus", strconv.FormatFloat(req.Limits.CPUShare, 'f', 2, 64),
		"--pids-limit", strconv.Itoa(b.config.PIDsLimit),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges:true",
		"--read-only",
		"--tmpfs", fmt.Sprintf("/tmp:rw,noexec,nosuid,size=%dm", b.config.TmpfsSizeMB),
		"--user", "65534:65534",
		"--workdir", "/tmp",
		"--env", "PYTHONDONTWRITEBYTECODE=1",
		"--env", "PYTHONUNBUFFERED=1",
		"-v", req.SourcePath + ":" + ContainerSourcePath + ":ro",
		b.config.Image,
		b.config.Interpreter, ContainerSourcePath,
	}
	return args
}

// Run starts the container attached and waits for it. On deadline the
// container is killed and the output is reported as timed out.
func (b *CLIBackend) Run(ctx context.Context, sb Sandbox, stdin string) (RunOutput, error) {
	stdout, stderr, exitCode, err := b.cmdRunner.RunCommand(ctx, stdin,
		[]string{b.binary, "start", "--attach", "--interactive", sb.Name})

	if ctx.Err() == context.DeadlineExceeded {
		b.kill(sb.Name)
		return RunOutput{Stdout: stdout, Stderr: stderr, ExitCode: -1, TimedOut: true}, nil
	}
	if err != nil {
		return RunOutput{}, fmt.Errorf("%s start: %w", b.binary, err)
	}

	if exitCode == oomExitCode && strings.TrimSpace(stderr) == "" {
		stderr = "process was killed (memory limit exceeded)"
	}

	return RunOutput{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

// oomExitCode is 128+SIGKILL, what the engine reports when the cgroup OOM
// killer ends the process
const oomExitCode = 137

// kill stops a container that outlived its deadline
func (b *CLIBackend) kill(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.TeardownTimeout)
	defer cancel()
	_, stderr, exitCode, err := b.cmdRunner.RunCommand(ctx, "", []string{b.binary, "kill", name})
	if err != nil || exitCode != 0 {
		b.logger.Warn("failed to kill container after timeout",
			zap.String("container", name),
			zap.String("stderr", stderr),
			zap.Error(err))
	}
}

// Teardown force-removes the container. A missing container is not an error.
func (b *CLIBackend) Teardown(ctx context.Context, sb Sandbox) error {
	_, stderr, exitCode, err := b.cmdRunner.RunCommand(ctx, "", []string{b.binary, "rm", "--force", sb.Name})
	if err != nil {
		return fmt.Errorf("%s rm: %w", b.binary, err)
	}
	if exitCode != 0 && !strings.Contains(strings.ToLower(stderr), "no such container") {
		return fmt.Errorf("%s rm exited with %d: %s", b.binary, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// ReapStale removes labelled containers that stopped or were never started
// more than staleAfter ago. Live sandboxes are left alone.
func (b *CLIBackend) ReapStale(ctx context.Context) (int, error) {
	stdout, stderr, exitCode, err := b.cmdRunner.RunCommand(ctx, "", []string{
		b.binary, "container", "prune", "--force",
		"--filter", "label=" + SandboxLabel,
		"--filter", "until=" + staleAfter.String(),
	})
	if err != nil {
		return 0, fmt.Errorf("%s container prune: %w", b.binary, err)
	}
	if exitCode != 0 {
		return 0, fmt.Errorf("%s container prune exited with %d: %s", b.binary, exitCode, strings.TrimSpace(stderr))
	}

	removed := 0
	for _, line := range strings.Split(stdout, "\n") {
		if containerIDPattern.MatchString(strings.TrimSpace(line)) {
			removed++
		}
	}
	return removed, nil
}

// staleAfter is how long a stopped or never started sandbox may exist before
// the reaper removes it
const staleAfter = 2 * time.Minute

var containerIDPattern = regexp.MustCompile(`^[0-9a-f]{12,64}$`)
