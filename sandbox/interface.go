package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/isdmx/codegrade/execution"
)

// ProvisionRequest describes one sandbox to create
type ProvisionRequest struct {
	Name       string
	SourcePath string // host path of the read-only source file
	Limits     execution.Limits
}

// Sandbox is a provisioned, not yet torn down, sandbox
type Sandbox struct {
	Name       string
	SourcePath string
}

// RunOutput is the raw output of one sandbox run
type RunOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Backend is the capability interface of an isolation backend
type Backend interface {
	Name() string
	// Probe checks that the backend is reachable. It never runs user code.
	Probe(ctx context.Context) error
	Provision(ctx context.Context, req ProvisionRequest) (Sandbox, error)
	// Run executes the sandbox until it exits or ctx expires. An expired
	// context is reported through RunOutput.TimedOut, not as an error.
	Run(ctx context.Context, sb Sandbox, stdin string) (RunOutput, error)
	Teardown(ctx context.Context, sb Sandbox) error
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, stdin string, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands.
// Each stream keeps at most MaxOutputBytes+1 bytes so callers can detect
// overflow; zero means unbounded.
type RealCommandRunner struct {
	MaxOutputBytes int
	WaitDelay      time.Duration
}

// RunCommand executes the given command with arguments. When ctx expires the
// process is killed and ctx.Err() is returned with whatever output was
// captured.
func (r RealCommandRunner) RunCommand(ctx context.Context, stdin string, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Arguments are built by the backends, not by users
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = newCappedWriter(&stdoutBuf, r.MaxOutputBytes)
	cmd.Stderr = newCappedWriter(&stderrBuf, r.MaxOutputBytes)

	err = cmd.Run()
	if ctx.Err() != nil {
		return stdoutBuf.String(), stderrBuf.String(), -1, ctx.Err()
	}

	exitCode = 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// cappedWriter stops storing after limit+1 bytes and silently discards the rest
type cappedWriter struct {
	w         io.Writer
	remaining int
	unbounded bool
}

func newCappedWriter(w io.Writer, limit int) *cappedWriter {
	return &cappedWriter{w: w, remaining: limit + 1, unbounded: limit <= 0}
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if c.unbounded {
		return c.w.Write(p)
	}
	if c.remaining <= 0 {
		return len(p), nil
	}
	chunk := p
	if len(chunk) > c.remaining {
		chunk = chunk[:c.remaining]
	}
	n, err := c.w.Write(chunk)
	c.remaining -= n
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	Chmod(path string, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(filename, data, perm); err != nil {
		return err
	}
	// WriteFile does not change the mode of an existing file and is subject
	// to umask
	return os.Chmod(filename, perm)
}

func (RealFileSystem) Chmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Backend names
const (
	BackendDocker = "docker"
	BackendPodman = "podman"
	BackendLocal  = "local"
)

// File permission constants
const (
	DirPermission        = 0755
	SourceFilePermission = 0444
)

// Sandbox layout and defaults
const (
	SourceFileName      = "main.py"
	ContainerSourcePath = "/sandbox/" + SourceFileName
	SandboxLabel        = "codegrade.sandbox"
	NamePrefix          = "codegrade-"
	TruncationMarker    = "\n...[output truncated]"

	DefaultImage            = "python:3.11-alpine"
	DefaultInterpreter      = "python"
	DefaultTimeout          = 10 * time.Second
	DefaultMemoryMB         = 128
	DefaultCPUShare         = 0.5
	DefaultPIDsLimit        = 64
	DefaultTmpfsSizeMB      = 16
	DefaultOutputLimitBytes = 64 * 1024
	DefaultProvisionTimeout = 30 * time.Second
	DefaultTeardownTimeout  = 10 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultWaitDelay        = 2 * time.Second
)

// truncate caps s at limit bytes and appends TruncationMarker when it was cut
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + TruncationMarker
}
