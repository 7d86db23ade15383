package sandbox

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
)

type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing. Results are keyed
// by the subcommand (the second argument), e.g. "create" or "start".
type MockCommandRunner struct {
	mu             sync.Mutex
	commandResults map[string]commandResult
	defaultResult  commandResult
	calls          [][]string
	stdins         []string
	// blockOn makes the named subcommand wait for ctx to expire
	blockOn string
}

func (m *MockCommandRunner) RunCommand(ctx context.Context, stdin string, args []string) (stdout, stderr string, exitCode int, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, args)
	m.stdins = append(m.stdins, stdin)
	blockOn := m.blockOn
	m.mu.Unlock()

	key := ""
	if len(args) > 1 {
		key = args[1]
	}

	if blockOn != "" && key == blockOn {
		<-ctx.Done()
		return "partial", "", -1, ctx.Err()
	}

	if result, exists := m.commandResults[key]; exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}
	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) subcommands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.calls))
	for _, c := range m.calls {
		if len(c) > 1 {
			out = append(out, c[1])
		}
	}
	return out
}

func (m *MockCommandRunner) call(sub string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if len(c) > 1 && c[1] == sub {
			return c
		}
	}
	return nil
}

// fakeBackend implements Backend with scripted behaviour and counters
type fakeBackend struct {
	mu           sync.Mutex
	probeErr     error
	provisionErr error
	runOut       RunOutput
	runErr       error
	waitForCtx   bool
	teardownErr  error

	provisions   int
	teardowns    int
	lastRequest  ProvisionRequest
	lastStdin    string
	sourceAtRun  string
	sourceExists bool
}

func (*fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Probe(context.Context) error { return f.probeErr }

func (f *fakeBackend) Provision(_ context.Context, req ProvisionRequest) (Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisions++
	f.lastRequest = req
	if f.provisionErr != nil {
		return Sandbox{}, f.provisionErr
	}
	return Sandbox{Name: req.Name, SourcePath: req.SourcePath}, nil
}

func (f *fakeBackend) Run(ctx context.Context, sb Sandbox, stdin string) (RunOutput, error) {
	f.mu.Lock()
	f.lastStdin = stdin
	if data, err := os.ReadFile(sb.SourcePath); err == nil {
		f.sourceAtRun = string(data)
		f.sourceExists = true
	}
	f.mu.Unlock()

	if f.waitForCtx {
		<-ctx.Done()
		return RunOutput{TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded)}, nil
	}
	return f.runOut, f.runErr
}

func (f *fakeBackend) Teardown(context.Context, Sandbox) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	return f.teardownErr
}

// denyImports rejects sources containing "import os"
type denyImports struct{}

func (denyImports) Check(source string) (bool, string) {
	if strings.Contains(source, "import os") {
		return false, "import os"
	}
	return true, ""
}

type countingTracker struct {
	mu       sync.Mutex
	started  int
	released int
}

func (c *countingTracker) SandboxStarted(string) {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

func (c *countingTracker) SandboxReleased(string) {
	c.mu.Lock()
	c.released++
	c.mu.Unlock()
}
