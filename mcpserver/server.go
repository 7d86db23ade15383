package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codegrade/config"
	"github.com/isdmx/codegrade/exercise"
	"github.com/isdmx/codegrade/grader"
	"github.com/isdmx/codegrade/progress"
)

// Tool names
const (
	ToolRunCode              = "run_code"
	ToolSubmitCode           = "submit_code"
	ToolSubmitMultipleChoice = "submit_multiple_choice"
	ToolSubmitFillBlank      = "submit_fill_blank"
	ToolGetProgress          = "get_progress"
	ToolProbeBackend         = "probe_isolation_backend"
)

// Grader is the grading surface exposed as tools. *grader.Service implements it.
type Grader interface {
	RunEphemeral(ctx context.Context, source string) (grader.Ephemeral, error)
	SubmitForGrading(ctx context.Context, id grader.Identity, exerciseID, source string) (grader.Submission, error)
	SubmitMultipleChoice(ctx context.Context, id grader.Identity, exerciseID string, answers map[string]int) (grader.Submission, error)
	SubmitFillBlank(ctx context.Context, id grader.Identity, exerciseID string, answers []string) (grader.Submission, error)
	Progress(ctx context.Context, id grader.Identity, exerciseID string) (progress.Record, error)
	ProbeIsolationBackend(ctx context.Context) grader.Health
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	grader     Grader
	mcpServer  *server.MCPServer

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	closed     bool
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, g Grader) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		grader: g,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int("server.ops_port", s.config.Server.OpsPort),
		zap.String("sandbox.backend", s.config.Sandbox.Backend),
		zap.String("sandbox.image", s.config.Sandbox.Image),
		zap.Int("sandbox.timeout_sec", s.config.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", s.config.Sandbox.MemoryMB),
		zap.Float64("sandbox.cpu_share", s.config.Sandbox.CPUShare),
		zap.Bool("sandbox.enable_local_backend", s.config.Sandbox.EnableLocalBackend),
		zap.String("storage.driver", s.config.Storage.Driver),
		zap.String("lock.backend", s.config.Lock.Backend),
		zap.String("exercises.catalog_path", s.config.Exercises.CatalogPath),
	)

	s.mcpServer = server.NewMCPServer("codegrade", "Grades Python submissions in isolated sandboxes")
	s.registerTools()

	return s, nil
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// registerTools registers every grading tool
func (s *MCPServer) registerTools() {
	submitter := stringProp("Authenticated submitter identifier")
	exerciseID := stringProp("Exercise identifier from the catalog")

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolRunCode,
		Description: "Run Python code in a sandbox without grading or recording it",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"code": stringProp("Python source code")},
			Required:   []string{"code"},
		},
	}, s.handleRunCode)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolSubmitCode,
		Description: "Grade Python code against an exercise and record the attempt",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"submitter_id": submitter,
				"exercise_id":  exerciseID,
				"code":         stringProp("Python source code"),
			},
			Required: []string{"submitter_id", "exercise_id", "code"},
		},
	}, s.handleSubmitCode)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolSubmitMultipleChoice,
		Description: "Grade multiple choice answers and record the attempt",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"submitter_id": submitter,
				"exercise_id":  exerciseID,
				"answers": map[string]any{
					"type":                 "object",
					"description":          "Question id to chosen option index (0-based)",
					"additionalProperties": map[string]any{"type": "integer"},
				},
			},
			Required: []string{"submitter_id", "exercise_id", "answers"},
		},
	}, s.handleSubmitMultipleChoice)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolSubmitFillBlank,
		Description: "Grade fill-in-the-blank answers and record the attempt",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"submitter_id": submitter,
				"exercise_id":  exerciseID,
				"answers": map[string]any{
					"type":        "array",
					"description": "Answers in blank order across all items",
					"items":       map[string]any{"type": "string"},
				},
			},
			Required: []string{"submitter_id", "exercise_id", "answers"},
		},
	}, s.handleSubmitFillBlank)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolGetProgress,
		Description: "Return the submitter's progress on an exercise",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"submitter_id": submitter,
				"exercise_id":  exerciseID,
			},
			Required: []string{"submitter_id", "exercise_id"},
		},
	}, s.handleGetProgress)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolProbeBackend,
		Description: "Report whether the isolation backend is reachable",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleProbeBackend)
}

func (s *MCPServer) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return errResult(err.Error()), nil
	}

	out, err := s.grader.RunEphemeral(ctx, code)
	if err != nil {
		return s.failure(ToolRunCode, err, out), nil
	}
	return jsonResult(out, false), nil
}

func (s *MCPServer) handleSubmitCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, exerciseID, err := target(request)
	if err != nil {
		return errResult(err.Error()), nil
	}
	code, err := request.RequireString("code")
	if err != nil {
		return errResult(err.Error()), nil
	}

	s.logger.Info("code submission received",
		zap.String("submitter", id.SubmitterID),
		zap.String("exercise", exerciseID),
		zap.Int("code_len", len(code)))

	sub, err := s.grader.SubmitForGrading(ctx, id, exerciseID, code)
	if err != nil {
		return s.failure(ToolSubmitCode, err, sub), nil
	}
	return jsonResult(sub, false), nil
}

func (s *MCPServer) handleSubmitMultipleChoice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, exerciseID, err := target(request)
	if err != nil {
		return errResult(err.Error()), nil
	}

	raw, ok := request.GetArguments()["answers"].(map[string]any)
	if !ok {
		return errResult("answers must be an object of question id to option index"), nil
	}
	answers := make(map[string]int, len(raw))
	for q, v := range raw {
		idx, isNumber := asInt(v)
		if !isNumber {
			return errResult(fmt.Sprintf("answer for %q must be an integer", q)), nil
		}
		answers[q] = idx
	}

	sub, err := s.grader.SubmitMultipleChoice(ctx, id, exerciseID, answers)
	if err != nil {
		return s.failure(ToolSubmitMultipleChoice, err, sub), nil
	}
	return jsonResult(sub, false), nil
}

func (s *MCPServer) handleSubmitFillBlank(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, exerciseID, err := target(request)
	if err != nil {
		return errResult(err.Error()), nil
	}

	raw, ok := request.GetArguments()["answers"].([]any)
	if !ok {
		return errResult("answers must be an array of strings"), nil
	}
	answers := make([]string, 0, len(raw))
	for i, v := range raw {
		answer, isString := v.(string)
		if !isString {
			return errResult(fmt.Sprintf("answer %d must be a string", i)), nil
		}
		answers = append(answers, answer)
	}

	sub, err := s.grader.SubmitFillBlank(ctx, id, exerciseID, answers)
	if err != nil {
		return s.failure(ToolSubmitFillBlank, err, sub), nil
	}
	return jsonResult(sub, false), nil
}

func (s *MCPServer) handleGetProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, exerciseID, err := target(request)
	if err != nil {
		return errResult(err.Error()), nil
	}

	rec, err := s.grader.Progress(ctx, id, exerciseID)
	if err != nil {
		return s.failure(ToolGetProgress, err, nil), nil
	}
	return jsonResult(rec, false), nil
}

func (s *MCPServer) handleProbeBackend(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	health := s.grader.ProbeIsolationBackend(ctx)
	return jsonResult(health, !health.Healthy), nil
}

// failure maps a service error onto a tool error. Partial results (a grade
// that could not be recorded, the generic unavailable message) are kept.
func (s *MCPServer) failure(tool string, err error, partial any) *mcp.CallToolResult {
	switch {
	case errors.Is(err, grader.ErrInvalidSubmission),
		errors.Is(err, exercise.ErrNotFound),
		errors.Is(err, progress.ErrRecordNotFound):
		return errResult(err.Error())
	case errors.Is(err, grader.ErrServiceUnavailable):
		return errResult(grader.ErrServiceUnavailable.Error())
	case errors.Is(err, progress.ErrPersistence):
		s.logger.Error("graded submission was not recorded", zap.String("tool", tool), zap.Error(err))
		return jsonResult(struct {
			Result any    `json:"result"`
			Error  string `json:"error"`
		}{partial, "submission graded but progress could not be saved"}, true)
	default:
		s.logger.Error("tool failed", zap.String("tool", tool), zap.Error(err))
		return errResult("internal error")
	}
}

// target reads the submitter and exercise arguments shared by most tools
func target(request mcp.CallToolRequest) (grader.Identity, string, error) {
	submitter, err := request.RequireString("submitter_id")
	if err != nil {
		return grader.Identity{}, "", err
	}
	exerciseID, err := request.RequireString("exercise_id")
	if err != nil {
		return grader.Identity{}, "", err
	}
	return grader.Identity{SubmitterID: submitter}, exerciseID, nil
}

// asInt accepts JSON numbers that hold an integer value
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func jsonResult(v any, isError bool) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(data)}},
		IsError: isError,
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ListenHTTP binds the streamable HTTP transport on addr. The endpoint is
// /mcp. Requests are served once ServeHTTP runs.
func (s *MCPServer) ListenHTTP(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return http.ErrServerClosed
	}
	if s.listener != nil {
		return fmt.Errorf("MCP HTTP transport already listening on %s", s.listener.Addr())
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("MCP server listen on %s: %w", addr, err)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/mcp", server.NewStreamableHTTPServer(s.mcpServer))

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("starting MCP server on HTTP", zap.String("addr", ln.Addr().String()))
	return nil
}

// ServeHTTP serves the HTTP transport until Shutdown. It listens on the
// configured port first unless ListenHTTP already ran.
func (s *MCPServer) ServeHTTP() error {
	s.mu.Lock()
	bound := s.listener != nil
	s.mu.Unlock()
	if !bound {
		if err := s.ListenHTTP(fmt.Sprintf(":%d", s.config.Server.HTTPPort)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	srv, ln := s.httpServer, s.listener
	s.mu.Unlock()
	// Serve returns ErrServerClosed at once if Shutdown already ran
	return srv.Serve(ln)
}

// Addr returns the bound HTTP address, or nil before ListenHTTP
func (s *MCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the HTTP transport. A later ListenHTTP fails with
// http.ErrServerClosed.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv, ln := s.httpServer, s.listener
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	// the listener is still open if Serve never ran
	if closeErr := ln.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && err == nil {
		err = closeErr
	}
	return err
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
