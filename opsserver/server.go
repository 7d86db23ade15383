package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/codegrade/grader"
)

// HealthChecker reports the isolation backend status. *grader.Service
// implements it.
type HealthChecker interface {
	ProbeIsolationBackend(ctx context.Context) grader.Health
}

// CheckFunc is an additional dependency check, e.g. a database ping
type CheckFunc func(ctx context.Context) error

// Server serves health and metrics endpoints for operators
type Server struct {
	logger   *zap.Logger
	health   HealthChecker
	registry *prometheus.Registry
	checks   map[string]CheckFunc
	timeout  time.Duration
	router   chi.Router
	http     *http.Server
}

// Option defines a functional option for Server
type Option func(*Server)

// WithRegistry exposes reg on /metrics
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithCheck adds a named dependency check to /healthz
func WithCheck(name string, check CheckFunc) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithCheckTimeout bounds every health check
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// DefaultCheckTimeout bounds health checks unless overridden
const DefaultCheckTimeout = 5 * time.Second

// New creates a Server
func New(logger *zap.Logger, health HealthChecker, opts ...Option) *Server {
	s := &Server{
		logger:  logger,
		health:  health,
		checks:  make(map[string]CheckFunc),
		timeout: DefaultCheckTimeout,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/healthz", s.handleHealth)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status  string            `json:"status"`
	Backend grader.Health     `json:"backend"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Status values
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp := HealthResponse{Status: StatusOK, Backend: s.health.ProbeIsolationBackend(ctx)}
	if !resp.Backend.Healthy {
		resp.Status = StatusDegraded
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = StatusDegraded
			continue
		}
		resp.Checks[name] = StatusOK
	}

	code := http.StatusOK
	if resp.Status != StatusOK {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to write health response", zap.Error(err))
	}
}

// requestLogger logs every request through zap
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("ops request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// Start listens on port in the background. Listen errors are returned
// immediately; serve errors are logged.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ops server listen on %s: %w", addr, err)
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting ops server", zap.String("addr", addr))
	go func() {
		if serveErr := s.http.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("ops server stopped", zap.Error(serveErr))
		}
	}()
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
