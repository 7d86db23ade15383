package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codegrade/config"
	"github.com/isdmx/codegrade/execution"
	"github.com/isdmx/codegrade/exercise"
	"github.com/isdmx/codegrade/grader"
	"github.com/isdmx/codegrade/lock"
	"github.com/isdmx/codegrade/logger"
	"github.com/isdmx/codegrade/mcpserver"
	"github.com/isdmx/codegrade/metrics"
	"github.com/isdmx/codegrade/opsserver"
	"github.com/isdmx/codegrade/progress"
	"github.com/isdmx/codegrade/safety"
	"github.com/isdmx/codegrade/sandbox"
	"github.com/isdmx/codegrade/storage"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Prometheus registry, nil when metrics are disabled
			newRegistry,
			metrics.New,

			// Execution pipeline
			newFilter,
			sandbox.NewBackend,
			newRuntime,
			newCoordinator,

			// Catalog and progress
			newCatalog,
			newProgressStore,
			newLocker,
			newReconciler,

			// Inbound surfaces
			newGraderService,
			newMCPServer,
			newOpsServer,
		),

		fx.Invoke(
			registerReaper,
			registerOpsServer,
			registerTransport,
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newRegistry(cfg *config.Config) *prometheus.Registry {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return prometheus.NewRegistry()
}

func newFilter(cfg *config.Config) (*safety.Filter, error) {
	return safety.New(cfg.Safety.ExtraPatterns)
}

func newRuntime(log *zap.Logger, cfg *config.Config, backend sandbox.Backend, filter *safety.Filter, m *metrics.Metrics) *sandbox.Runtime {
	return sandbox.NewRuntime(log, sandbox.ConfigFromApp(cfg), backend, filter, sandbox.WithTracker(m))
}

func newCoordinator(log *zap.Logger, cfg *config.Config, filter *safety.Filter, rt *sandbox.Runtime, m *metrics.Metrics) *execution.Coordinator {
	return execution.NewCoordinator(log, filter, rt, sandbox.DefaultLimits(cfg), execution.WithObserver(m))
}

func newCatalog(log *zap.Logger, cfg *config.Config) (exercise.Store, error) {
	catalog, err := exercise.LoadFile(cfg.Exercises.CatalogPath)
	if err != nil {
		return nil, err
	}
	log.Info("exercise catalog loaded",
		zap.String("path", cfg.Exercises.CatalogPath),
		zap.Int("exercises", catalog.Len()))
	return catalog, nil
}

func newProgressStore(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) (progress.Store, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("progress is kept in memory and lost on restart")
		return progress.NewMemoryStore(), nil
	}

	store, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(store.Close))
	return store, nil
}

func newLocker(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) lock.Locker {
	if cfg.Lock.Backend != "redis" {
		return lock.NewMemoryLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
	})
	lc.Append(fx.StopHook(client.Close))
	return lock.NewRedisLocker(client, log, cfg.GetLockTTL())
}

func newReconciler(log *zap.Logger, store progress.Store, locker lock.Locker) *progress.Reconciler {
	return progress.NewReconciler(log, store, locker)
}

type serviceParams struct {
	fx.In

	Logger      *zap.Logger
	Coordinator *execution.Coordinator
	Runtime     *sandbox.Runtime
	Exercises   exercise.Store
	Reconciler  *progress.Reconciler
	Records     progress.Store
	Metrics     *metrics.Metrics
}

func newGraderService(p serviceParams) *grader.Service {
	return grader.NewService(p.Logger, grader.Params{
		Runner:      p.Coordinator,
		Prober:      p.Runtime,
		BackendName: p.Runtime.Backend().Name(),
		Exercises:   p.Exercises,
		Reconciler:  p.Reconciler,
		Records:     p.Records,
		Metrics:     p.Metrics,
	})
}

func newMCPServer(cfg *config.Config, log *zap.Logger, svc *grader.Service) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, svc)
}

// pinger is implemented by stores and lockers backed by a remote service
type pinger interface {
	Ping(ctx context.Context) error
}

func newOpsServer(log *zap.Logger, svc *grader.Service, reg *prometheus.Registry, store progress.Store, locker lock.Locker) *opsserver.Server {
	var opts []opsserver.Option
	if reg != nil {
		opts = append(opts, opsserver.WithRegistry(reg))
	}
	if p, ok := store.(pinger); ok {
		opts = append(opts, opsserver.WithCheck("storage", p.Ping))
	}
	if p, ok := locker.(pinger); ok {
		opts = append(opts, opsserver.WithCheck("lock", p.Ping))
	}
	return opsserver.New(log, svc, opts...)
}

func registerOpsServer(lc fx.Lifecycle, cfg *config.Config, ops *opsserver.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return ops.Start(cfg.Server.OpsPort)
		},
		OnStop: ops.Shutdown,
	})
}

func registerReaper(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, backend sandbox.Backend, m *metrics.Metrics) {
	target, ok := backend.(sandbox.Reapable)
	if !ok {
		log.Debug("sandbox backend has nothing to reap", zap.String("backend", backend.Name()))
		return
	}

	reaper := sandbox.NewReaper(log, target, cfg.Sandbox.ReapSchedule, sandbox.WithReapObserver(m))
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return reaper.Start()
		},
		OnStop: reaper.Stop,
	})
}

// registerTransport serves MCP on the configured transport. The application
// shuts down when the transport ends, e.g. when stdin is closed. The HTTP
// port is bound before OnStart returns so a bind failure aborts startup.
func registerTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger, cfg *config.Config, server *mcpserver.MCPServer) {
	serve := server.ServeStdio
	if cfg.Server.Transport == "http" {
		serve = server.ServeHTTP
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if cfg.Server.Transport == "http" {
				if err := server.ListenHTTP(fmt.Sprintf(":%d", cfg.Server.HTTPPort)); err != nil {
					return err
				}
			}
			go func() {
				if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("MCP transport stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
}
