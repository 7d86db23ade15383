package execution

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Executor runs source inside an isolation backend. Implementations classify
// code behaviour (runtime error, timeout, unsafe code) in the Result and
// return an error for host-side faults.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Checker is the static safety check run before any executor call
type Checker interface {
	Check(source string) (bool, string)
}

// Observer receives one callback per finished execution
type Observer interface {
	ObserveExecution(reason FailureReason, duration time.Duration)
}

// Coordinator runs the safety check and the executor and folds every path
// into exactly one Result
type Coordinator struct {
	checker  Checker
	executor Executor
	limits   Limits
	logger   *zap.Logger
	observer Observer
}

// CoordinatorOption defines a functional option for Coordinator
type CoordinatorOption func(*Coordinator)

// WithObserver sets an execution observer (metrics)
func WithObserver(o Observer) CoordinatorOption {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// NewCoordinator creates a Coordinator applying limits to every request that
// does not carry its own
func NewCoordinator(logger *zap.Logger, checker Checker, executor Executor, limits Limits, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		checker:  checker,
		executor: executor,
		limits:   limits,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limits returns the default per-sandbox limits
func (c *Coordinator) Limits() Limits {
	return c.limits
}

// Execute runs the request and never returns an error: backend faults are
// mapped onto the FailureReason enum
func (c *Coordinator) Execute(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("executor panicked", zap.Any("panic", p))
			res = Failure(ReasonInternalError, "", "", "")
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
		if c.observer != nil {
			c.observer.ObserveExecution(res.FailureReason, res.Duration)
		}
	}()

	if ok, rule := c.checker.Check(req.Source); !ok {
		c.logger.Info("submission rejected by safety filter", zap.String("rule", rule))
		return Failure(ReasonUnsafeCode, "", "", rule)
	}

	if req.Limits == (Limits{}) {
		req.Limits = c.limits
	}

	result, err := c.executor.Execute(ctx, req)
	if err != nil {
		reason := ReasonInternalError
		if errors.Is(err, ErrBackendUnavailable) {
			reason = ReasonResourceUnavailable
		}
		c.logger.Error("execution failed on host side",
			zap.String("reason", string(reason)),
			zap.Error(err))
		// err stays in the log; callers only see the reason
		return Failure(reason, "", "", "")
	}

	return normalize(result)
}

// normalize keeps the Succeeded flag and the reason consistent
func normalize(r Result) Result {
	switch {
	case r.Succeeded:
		r.FailureReason = ReasonNone
	case r.FailureReason == "" || r.FailureReason == ReasonNone:
		r.FailureReason = ReasonInternalError
	}
	if r.FailureReason == ReasonTimeout {
		r.Stdout = ""
	}
	if r.FailureReason.Retryable() {
		r.Stdout, r.Stderr, r.Detail = "", "", ""
	}
	return r
}
