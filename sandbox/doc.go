// Package sandbox provides isolated execution of untrusted submissions.
//
// The Runtime owns the full lifecycle of one sandbox per call: it probes
// the backend, checks the source against the safety filter, materializes
// it read-only in a private temp directory, provisions a container with
// resource limits and no network, runs it under a wall-clock timeout and
// always tears it down. Docker and Podman are driven through their CLI;
// a local backend exists for development only.
//
// Host-side faults are returned as errors wrapping
// execution.ErrBackendUnavailable or as internal failures, never as a
// judgement about the submitted code.
//
// Usage:
//
//	backend, err := sandbox.NewBackend(logger, cfg)
//	rt := sandbox.NewRuntime(logger, sandbox.ConfigFromApp(cfg), backend, filter)
//	result, err := rt.Execute(ctx, execution.Request{
//	    Source: "print('Hello, World!')",
//	    Limits: sandbox.DefaultLimits(cfg),
//	})
package sandbox
