// Package execution provides the execution coordinator and its result types.
//
// The coordinator runs the static safety check and then the sandbox executor,
// and normalizes every outcome, including host-side faults and panics, into a
// single Result with a FailureReason. Layers above never handle backend
// specific errors.
//
// Usage:
//
//	coord := execution.NewCoordinator(logger, filter, runtime, limits)
//	res := coord.Execute(ctx, execution.Request{Source: "print('hi')"})
//	if !res.Succeeded {
//	    fmt.Println(res.FailureReason, res.UserMessage())
//	}
package execution
