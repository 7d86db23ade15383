package execution

import (
	"errors"
	"fmt"
	"time"
)

// FailureReason classifies why an execution did not succeed
type FailureReason string

// FailureReason values
const (
	ReasonNone                FailureReason = "NONE"
	ReasonUnsafeCode          FailureReason = "UNSAFE_CODE"
	ReasonRuntimeError        FailureReason = "RUNTIME_ERROR"
	ReasonTimeout             FailureReason = "TIMEOUT"
	ReasonResourceUnavailable FailureReason = "RESOURCE_UNAVAILABLE"
	ReasonInternalError       FailureReason = "INTERNAL_ERROR"
)

// Retryable reports whether the failure is an infrastructure fault that should
// be retried instead of being scored against the student.
func (r FailureReason) Retryable() bool {
	return r == ReasonResourceUnavailable || r == ReasonInternalError
}

// GenericUnavailableMessage is shown for infrastructure failures
const GenericUnavailableMessage = "service temporarily unavailable"

// ErrBackendUnavailable is wrapped by executors when the isolation backend
// cannot be reached
var ErrBackendUnavailable = errors.New("isolation backend unavailable")

// Limits bounds a single sandbox
type Limits struct {
	WallClockTimeout time.Duration
	MemoryMB         int
	CPUShare         float64
}

// Request is a single execution of submitted source
type Request struct {
	Source string
	Stdin  string
	Limits Limits
}

// Result is the normalized outcome of one execution. It is created once and
// passed by value.
type Result struct {
	Succeeded     bool          `json:"succeeded"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	FailureReason FailureReason `json:"failure_reason"`
	// Detail is the operator-facing explanation (violated rule, timeout).
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Success builds a successful result
func Success(stdout string, duration time.Duration) Result {
	return Result{
		Succeeded:     true,
		Stdout:        stdout,
		FailureReason: ReasonNone,
		Duration:      duration,
	}
}

// Failure builds a failed result
func Failure(reason FailureReason, stdout, stderr, detail string) Result {
	return Result{
		Stdout:        stdout,
		Stderr:        stderr,
		FailureReason: reason,
		Detail:        detail,
	}
}

// UserMessage returns the human-readable reason shown to the submitter.
// Infrastructure failures are reported generically.
func (r Result) UserMessage() string {
	switch r.FailureReason {
	case ReasonNone:
		return ""
	case ReasonUnsafeCode:
		return fmt.Sprintf("code contains an unsafe operation: %s", r.Detail)
	case ReasonRuntimeError:
		if r.Stderr != "" {
			return r.Stderr
		}
		return "code exited with an error"
	case ReasonTimeout:
		return "execution timed out"
	default:
		return GenericUnavailableMessage
	}
}
