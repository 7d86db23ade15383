package grading

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/codegrade/exercise"
	"github.com/isdmx/codegrade/execution"
)

// Runner executes one request and always yields a normalized result
type Runner interface {
	Execute(ctx context.Context, req execution.Request) execution.Result
}

// Engine grades coding submissions by running them through a Runner
type Engine struct {
	logger *zap.Logger
	runner Runner
}

// NewEngine creates a grading Engine
func NewEngine(logger *zap.Logger, runner Runner) *Engine {
	return &Engine{logger: logger, runner: runner}
}

// GradeSource runs source against the coding component. Without test cases
// the rubric applies to a single execution; otherwise GradeCases runs one
// execution per case. The returned execution.Result is the one that decided
// the outcome: the aborting failure, or the last run.
func (e *Engine) GradeSource(ctx context.Context, source string, coding *exercise.Coding) (Result, execution.Result) {
	if coding != nil && len(coding.TestCases) > 0 {
		return e.GradeCases(ctx, source, coding)
	}

	res := e.runner.Execute(ctx, execution.Request{Source: source})
	return Grade(res, coding), res
}

// GradeCases runs every test case with its input on stdin and compares the
// trimmed stdout with the trimmed expectation. A runtime error or timeout
// fails only its case; unsafe code and infrastructure failures abort.
func (e *Engine) GradeCases(ctx context.Context, source string, coding *exercise.Coding) (Result, execution.Result) {
	maxScore := maxScoreOf(coding)
	outcomes := make([]Outcome, 0, len(coding.TestCases))
	var last execution.Result

	for i, tc := range coding.TestCases {
		res := e.runner.Execute(ctx, execution.Request{Source: source, Stdin: tc.Input})
		last = res

		if !res.Succeeded && !caseLocal(res.FailureReason) {
			e.logger.Debug("test case run aborted grading",
				zap.Int("case", i),
				zap.String("reason", string(res.FailureReason)))
			return failed(res, maxScore), res
		}

		outcome := Outcome{Index: i, Name: fmt.Sprintf("test case %d", i+1)}
		switch {
		case !res.Succeeded:
			outcome.Message = res.UserMessage()
		case strings.TrimSpace(res.Stdout) == strings.TrimSpace(tc.Expected):
			outcome.Passed = true
		default:
			outcome.Message = fmt.Sprintf("expected %q, got %q",
				strings.TrimSpace(tc.Expected), strings.TrimSpace(res.Stdout))
		}
		outcomes = append(outcomes, outcome)
	}

	r := Result{MaxScore: maxScore, Outcomes: outcomes}
	passed := r.Passed()
	r.Score = scale(maxScore, passed, len(outcomes))
	r.Feedback = fmt.Sprintf("Passed %d of %d test cases.", passed, len(outcomes))
	return r, last
}

// caseLocal reports whether a failure belongs to a single test case
func caseLocal(reason execution.FailureReason) bool {
	return reason == execution.ReasonRuntimeError || reason == execution.ReasonTimeout
}
