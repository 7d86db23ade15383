package grading

import (
	"fmt"
	"strings"

	"github.com/isdmx/codegrade/exercise"
	"github.com/isdmx/codegrade/execution"
)

// Rubric check names, in evaluation order
const (
	CheckExecuted = "executed successfully"
	CheckOutput   = "produced output"
	CheckExpected = "matches expected signal"
)

// Grade scores a single execution with the three-check rubric. Each check
// requires the previous one. A failed execution yields a single failing
// outcome and a score of zero.
func Grade(res execution.Result, coding *exercise.Coding) Result {
	maxScore := maxScoreOf(coding)
	if !res.Succeeded {
		return failed(res, maxScore)
	}

	executed := true
	produced := executed && strings.TrimSpace(res.Stdout) != ""
	matched := produced && containsAny(res.Stdout, acceptedOutputs(coding))

	outcomes := []Outcome{
		{Index: 0, Name: CheckExecuted, Passed: executed},
		{Index: 1, Name: CheckOutput, Passed: produced},
		{Index: 2, Name: CheckExpected, Passed: matched},
	}
	if !produced {
		outcomes[1].Message = "no output was printed"
	}
	if produced && !matched {
		outcomes[2].Message = "output does not contain the expected result"
	}

	r := Result{MaxScore: maxScore, Outcomes: outcomes}
	passed := r.Passed()
	r.Score = scale(maxScore, passed, len(outcomes))
	r.Feedback = fmt.Sprintf("Passed %d of %d checks.", passed, len(outcomes))
	return r
}

// failed is the single-outcome result for an execution that did not succeed
func failed(res execution.Result, maxScore int) Result {
	msg := res.UserMessage()
	return Result{
		Score:    0,
		MaxScore: maxScore,
		Outcomes: []Outcome{{Index: 0, Name: CheckExecuted, Passed: false, Message: msg}},
		Feedback: fmt.Sprintf("Execution failed (%s): %s", res.FailureReason, msg),
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func acceptedOutputs(coding *exercise.Coding) []string {
	if coding == nil {
		return nil
	}
	return coding.AcceptedOutputs
}

func maxScoreOf(coding *exercise.Coding) int {
	if coding == nil || coding.MaxScore <= 0 {
		return exercise.DefaultMaxScore
	}
	return coding.MaxScore
}
