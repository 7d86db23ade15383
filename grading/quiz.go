package grading

import (
	"fmt"
	"strings"

	"github.com/isdmx/codegrade/exercise"
)

// GradeMultipleChoice awards each question's points when the chosen option
// index matches. answers maps question id to option index; unanswered
// questions fail.
func GradeMultipleChoice(mc *exercise.MultipleChoice, answers map[string]int) Result {
	var r Result
	if mc == nil {
		return r
	}

	for i, q := range mc.Questions {
		r.MaxScore += q.Points
		outcome := Outcome{Index: i, Name: q.ID}
		chosen, answered := answers[q.ID]
		switch {
		case !answered:
			outcome.Message = "not answered"
		case chosen == q.CorrectIndex:
			outcome.Passed = true
			r.Score += q.Points
		default:
			outcome.Message = q.Explanation
		}
		r.Outcomes = append(r.Outcomes, outcome)
	}

	r.Feedback = fmt.Sprintf("Earned %d of %d points on multiple choice questions.", r.Score, r.MaxScore)
	return r
}

// GradeFillBlank checks answers against the blanks in catalog order: the
// first len(item.Blanks) answers belong to the first item and so on. Each
// item earns int(correct * points / blanks).
func GradeFillBlank(fb *exercise.FillBlank, answers []string) Result {
	var r Result
	if fb == nil {
		return r
	}

	offset := 0
	for _, item := range fb.Items {
		r.MaxScore += item.Points
		correct := 0
		for _, blank := range item.Blanks {
			outcome := Outcome{Index: offset}
			if offset < len(answers) {
				if strings.TrimSpace(answers[offset]) == strings.TrimSpace(blank.Answer) {
					outcome.Passed = true
					correct++
				} else {
					outcome.Message = "incorrect"
				}
			} else {
				outcome.Message = "not answered"
			}
			r.Outcomes = append(r.Outcomes, outcome)
			offset++
		}
		r.Score += correct * item.Points / len(item.Blanks)
	}

	r.Feedback = fmt.Sprintf("Earned %d of %d points on fill-in-the-blank exercises.", r.Score, r.MaxScore)
	return r
}
