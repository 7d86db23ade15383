package grading

import "math"

// Outcome is the verdict for one check, test case, question or blank
type Outcome struct {
	Index   int    `json:"index"`
	Name    string `json:"name,omitempty"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Result is a scored submission. Outcomes keep the order the policy defines.
type Result struct {
	Score    int       `json:"score"`
	MaxScore int       `json:"max_score"`
	Outcomes []Outcome `json:"outcomes"`
	Feedback string    `json:"feedback"`
}

// Passed returns the number of passing outcomes
func (r Result) Passed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Passed {
			n++
		}
	}
	return n
}

// scale maps passed/total onto [0, max] rounding half away from zero
func scale(maxScore, passed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(maxScore) * float64(passed) / float64(total)))
}
