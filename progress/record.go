package progress

import (
	"time"

	"github.com/isdmx/codegrade/exercise"
)

// Record is the per (submitter, exercise) progress summary. Best scores are
// kept per component kind and never decrease.
type Record struct {
	Submitter           string    `json:"submitter"`
	Exercise            string    `json:"exercise"`
	CodingScore         int       `json:"coding_score"`
	MultipleChoiceScore int       `json:"multiple_choice_score"`
	FillBlankScore      int       `json:"fill_blank_score"`
	Attempts            int       `json:"attempts"`
	LastAttemptAt       time.Time `json:"last_attempt_at"`
	Completed           bool      `json:"completed"`
}

// BestScore returns the best coding score
func (r *Record) BestScore() int {
	return r.CodingScore
}

// BestScoreFor returns the best score recorded for kind
func (r *Record) BestScoreFor(kind exercise.Kind) int {
	switch kind {
	case exercise.KindCoding:
		return r.CodingScore
	case exercise.KindMultipleChoice:
		return r.MultipleChoiceScore
	case exercise.KindFillBlank:
		return r.FillBlankScore
	default:
		return 0
	}
}

// TotalScore sums the best scores of every kind
func (r *Record) TotalScore() int {
	return r.CodingScore + r.MultipleChoiceScore + r.FillBlankScore
}

// raise keeps the maximum of the stored and the new score for kind
func (r *Record) raise(kind exercise.Kind, score int) {
	switch kind {
	case exercise.KindCoding:
		r.CodingScore = max(r.CodingScore, score)
	case exercise.KindMultipleChoice:
		r.MultipleChoiceScore = max(r.MultipleChoiceScore, score)
	case exercise.KindFillBlank:
		r.FillBlankScore = max(r.FillBlankScore, score)
	}
}

// HistoryEntry is one immutable submission in the append-only history
type HistoryEntry struct {
	ID          string        `json:"id"`
	Submitter   string        `json:"submitter"`
	Exercise    string        `json:"exercise"`
	Kind        exercise.Kind `json:"kind"`
	Content     string        `json:"content"`
	Score       int           `json:"score"`
	Feedback    string        `json:"feedback"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// Completed reports whether rec satisfies every graded component of ex. An
// exercise without graded components is never complete.
func Completed(rec *Record, ex *exercise.Exercise) bool {
	kinds := ex.Kinds()
	if len(kinds) == 0 {
		return false
	}
	for _, k := range kinds {
		if rec.BestScoreFor(k) <= 0 {
			return false
		}
	}
	return true
}
