package exercise

import (
	"errors"
	"fmt"
)

// Kind identifies a graded component of an exercise and the submission type
// that targets it
type Kind string

const (
	KindNone           Kind = "none"
	KindCoding         Kind = "coding"
	KindMultipleChoice Kind = "multiple_choice"
	KindFillBlank      Kind = "fill_blank"
)

// GradedKinds lists every component kind in a fixed order
var GradedKinds = []Kind{KindCoding, KindMultipleChoice, KindFillBlank}

// Valid reports whether k names a graded component
func (k Kind) Valid() bool {
	switch k {
	case KindCoding, KindMultipleChoice, KindFillBlank:
		return true
	default:
		return false
	}
}

// DefaultMaxScore is the coding score ceiling when none is configured
const DefaultMaxScore = 100

// DefaultPoints is the value of a question or blank item when none is configured
const DefaultPoints = 10

// Exercise is a gradable unit. Each component is optional; an exercise with
// none of them has nothing to grade and never completes.
type Exercise struct {
	ID             string          `yaml:"id" json:"id"`
	Title          string          `yaml:"title" json:"title"`
	Coding         *Coding         `yaml:"coding,omitempty" json:"coding,omitempty"`
	MultipleChoice *MultipleChoice `yaml:"multiple_choice,omitempty" json:"multiple_choice,omitempty"`
	FillBlank      *FillBlank      `yaml:"fill_blank,omitempty" json:"fill_blank,omitempty"`
}

// Coding is the code challenge component. With TestCases set, each case is
// run with its input on stdin; otherwise the default three-check rubric uses
// AcceptedOutputs.
type Coding struct {
	Instructions    string     `yaml:"instructions" json:"instructions"`
	StarterCode     string     `yaml:"starter_code,omitempty" json:"starter_code,omitempty"`
	AcceptedOutputs []string   `yaml:"accepted_outputs,omitempty" json:"accepted_outputs,omitempty"`
	TestCases       []TestCase `yaml:"test_cases,omitempty" json:"test_cases,omitempty"`
	MaxScore        int        `yaml:"max_score,omitempty" json:"max_score,omitempty"`
}

// TestCase is one stdin/expected-stdout pair
type TestCase struct {
	Input    string `yaml:"input" json:"input"`
	Expected string `yaml:"expected" json:"expected"`
}

// MultipleChoice groups the questions of an exercise
type MultipleChoice struct {
	Questions []Question `yaml:"questions" json:"questions"`
}

// Question is a single multiple choice question
type Question struct {
	ID           string   `yaml:"id" json:"id"`
	Text         string   `yaml:"text" json:"text"`
	Options      []string `yaml:"options" json:"options"`
	CorrectIndex int      `yaml:"correct_index" json:"-"`
	Explanation  string   `yaml:"explanation,omitempty" json:"-"`
	Points       int      `yaml:"points,omitempty" json:"points"`
}

// FillBlank groups the fill-in-the-blank items of an exercise
type FillBlank struct {
	Items []BlankItem `yaml:"items" json:"items"`
}

// BlankItem is a text template with one or more blanks. Points are split
// evenly across its blanks.
type BlankItem struct {
	Template string  `yaml:"template" json:"template"`
	Blanks   []Blank `yaml:"blanks" json:"-"`
	Points   int     `yaml:"points,omitempty" json:"points"`
}

// Blank holds the expected answer for one placeholder
type Blank struct {
	Answer string `yaml:"answer" json:"-"`
}

// Kinds returns the graded component kinds present on the exercise
func (e *Exercise) Kinds() []Kind {
	var kinds []Kind
	if e.Coding != nil {
		kinds = append(kinds, KindCoding)
	}
	if e.MultipleChoice != nil && len(e.MultipleChoice.Questions) > 0 {
		kinds = append(kinds, KindMultipleChoice)
	}
	if e.FillBlank != nil && len(e.FillBlank.Items) > 0 {
		kinds = append(kinds, KindFillBlank)
	}
	return kinds
}

// Has reports whether the exercise carries a component of kind k
func (e *Exercise) Has(k Kind) bool {
	for _, kind := range e.Kinds() {
		if kind == k {
			return true
		}
	}
	return false
}

// BlankCount returns the total number of blanks across all items
func (f *FillBlank) BlankCount() int {
	n := 0
	for _, item := range f.Items {
		n += len(item.Blanks)
	}
	return n
}

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid exercise")

// normalize fills defaults and validates the exercise
func (e *Exercise) normalize() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}

	if c := e.Coding; c != nil {
		if len(c.AcceptedOutputs) == 0 && len(c.TestCases) == 0 {
			return fmt.Errorf("%w: %s: coding needs accepted_outputs or test_cases", ErrInvalid, e.ID)
		}
		if c.MaxScore <= 0 {
			c.MaxScore = DefaultMaxScore
		}
	}

	if mc := e.MultipleChoice; mc != nil {
		seen := make(map[string]bool, len(mc.Questions))
		for i := range mc.Questions {
			q := &mc.Questions[i]
			if q.ID == "" {
				return fmt.Errorf("%w: %s: question %d has no id", ErrInvalid, e.ID, i)
			}
			if seen[q.ID] {
				return fmt.Errorf("%w: %s: duplicate question id %q", ErrInvalid, e.ID, q.ID)
			}
			seen[q.ID] = true
			if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
				return fmt.Errorf("%w: %s: question %q correct_index %d out of range", ErrInvalid, e.ID, q.ID, q.CorrectIndex)
			}
			if q.Points <= 0 {
				q.Points = DefaultPoints
			}
		}
	}

	if fb := e.FillBlank; fb != nil {
		for i := range fb.Items {
			item := &fb.Items[i]
			if len(item.Blanks) == 0 {
				return fmt.Errorf("%w: %s: fill_blank item %d has no blanks", ErrInvalid, e.ID, i)
			}
			if item.Points <= 0 {
				item.Points = DefaultPoints
			}
		}
	}

	return nil
}
