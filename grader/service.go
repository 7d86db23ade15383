package grader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/codegrade/exercise"
	"github.com/isdmx/codegrade/execution"
	"github.com/isdmx/codegrade/grading"
	"github.com/isdmx/codegrade/metrics"
	"github.com/isdmx/codegrade/progress"
)

var (
	// ErrServiceUnavailable is returned when execution failed for an
	// infrastructure reason. The attempt was neither scored nor recorded and
	// may be retried.
	ErrServiceUnavailable = errors.New(execution.GenericUnavailableMessage)

	// ErrInvalidSubmission is returned for malformed requests
	ErrInvalidSubmission = errors.New("invalid submission")
)

// Identity is the authenticated submitter, resolved by the caller
type Identity struct {
	SubmitterID string
}

// Ephemeral is the result of an ungraded scratch run
type Ephemeral struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Submission is the result of a graded submission
type Submission struct {
	Exercise  string            `json:"exercise"`
	Kind      exercise.Kind     `json:"kind"`
	Grade     grading.Result    `json:"grade"`
	Execution *execution.Result `json:"execution,omitempty"`
	Progress  progress.Record   `json:"progress"`
}

// Health is the isolation backend status
type Health struct {
	Healthy bool   `json:"healthy"`
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}

// Prober checks the isolation backend without running user code
type Prober interface {
	Probe(ctx context.Context) error
}

// Params are the collaborators of a Service
type Params struct {
	Runner      grading.Runner
	Prober      Prober
	BackendName string
	Exercises   exercise.Store
	Reconciler  *progress.Reconciler
	Records     progress.Store
	Metrics     *metrics.Metrics
}

// Service is the inbound surface of the grading core. Callers authenticate
// the submitter and pass the Identity explicitly.
type Service struct {
	logger     *zap.Logger
	runner     grading.Runner
	engine     *grading.Engine
	prober     Prober
	backend    string
	exercises  exercise.Store
	reconciler *progress.Reconciler
	records    progress.Store
	metrics    *metrics.Metrics
}

// NewService creates a Service
func NewService(logger *zap.Logger, p Params) *Service {
	return &Service{
		logger:     logger,
		runner:     p.Runner,
		engine:     grading.NewEngine(logger, p.Runner),
		prober:     p.Prober,
		backend:    p.BackendName,
		exercises:  p.Exercises,
		reconciler: p.Reconciler,
		records:    p.Records,
		metrics:    p.Metrics,
	}
}

// RunEphemeral executes source without grading or recording it
func (s *Service) RunEphemeral(ctx context.Context, source string) (Ephemeral, error) {
	if strings.TrimSpace(source) == "" {
		return Ephemeral{}, fmt.Errorf("%w: source is empty", ErrInvalidSubmission)
	}

	res := s.runner.Execute(ctx, execution.Request{Source: source})
	if res.Succeeded {
		return Ephemeral{Output: res.Stdout}, nil
	}

	out := Ephemeral{Error: res.UserMessage()}
	if res.FailureReason == execution.ReasonRuntimeError {
		out.Output = res.Stdout
	}
	if res.FailureReason.Retryable() {
		return out, ErrServiceUnavailable
	}
	return out, nil
}

// SubmitForGrading grades source against the coding component of the
// exercise and records the attempt
func (s *Service) SubmitForGrading(ctx context.Context, id Identity, exerciseID, source string) (Submission, error) {
	ex, err := s.load(ctx, id, exerciseID, exercise.KindCoding)
	if err != nil {
		return Submission{}, err
	}
	if strings.TrimSpace(source) == "" {
		return Submission{}, fmt.Errorf("%w: source is empty", ErrInvalidSubmission)
	}

	grade, run := s.engine.GradeSource(ctx, source, ex.Coding)
	sub := Submission{Exercise: ex.ID, Kind: exercise.KindCoding, Grade: grade, Execution: &run}

	if run.FailureReason.Retryable() {
		s.logger.Warn("submission not graded, execution backend unavailable",
			zap.String("submitter", id.SubmitterID),
			zap.String("exercise", ex.ID),
			zap.String("reason", string(run.FailureReason)),
			zap.String("detail", run.Detail))
		s.metrics.ObserveSubmission(string(exercise.KindCoding), metrics.OutcomeUnavailable, 0, grade.MaxScore)
		return sub, ErrServiceUnavailable
	}

	return s.record(ctx, id, ex, sub, source)
}

// SubmitMultipleChoice grades answers (question id to option index) and
// records the attempt
func (s *Service) SubmitMultipleChoice(ctx context.Context, id Identity, exerciseID string, answers map[string]int) (Submission, error) {
	ex, err := s.load(ctx, id, exerciseID, exercise.KindMultipleChoice)
	if err != nil {
		return Submission{}, err
	}
	if len(answers) == 0 {
		return Submission{}, fmt.Errorf("%w: no answers", ErrInvalidSubmission)
	}

	content, err := json.Marshal(answers)
	if err != nil {
		return Submission{}, fmt.Errorf("encoding answers: %w", err)
	}

	grade := grading.GradeMultipleChoice(ex.MultipleChoice, answers)
	sub := Submission{Exercise: ex.ID, Kind: exercise.KindMultipleChoice, Grade: grade}
	return s.record(ctx, id, ex, sub, string(content))
}

// SubmitFillBlank grades answers given in blank order and records the attempt
func (s *Service) SubmitFillBlank(ctx context.Context, id Identity, exerciseID string, answers []string) (Submission, error) {
	ex, err := s.load(ctx, id, exerciseID, exercise.KindFillBlank)
	if err != nil {
		return Submission{}, err
	}
	if len(answers) == 0 {
		return Submission{}, fmt.Errorf("%w: no answers", ErrInvalidSubmission)
	}

	content, err := json.Marshal(answers)
	if err != nil {
		return Submission{}, fmt.Errorf("encoding answers: %w", err)
	}

	grade := grading.GradeFillBlank(ex.FillBlank, answers)
	sub := Submission{Exercise: ex.ID, Kind: exercise.KindFillBlank, Grade: grade}
	return s.record(ctx, id, ex, sub, string(content))
}

// Reconcile retries recording a submission whose reconciliation failed,
// typically taken from a *progress.PersistenceError
func (s *Service) Reconcile(ctx context.Context, sub progress.Submission) (progress.Record, error) {
	ex, err := s.exercises.Get(ctx, sub.Exercise)
	if err != nil {
		return progress.Record{}, err
	}
	return s.reconciler.Reconcile(ctx, sub, ex)
}

// Progress returns the progress record of the submitter on an exercise
func (s *Service) Progress(ctx context.Context, id Identity, exerciseID string) (progress.Record, error) {
	if id.SubmitterID == "" {
		return progress.Record{}, fmt.Errorf("%w: missing submitter", ErrInvalidSubmission)
	}
	return s.records.Get(ctx, id.SubmitterID, exerciseID)
}

// History returns the submitter's attempts on an exercise, newest first
func (s *Service) History(ctx context.Context, id Identity, exerciseID string, limit int) ([]progress.HistoryEntry, error) {
	if id.SubmitterID == "" {
		return nil, fmt.Errorf("%w: missing submitter", ErrInvalidSubmission)
	}
	return s.records.History(ctx, id.SubmitterID, exerciseID, limit)
}

// ProbeIsolationBackend reports whether the isolation backend is reachable.
// It never executes user code.
func (s *Service) ProbeIsolationBackend(ctx context.Context) Health {
	if err := s.prober.Probe(ctx); err != nil {
		s.logger.Warn("isolation backend probe failed", zap.String("backend", s.backend), zap.Error(err))
		return Health{Healthy: false, Backend: s.backend, Error: err.Error()}
	}
	return Health{Healthy: true, Backend: s.backend}
}

// load validates the identity and fetches an exercise that has a component
// of the given kind
func (s *Service) load(ctx context.Context, id Identity, exerciseID string, kind exercise.Kind) (*exercise.Exercise, error) {
	if id.SubmitterID == "" {
		return nil, fmt.Errorf("%w: missing submitter", ErrInvalidSubmission)
	}
	if exerciseID == "" {
		return nil, fmt.Errorf("%w: missing exercise", ErrInvalidSubmission)
	}

	ex, err := s.exercises.Get(ctx, exerciseID)
	if err != nil {
		return nil, err
	}
	if !ex.Has(kind) {
		return nil, fmt.Errorf("%w: exercise %s has no %s component", ErrInvalidSubmission, exerciseID, kind)
	}
	return ex, nil
}

// record reconciles a graded submission. On failure the grade is still
// returned alongside the *progress.PersistenceError.
func (s *Service) record(ctx context.Context, id Identity, ex *exercise.Exercise, sub Submission, content string) (Submission, error) {
	rec, err := s.reconciler.Reconcile(ctx, progress.Submission{
		Submitter: id.SubmitterID,
		Exercise:  ex.ID,
		Kind:      sub.Kind,
		Content:   content,
		Grade:     sub.Grade,
	}, ex)
	if err != nil {
		s.metrics.ObserveSubmission(string(sub.Kind), metrics.OutcomePersistenceError, sub.Grade.Score, sub.Grade.MaxScore)
		return sub, err
	}

	s.metrics.ObserveSubmission(string(sub.Kind), metrics.OutcomeGraded, sub.Grade.Score, sub.Grade.MaxScore)
	sub.Progress = rec
	return sub, nil
}
