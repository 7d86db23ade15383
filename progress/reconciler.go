package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/codegrade/exercise"
	"github.com/isdmx/codegrade/grading"
	"github.com/isdmx/codegrade/lock"
)

// ErrPersistence is matched by every PersistenceError
var ErrPersistence = errors.New("progress persistence failed")

// ErrInvalidKind is returned for submissions that target no graded component
var ErrInvalidKind = errors.New("invalid submission kind")

// PersistenceError reports a reconciliation that was rolled back. It carries
// the submission with its already computed grade so callers can show it or
// retry reconciliation alone.
type PersistenceError struct {
	Submission
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v for %s/%s: %v", ErrPersistence, e.Submitter, e.Exercise, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrPersistence
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Submission is a graded attempt waiting to be recorded
type Submission struct {
	Submitter string
	Exercise  string
	Kind      exercise.Kind
	Content   string
	Grade     grading.Result
}

// Reconciler records graded submissions. Updates for one (submitter,
// exercise) pair are serialized by the Locker; each update appends history
// and upserts the record in one store transaction.
type Reconciler struct {
	logger *zap.Logger
	store  Store
	locker lock.Locker
	now    func() time.Time
}

// ReconcilerOption defines a functional option for Reconciler
type ReconcilerOption func(*Reconciler)

// WithClock overrides time.Now
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler creates a Reconciler
func NewReconciler(logger *zap.Logger, store Store, locker lock.Locker, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		logger: logger,
		store:  store,
		locker: locker,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile appends the submission to history and folds its score into the
// progress record: best score per kind is max(old, new), attempts grows by
// one and completion is recomputed over every graded component of ex.
func (r *Reconciler) Reconcile(ctx context.Context, sub Submission, ex *exercise.Exercise) (Record, error) {
	if !sub.Kind.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidKind, sub.Kind)
	}

	fail := func(err error) (Record, error) {
		r.logger.Error("failed to reconcile progress",
			zap.String("submitter", sub.Submitter),
			zap.String("exercise", sub.Exercise),
			zap.String("kind", string(sub.Kind)),
			zap.Error(err))
		return Record{}, &PersistenceError{Submission: sub, Err: err}
	}

	release, err := r.locker.Lock(ctx, sub.Submitter+"/"+sub.Exercise)
	if err != nil {
		return fail(err)
	}
	defer release()

	now := r.now().UTC()
	entry := HistoryEntry{
		ID:          uuid.NewString(),
		Submitter:   sub.Submitter,
		Exercise:    sub.Exercise,
		Kind:        sub.Kind,
		Content:     sub.Content,
		Score:       sub.Grade.Score,
		Feedback:    sub.Grade.Feedback,
		SubmittedAt: now,
	}

	rec, err := r.store.Apply(ctx, entry, func(rec *Record, exists bool) error {
		if exists {
			rec.Attempts++
		} else {
			rec.Attempts = 1
		}
		rec.raise(sub.Kind, sub.Grade.Score)
		rec.LastAttemptAt = now
		rec.Completed = Completed(rec, ex)
		return nil
	})
	if err != nil {
		return fail(err)
	}

	r.logger.Info("progress updated",
		zap.String("submitter", sub.Submitter),
		zap.String("exercise", sub.Exercise),
		zap.String("kind", string(sub.Kind)),
		zap.Int("score", sub.Grade.Score),
		zap.Int("best", rec.BestScoreFor(sub.Kind)),
		zap.Int("attempts", rec.Attempts),
		zap.Bool("completed", rec.Completed))
	return rec, nil
}
