// Package grader provides the inbound operations of the grading core.
//
// Service ties the execution coordinator, the grading engine, the exercise
// catalog and the progress reconciler together: scratch runs, graded code,
// multiple choice and fill-in-the-blank submissions, progress queries and
// the isolation backend health probe.
//
// Usage:
//
//	svc := grader.NewService(logger, grader.Params{...})
//	sub, err := svc.SubmitForGrading(ctx, grader.Identity{SubmitterID: "42"}, "hello-world", source)
//	switch {
//	case errors.Is(err, grader.ErrServiceUnavailable):
//	    // retry later, nothing was recorded
//	case errors.Is(err, progress.ErrPersistence):
//	    // sub.Grade is valid; retry svc.Reconcile
//	}
package grader
