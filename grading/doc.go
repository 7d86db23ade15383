// Package grading provides scoring of submissions.
//
// Coding submissions are scored either with the default three-check rubric
// (executed, produced output, matches an accepted output) or against explicit
// stdin/stdout test cases. Multiple choice and fill-in-the-blank answers are
// scored by points. Grading is pure: the Engine only calls its Runner and
// never touches storage.
//
// Usage:
//
//	engine := grading.NewEngine(logger, coordinator)
//	result, run := engine.GradeSource(ctx, source, ex.Coding)
//	if run.FailureReason.Retryable() {
//	    // do not record the attempt
//	}
package grading
