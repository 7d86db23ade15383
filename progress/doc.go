// Package progress provides progress tracking for graded submissions.
//
// The Reconciler appends every graded submission to an append-only history
// and keeps one Record per submitter and exercise with the best score per
// component kind, the attempt count and the completion flag. Failures roll
// back and are reported as *PersistenceError carrying the computed grade.
package progress
