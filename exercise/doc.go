// Package exercise provides the exercise model and catalog.
//
// An exercise carries up to three graded components: a coding challenge,
// multiple choice questions and fill-in-the-blank items. Exercises are
// loaded from a YAML catalog and looked up through the Store interface.
//
// Usage:
//
//	store, err := exercise.LoadFile("exercises.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ex, err := store.Get(ctx, "hello-world")
//	if errors.Is(err, exercise.ErrNotFound) {
//	    // unknown id
//	}
package exercise
