// Package lock provides per-key mutual exclusion for progress updates.
//
// MemoryLocker serializes goroutines of a single process. RedisLocker takes
// a leased key with SET NX PX and releases it with a token check, so several
// replicas can share one progress store safely.
//
// Usage:
//
//	release, err := locker.Lock(ctx, "learner-1/hello-world")
//	if err != nil {
//	    return err
//	}
//	defer release()
package lock
