// Package lock provides the advisory lock preventing two runs of the
// same migration from executing concurrently. Lock contention is a
// precondition failure, never silent queuing, and a contended run must
// not write any phase record.
package lock

import "context"

// ReleaseFunc releases a held lock. Safe to call more than once.
type ReleaseFunc func() error

// Locker acquires a named advisory lock.
// Acquire returns migrate.ErrLockContention immediately if the lock is
// already held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, name string) (ReleaseFunc, error)
}
