package lock

import (
	"context"
	"fmt"
	"sync"

	migrate "github.com/getpup/migrate-orchestrator"
)

// MemoryLocker is an in-process Locker for testing. It provides the
// same contention semantics as the postgres locker within one process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// Compile-time check that MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates a new in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

// Acquire takes the named lock or fails immediately with
// migrate.ErrLockContention.
func (l *MemoryLocker) Acquire(ctx context.Context, name string) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, fmt.Errorf("migration %q: %w", name, migrate.ErrLockContention)
	}
	l.held[name] = true

	var once sync.Once
	release := func() error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}
	return release, nil
}

// Held reports whether the named lock is currently held.
func (l *MemoryLocker) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}
