package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"

	migrate "github.com/getpup/migrate-orchestrator"
)

// PostgresLocker acquires pg advisory locks. Advisory locks are
// session-scoped, so each Acquire pins a dedicated connection from the
// pool and holds it until release.
type PostgresLocker struct {
	db *sql.DB
}

// Compile-time check that PostgresLocker implements Locker.
var _ Locker = (*PostgresLocker)(nil)

// NewPostgresLocker creates a locker over the given connection pool.
func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// Acquire tries to take the advisory lock for name without waiting.
// Returns migrate.ErrLockContention if another session holds it.
func (l *PostgresLocker) Acquire(ctx context.Context, name string) (ReleaseFunc, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection for advisory lock: %w", err)
	}

	key := lockKey(name)

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, fmt.Errorf("migration %q: %w", name, migrate.ErrLockContention)
	}

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() {
			// Unlock on the same session that took the lock, then return
			// the connection to the pool. Closing the connection would
			// release the lock too; the explicit unlock keeps intent clear.
			_, err = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
			if closeErr := conn.Close(); err == nil {
				err = closeErr
			}
		})
		return err
	}

	return release, nil
}

// lockKey maps a migration name onto the bigint space pg advisory locks
// use. FNV-1a keeps the mapping stable across orchestrator versions.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("migrate-orchestrator/" + name))
	return int64(h.Sum64())
}
