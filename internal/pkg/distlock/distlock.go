// Package distlock provides a distributed lock used to keep overlapping
// orchestrator invocations from racing through the store at the same
// time. The per-row conditional claim is the real correctness guard; the
// lock just avoids wasted work when two cron triggers fire together.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is the interface for distributed locking. A Lock instance is not
// safe for concurrent use; create one per run.
type Lock interface {
	// Acquire tries to take the lock. Returns true on success.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if still owned.
	Release(ctx context.Context) error
}

// Extender is implemented by backends whose hold expires on a TTL and
// needs refreshing during long runs. The advisory-lock backend does not
// implement it: a session lock lives as long as the connection.
type Extender interface {
	Extend(ctx context.Context) error
}

// New creates a lock using the best available backend: Redis when a
// client is provided, otherwise a PostgreSQL advisory lock.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewAdvisoryLock(db, key)
}

// AdvisoryLock implements Lock with pg_try_advisory_lock, which is
// session-scoped: the lock drops automatically if the connection dies,
// so a crashed run cannot wedge the orchestrator.
type AdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewAdvisoryLock derives a deterministic lock ID from key.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &AdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire tries the advisory lock without blocking.
func (l *AdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release unlocks the advisory lock.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
