// Package lock provides cluster-wide mutual exclusion for migration runs.
// One provider exists per dialect family, selected by capability; a
// filesystem lock is the fallback.
package lock

import (
	"context"
	"database/sql"
	"time"
)

// DefaultPollInterval is how often contended providers re-check the lock.
// Polling, never busy-spinning.
const DefaultPollInterval = 250 * time.Millisecond

// LockKey names the engine's migration lock across all providers.
const LockKey = "sleipnir_migration"

// Provider is a cross-process mutual-exclusion handle. One Provider is
// exclusively owned by the engine for one apply/rollback call.
//
// Acquire returns (false, nil) when the timeout elapses while another
// holder has the lock; contention is an expected outcome, not an error.
// Release is idempotent-safe: releasing an unheld lock returns false.
type Provider interface {
	Acquire(ctx context.Context, timeout time.Duration) (bool, error)
	Release() (bool, error)
	Name() string
}

// ForDialect selects the provider by dialect capability: a session-held
// advisory lock where the dialect has one, a named database-level lock
// where it has that, and a pid-carrying lock file under dir otherwise.
func ForDialect(dialect interface {
	SupportsSessionAdvisoryLock() bool
	SupportsNamedLock() bool
}, db *sql.DB, dir string) Provider {
	switch {
	case dialect.SupportsSessionAdvisoryLock():
		return NewAdvisory(db, LockKey)
	case dialect.SupportsNamedLock():
		return NewNamed(db, LockKey)
	default:
		return NewFileLock(dir)
	}
}

// hashKey produces a stable non-negative int64 from a lock key for
// advisory-lock style primitives. FNV-1a.
func hashKey(key string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF)
}
