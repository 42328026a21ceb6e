package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/sleipnir/api"
)

// Advisory is a session-held Postgres advisory lock. The handle owns one
// dedicated connection for its entire acquire-to-release lifetime: closing
// that connection would implicitly release the lock, so it is retained, not
// opened per call.
type Advisory struct {
	db     *sql.DB
	lockID int64
	logger zerolog.Logger

	mu   sync.Mutex
	conn *sql.Conn
}

// NewAdvisory creates an advisory-lock provider keyed by the given name.
func NewAdvisory(db *sql.DB, key string) *Advisory {
	return &Advisory{
		db:     db,
		lockID: hashKey(key),
		logger: log.With().Str("component", "lock").Str("provider", "advisory").Logger(),
	}
}

func (a *Advisory) Name() string { return "advisory" }

// Acquire polls pg_try_advisory_lock on a dedicated connection until it
// succeeds or the timeout elapses. Contention returns (false, nil).
func (a *Advisory) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		return false, nil // already held by this handle
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, &api.LockError{Provider: a.Name(), Err: fmt.Errorf("opening lock connection: %w", err)}
	}

	deadline := time.Now().Add(timeout)
	for {
		var acquired bool
		err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", a.lockID).Scan(&acquired)
		if err != nil {
			_ = conn.Close()
			return false, &api.LockError{Provider: a.Name(), Err: err}
		}
		if acquired {
			a.conn = conn
			return true, nil
		}
		if time.Now().After(deadline) {
			_ = conn.Close()
			a.logger.Debug().Int64("lock_id", a.lockID).Msg("acquire timed out; another instance is migrating")
			return false, nil
		}

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return false, nil
		case <-time.After(DefaultPollInterval):
		}
	}
}

// Release unlocks and returns the dedicated connection to the pool.
// Releasing an unheld handle returns false, not an error.
func (a *Advisory) Release() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return false, nil
	}

	_, err := a.conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", a.lockID)
	closeErr := a.conn.Close()
	a.conn = nil

	if err != nil {
		return false, &api.LockError{Provider: a.Name(), Err: fmt.Errorf("unlocking: %w", err)}
	}
	if closeErr != nil {
		a.logger.Warn().Err(closeErr).Msg("closing lock connection")
	}
	return true, nil
}
