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

// Named is a MySQL-family named database lock (GET_LOCK/RELEASE_LOCK).
// Like the advisory provider, it retains one connection for the whole
// hold: GET_LOCK is session-scoped and vanishes when the session ends.
type Named struct {
	db     *sql.DB
	key    string
	logger zerolog.Logger

	mu   sync.Mutex
	conn *sql.Conn
}

// NewNamed creates a named-lock provider keyed by the given name.
func NewNamed(db *sql.DB, key string) *Named {
	return &Named{
		db:     db,
		key:    key,
		logger: log.With().Str("component", "lock").Str("provider", "named").Logger(),
	}
}

func (n *Named) Name() string { return "named" }

// Acquire delegates the wait to GET_LOCK's own timeout. A 0 result means
// another session holds the lock; that is contention, not an error.
func (n *Named) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		return false, nil
	}

	conn, err := n.db.Conn(ctx)
	if err != nil {
		return false, &api.LockError{Provider: n.Name(), Err: fmt.Errorf("opening lock connection: %w", err)}
	}

	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	var got sql.NullInt64
	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", n.key, seconds).Scan(&got)
	if err != nil {
		_ = conn.Close()
		return false, &api.LockError{Provider: n.Name(), Err: err}
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		n.logger.Debug().Str("key", n.key).Msg("acquire timed out; another instance is migrating")
		return false, nil
	}

	n.conn = conn
	return true, nil
}

// Release frees the named lock and its connection.
func (n *Named) Release() (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return false, nil
	}

	_, err := n.conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", n.key)
	closeErr := n.conn.Close()
	n.conn = nil

	if err != nil {
		return false, &api.LockError{Provider: n.Name(), Err: fmt.Errorf("releasing: %w", err)}
	}
	if closeErr != nil {
		n.logger.Warn().Err(closeErr).Msg("closing lock connection")
	}
	return true, nil
}
