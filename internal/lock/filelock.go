package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/sleipnir/api"
)

const lockFileName = "sleipnir.lock"

// lockFileBody is what a FileLock writes so other instances can judge
// whether the holder is still alive.
type lockFileBody struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLock is the OS-level fallback provider: an exclusively-created lock
// file carrying the holder's pid and timestamp. A stale-looking lock is
// reclaimed only after verifying the recorded holder process is actually
// dead; an old lock whose owner is alive is never touched.
type FileLock struct {
	path   string
	logger zerolog.Logger

	mu   sync.Mutex
	held bool
}

// NewFileLock creates a file-lock provider rooted at dir.
func NewFileLock(dir string) *FileLock {
	return &FileLock{
		path:   filepath.Join(dir, lockFileName),
		logger: log.With().Str("component", "lock").Str("provider", "file").Logger(),
	}
}

func (f *FileLock) Name() string { return "file" }

// Acquire polls for exclusive creation of the lock file until the timeout
// elapses. Contention returns (false, nil).
func (f *FileLock) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.held {
		return false, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		created, err := f.tryCreate()
		if err != nil {
			return false, &api.LockError{Provider: f.Name(), Err: err}
		}
		if created {
			f.held = true
			return true, nil
		}

		if reclaimed, err := f.reclaimIfDead(); err != nil {
			return false, &api.LockError{Provider: f.Name(), Err: err}
		} else if reclaimed {
			continue
		}

		if time.Now().After(deadline) {
			f.logger.Debug().Str("path", f.path).Msg("acquire timed out; another instance is migrating")
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(DefaultPollInterval):
		}
	}
}

func (f *FileLock) tryCreate() (bool, error) {
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating lock file: %w", err)
	}
	defer fh.Close()

	host, _ := os.Hostname()
	body := lockFileBody{PID: os.Getpid(), Host: host, AcquiredAt: time.Now().UTC()}
	if err := json.NewEncoder(fh).Encode(body); err != nil {
		_ = os.Remove(f.path)
		return false, fmt.Errorf("writing lock file: %w", err)
	}
	return true, nil
}

// reclaimIfDead removes the lock file only when it was written by this
// host and its recorded pid no longer maps to a live process. Age alone is
// never grounds for reclaim.
func (f *FileLock) reclaimIfDead() (bool, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil // holder released between checks
	}
	if err != nil {
		return false, fmt.Errorf("reading lock file: %w", err)
	}

	var body lockFileBody
	if err := json.Unmarshal(raw, &body); err != nil {
		// unreadable lock files are left alone; an operator has to decide
		f.logger.Warn().Err(err).Str("path", f.path).Msg("lock file is not parseable")
		return false, nil
	}

	host, _ := os.Hostname()
	if body.Host != host {
		return false, nil // cannot verify liveness across hosts
	}
	if processAlive(body.PID) {
		return false, nil
	}

	f.logger.Warn().
		Int("pid", body.PID).
		Time("acquired_at", body.AcquiredAt).
		Msg("reclaiming lock from dead process")

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("removing stale lock file: %w", err)
	}
	return true, nil
}

// Release removes the lock file. Releasing an unheld handle returns false.
func (f *FileLock) Release() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.held {
		return false, nil
	}
	f.held = false

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, &api.LockError{Provider: f.Name(), Err: fmt.Errorf("removing lock file: %w", err)}
	}
	return true, nil
}

// processAlive checks the pid with signal 0. EPERM still means the process
// exists; only ESRCH proves it is gone.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
