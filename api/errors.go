package api

import (
	"errors"
	"fmt"
)

// ConnectionError indicates the engine could not reach or converse with the
// database. Fatal; the Remediation field carries an operator hint.
type ConnectionError struct {
	Dialect     Dialect
	Err         error
	Remediation string
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("%s connection failed: %v", e.Dialect, e.Err)
	if e.Remediation != "" {
		msg += " (" + e.Remediation + ")"
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DetectionError aborts the current planning pass. Timeout distinguishes an
// introspection deadline from other reflection failures.
type DetectionError struct {
	Timeout bool
	Err     error
}

func (e *DetectionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("schema detection timed out: %v (raise the detection timeout or run against a less loaded replica)", e.Err)
	}
	return fmt.Sprintf("schema detection failed: %v", e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// ExecutionError is fatal to the current migration only; migrations applied
// earlier in the same plan remain committed.
type ExecutionError struct {
	Version     string
	Description string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("migration %s (%s) failed: %v (re-run in dry-run mode to inspect the plan without applying it)",
		e.Version, e.Description, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// LockError indicates a lock provider malfunction. Ordinary contention is
// not an error; it surfaces as plan status "locked".
type LockError struct {
	Provider string
	Err      error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock provider %s failed: %v", e.Provider, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// LedgerError reports a history-ledger failure. A ledger write failure
// after successful DDL is logged but never unwinds the schema change.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// IsDetectionTimeout reports whether err is a detection timeout as opposed
// to some other introspection failure.
func IsDetectionTimeout(err error) bool {
	var de *DetectionError
	return errors.As(err, &de) && de.Timeout
}
