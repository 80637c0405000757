/*
errors.go - Centralized error types for the POS core

PURPOSE:
  All error types in one place. Callers (the HTTP layer, webhook workers)
  must be able to distinguish four situations all the way to the boundary:
    1. Conflict       - device already has an open session ("device busy")
    2. InvalidState   - illegal transition, e.g. closing a closed session
    3. ImmutableRecord - attempt to mutate frozen data (caller bug, loud)
    4. Storage        - persistence failure; nothing committed, retry is safe

PROPAGATION POLICY:
  Business-rule violations are returned as typed errors, never logged and
  swallowed. Storage errors are wrapped with context and propagated; the
  core does not retry internally - atomicity of each operation is what makes
  the caller's retry safe.

USAGE:
  if pos.IsConflict(err) { ... surface "device busy" ... }
  var ise *pos.InvalidStateError
  if errors.As(err, &ise) { ... }
*/
package pos

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSessionConflict is returned when opening a session for a (store,
	// device) pair that already has one open.
	ErrSessionConflict = errors.New("device already has an open session")

	// ErrInvalidState is returned when an operation is not legal in the
	// session's current state (e.g. double close).
	ErrInvalidState = errors.New("invalid session state")

	// ErrImmutableRecord is returned on any attempt to mutate a closed
	// session or an existing audit event. Always a programming error in
	// the caller.
	ErrImmutableRecord = errors.New("record is immutable")

	// ErrSessionNotFound is returned when a referenced session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateIdempotencyKey is returned when an event with the same
	// idempotency key already exists. Expected behavior for replayed facts.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrStorage wraps persistence failures. The failed operation did not
	// partially commit; retrying is safe.
	ErrStorage = errors.New("storage failure")

	// ErrInvalidInput flags malformed parameters (missing ids, negative
	// amounts). Always the caller's doing.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError reports which session blocks a new open.
type ConflictError struct {
	StoreID       StoreID
	DeviceID      DeviceID
	OpenSessionID SessionID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("device %s at store %s already has open session %s",
		e.DeviceID, e.StoreID, e.OpenSessionID)
}

func (e *ConflictError) Unwrap() error { return ErrSessionConflict }

// InvalidStateError reports an illegal transition attempt.
type InvalidStateError struct {
	SessionID SessionID
	Status    SessionStatus
	Op        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session %s: status is %s", e.Op, e.SessionID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ImmutableRecordError reports a mutation attempt on frozen data.
type ImmutableRecordError struct {
	Kind string // "session" or "audit_event"
	ID   string
	Op   string
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("%s %s is immutable: rejected %s", e.Kind, e.ID, e.Op)
}

func (e *ImmutableRecordError) Unwrap() error { return ErrImmutableRecord }

// StorageError wraps a low-level persistence failure with operation context.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict reports whether err is an open-session conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrSessionConflict) }

// IsInvalidState reports whether err is an illegal-transition error.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsImmutable reports whether err is a mutation attempt on frozen data.
func IsImmutable(err error) bool { return errors.Is(err, ErrImmutableRecord) }

// IsNotFound reports whether err indicates a missing session.
func IsNotFound(err error) bool { return errors.Is(err, ErrSessionNotFound) }

// IsClientError returns true when the error is the caller's doing and a
// retry without changes will fail the same way.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSessionConflict) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsRetryable returns true when the error might succeed on retry.
// Storage failures never partially commit, so a retry is always safe.
func IsRetryable(err error) bool { return errors.Is(err, ErrStorage) }
