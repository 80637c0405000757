/*
store.go - Persistence interfaces for sessions and the audit ledger

PURPOSE:
  Defines the boundary between the domain logic and the database. Two
  record kinds with very different contracts share one store:

    sessions:      mutable while open, frozen forever once closed
    audit_events:  append-only from the first byte, no exceptions

APPEND-ONLY CONTRACT:
  EventStore has Append/AppendBatch and reads. There is NO update and NO
  delete method, and none may ever be added - this is the compliance
  guarantee the whole ledger rests on. Corrections are new events.

GUARDED SESSION WRITES:
  SessionStore exposes only targeted, guarded mutations (AddToTotals,
  MarkClosed) instead of a generic Update. Each guard encodes a state
  invariant and returns a typed error when it is violated, so immutability
  is enforced at the persistence boundary, not just in the state machine.

ATOMICITY:
  Every state-changing operation runs inside TxStore.WithTx so the session
  write and the event append commit or fail together. A session change
  without its event (or the reverse) is the primary failure mode this
  design defends against.

IMPLEMENTATIONS:
  - store/sqlite: production store, invariants backed by unique indexes
  - pos/store (memory.go): in-memory store for tests
*/
package pos

import (
	"context"
	"time"

	"github.com/kassa/pos-engine/saft"
)

// =============================================================================
// SESSION STORE
// =============================================================================

// SessionStore persists sessions. Mutations are guarded: a closed session
// can never be written again through any of these methods.
type SessionStore interface {
	// CreateSession persists a new open session. Fails with *ConflictError
	// if the (store, device) pair already has an open session, even under
	// concurrent creates - implementations must back this with a constraint,
	// not a check-then-insert.
	CreateSession(ctx context.Context, s Session) error

	// GetSession returns the session or ErrSessionNotFound.
	GetSession(ctx context.Context, id SessionID) (*Session, error)

	// GetOpenSession returns the open session for (store, device), or nil
	// when the device has none.
	GetOpenSession(ctx context.Context, storeID StoreID, deviceID DeviceID) (*Session, error)

	// NextSessionNumber allocates the next store-scoped session number.
	// Only meaningful inside WithTx together with CreateSession; the pair
	// must be atomic for the sequence to stay gap-free.
	NextSessionNumber(ctx context.Context, storeID StoreID) (int64, error)

	// AddToTotals increments transaction_count by one and total_amount by
	// amount. Fails with *ImmutableRecordError if the session is closed.
	AddToTotals(ctx context.Context, id SessionID, amount int64) error

	// MarkClosed transitions an open session to closed and records the
	// reconciliation result. Fails with *InvalidStateError if the session
	// is already closed - including when two closes race.
	MarkClosed(ctx context.Context, id SessionID, closedAt time.Time, expected, actual, difference int64, notes string) error

	// ListSessions returns all sessions for a store, newest first.
	ListSessions(ctx context.Context, storeID StoreID) ([]Session, error)
}

// =============================================================================
// EVENT STORE - Append-only. No Update, No Delete. EVER.
// =============================================================================

// EventStore persists audit events.
type EventStore interface {
	// Append persists one event. Fails with ErrDuplicateIdempotencyKey if
	// the event's idempotency key already exists.
	Append(ctx context.Context, e AuditEvent) error

	// AppendBatch persists multiple events atomically. Either all are
	// written or none (a sales receipt and its payment event belong
	// together).
	AppendBatch(ctx context.Context, events []AuditEvent) error

	// Exists checks whether an idempotency key has been recorded.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// ListEvents returns events matching the filter, ordered by occurred_at
	// ascending, ties broken by insertion order.
	ListEvents(ctx context.Context, f EventFilter) ([]AuditEvent, error)
}

// EventFilter scopes a ledger read. StoreID is mandatory; every query is
// tenant-scoped by construction.
type EventFilter struct {
	StoreID   StoreID
	SessionID SessionID
	DeviceID  DeviceID
	From      *time.Time
	To        *time.Time
	Codes     []saft.EventCode
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

// Store is the full persistence surface the state machine operates on.
type Store interface {
	SessionStore
	EventStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn atomically. If fn returns an error the transaction
	// is rolled back and nothing - session write or event append - survives.
	WithTx(ctx context.Context, fn func(Store) error) error
}
