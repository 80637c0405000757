/*
ledger.go - Append-only audit event ledger

PURPOSE:
  The Ledger is the immutable record the cash-register regulation audits.
  Every session transition, receipt, and payment lands here exactly once.
  Anything derived from it (expected cash, X/Z reports) is recomputed by
  replaying events - there is no second copy of the truth to drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. COMPLETE: A missed event is a compliance violation, not a bug class
     to tolerate. Emission happens inside the same transaction as the
     session write it belongs to.
  3. IDEMPOTENT: Replayed charge facts (webhook redelivery) are detected
     by idempotency key and never duplicated.
  4. ORDERED: Reads come back by occurred_at ascending, insertion order
     breaking ties.

CORRECTIONS:
  A mistake is never edited. A correction-receipt event is appended, and
  both the original and the correction stay visible forever.
*/
package pos

import "context"

// =============================================================================
// LEDGER - Read/append access to the audit trail
// =============================================================================

// Ledger is the public contract of the audit trail. Note what is absent:
// there is no update and no delete, and no caller-convenience method may
// ever weaken that.
type Ledger interface {
	// Append adds one event. Fails only on storage errors or a duplicate
	// idempotency key - a well-formed event is never rejected.
	Append(ctx context.Context, e AuditEvent) error

	// ListByScope returns events for a store, optionally narrowed to a
	// session, device, or date range. Ordered by occurred_at ascending.
	ListByScope(ctx context.Context, f EventFilter) ([]AuditEvent, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation over an EventStore
// =============================================================================

type DefaultLedger struct {
	Events EventStore
}

func NewLedger(events EventStore) *DefaultLedger {
	return &DefaultLedger{Events: events}
}

func (l *DefaultLedger) Append(ctx context.Context, e AuditEvent) error {
	if e.IdempotencyKey != "" {
		exists, err := l.Events.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Events.Append(ctx, e)
}

func (l *DefaultLedger) ListByScope(ctx context.Context, f EventFilter) ([]AuditEvent, error) {
	return l.Events.ListEvents(ctx, f)
}
