/*
Package pos implements the POS session lifecycle and its append-only audit
event ledger.

PURPOSE:
  Opens and closes cash-register sessions, keeps their running totals,
  computes expected-vs-actual cash reconciliation, and emits the
  regulation-mandated audit events for every state transition and every
  charge fact pushed in from the payment collaborator.

KEY CONCEPTS IN THIS FILE (types.go):
  - Session: One device-opening period with running totals (minor units)
  - AuditEvent: An immutable ledger row with a regulation event code
  - EventData: The snapshot payload captured at emission time
  - ChargeFact: An immutable payment fact owned by the external collaborator

DESIGN PRINCIPLES:
  1. Minor units: All money is int64 minor currency units. No floats, ever.
  2. Explicit tenancy: Store id is a parameter on everything. The core never
     reads ambient "current store" state.
  3. Immutability: Closed sessions are frozen; audit events are write-once.
  4. Derived types: An event's coarse type comes from its code (saft.TypeOf),
     never from a stored field.

SEE ALSO:
  - session.go: State machine operating on these types
  - ledger.go: Append-only event access
  - saft/codes.go: The event code enumeration
*/
package pos

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kassa/pos-engine/saft"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StoreID string
type DeviceID string
type OperatorID string
type SessionID string
type EventID string
type ChargeID string

// NewID returns a fresh unique identifier with a short type prefix,
// e.g. "ses-1b4e28ba...". Prefixes make log lines and test failures readable.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// =============================================================================
// PAYMENT METHODS
// =============================================================================

// PaymentMethod is the coarse payment method reported with a charge fact.
type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodCard   PaymentMethod = "card"
	MethodMobile PaymentMethod = "mobile"
	MethodOther  PaymentMethod = "other"
)

// =============================================================================
// SESSION - One cash-register opening period
// =============================================================================

// SessionStatus is the session lifecycle state. Open -> Closed, terminal.
type SessionStatus string

const (
	StatusOpen   SessionStatus = "open"
	StatusClosed SessionStatus = "closed"
)

// Session is one device-opening period of a cash register.
//
// INVARIANTS:
//   - At most one open session per (store, device) at any time.
//   - SessionNumber is store-scoped, gap-free, strictly increasing.
//   - Once Status is closed, the row is immutable.
//
// All monetary fields are int64 minor currency units (e.g. NOK øre).
type Session struct {
	ID         SessionID
	StoreID    StoreID
	DeviceID   DeviceID
	OperatorID OperatorID

	SessionNumber int64
	Status        SessionStatus

	OpenedAt time.Time
	ClosedAt *time.Time

	OpeningBalance   int64
	TransactionCount int64
	TotalAmount      int64

	// Set at close. CashDifference = ActualCash - ExpectedCash (signed).
	ExpectedCash   int64
	ActualCash     int64
	CashDifference int64
	ClosingNotes   string
}

// IsOpen reports whether the session can still accept charges.
func (s *Session) IsOpen() bool { return s.Status == StatusOpen }

// DisplayNumber is the zero-padded session number printed on receipts.
func (s *Session) DisplayNumber() string {
	return fmt.Sprintf("%04d", s.SessionNumber)
}

// =============================================================================
// AUDIT EVENT - Append-only ledger row
// =============================================================================

// AuditEvent is one row of the regulation audit ledger.
//
// INVARIANTS:
//   - Write-once: no update or delete path exists anywhere in this package.
//   - Corrections are new events, never edits.
//   - OccurredAt is business time (e.g. the charge's paid-at), which may
//     differ from CreatedAt, the row's insertion time.
type AuditEvent struct {
	ID      EventID
	StoreID StoreID

	// Context; zero values mean "not applicable" (e.g. application-level events).
	DeviceID   DeviceID
	SessionID  SessionID
	OperatorID OperatorID
	ChargeID   ChargeID

	Code        saft.EventCode
	Description string
	Data        EventData

	OccurredAt time.Time
	CreatedAt  time.Time

	// IdempotencyKey deduplicates replayed facts (webhook redelivery).
	// Empty means no deduplication for this event.
	IdempotencyKey string
}

// Type derives the coarse event category from the code.
func (e *AuditEvent) Type() saft.EventType { return saft.TypeOf(e.Code) }

// EventData is the structured payload snapshotted at emission time.
// It is serialized as-is into the ledger row and never updated afterwards.
// Amount fields are minor units and are kept explicit (no omitempty) so the
// regulatory export always shows the full snapshot.
type EventData struct {
	SessionNumber  string            `json:"session_number,omitempty"`
	ChargeID       string            `json:"charge_id,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	PaymentClass   saft.PaymentClass `json:"payment_class,omitempty"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	OpeningBalance int64             `json:"opening_balance"`
	ExpectedCash   int64             `json:"expected_cash"`
	ActualCash     int64             `json:"actual_cash"`
	CashDifference int64             `json:"cash_difference"`
	Notes          string            `json:"notes,omitempty"`
}

// =============================================================================
// CHARGE FACT - Immutable input from the payment collaborator
// =============================================================================

// ChargeFact is a payment fact pushed in by the external payment system.
// The core never mutates or re-fetches these; it only reacts to them.
type ChargeFact struct {
	ChargeID       ChargeID
	StoreID        StoreID
	Amount         int64
	Currency       string
	Method         PaymentMethod
	ProviderMethod string

	Succeeded      bool
	Refunded       bool
	AmountRefunded int64

	// SessionID is empty for charges unrelated to a POS session; those are
	// still audited at store level.
	SessionID SessionID

	PaidAt time.Time
}
