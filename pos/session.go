/*
session.go - Session state machine

PURPOSE:
  The one place that drives session lifecycle transitions and, on every
  transition, emits the matching audit events. States are Open and Closed,
  nothing else; Closed is terminal. No reopening, no recomputing a closed
  session's totals.

EMISSION MODEL:
  Events are emitted explicitly and synchronously by the operations below,
  inside the same WithTx transaction as the session write. There are no
  save-hooks or observers: if the session row commits, its events committed
  with it, and vice versa. Partial application cannot happen.

IDEMPOTENCY:
  Charge recording is keyed by charge id. Replaying the same
  charge-succeeded fact (webhook redelivery, worker retry) is a clean
  no-op: no totals increment, no duplicate events, no error. The key check
  runs inside the transaction, and the event store's unique constraint
  backs it up under races.

SEE ALSO:
  - reconcile.go: Expected-cash computation used at close
  - store.go: The guarded persistence contract
  - saft/: Event codes and payment classification
*/
package pos

import (
	"context"
	"fmt"
	"time"

	"github.com/kassa/pos-engine/saft"
)

// =============================================================================
// MANAGER - The session state machine
// =============================================================================

// Manager drives session transitions against a transactional store.
type Manager struct {
	store TxStore
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Tests use this to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store TxStore, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// OPEN
// =============================================================================

// OpenParams identifies who is opening which drawer with how much cash.
type OpenParams struct {
	StoreID        StoreID
	DeviceID       DeviceID
	OperatorID     OperatorID
	OpeningBalance int64
}

// Open creates a new session for (store, device) and emits the
// session-opened event, atomically.
//
// Fails with *ConflictError when the device already has an open session.
// The pre-check inside the transaction gives a helpful error carrying the
// blocking session id; the store's unique constraint closes the race two
// concurrent opens would otherwise win together.
func (m *Manager) Open(ctx context.Context, p OpenParams) (*Session, error) {
	if p.StoreID == "" || p.DeviceID == "" || p.OperatorID == "" {
		return nil, fmt.Errorf("%w: store, device and operator ids are required", ErrInvalidInput)
	}
	if p.OpeningBalance < 0 {
		return nil, fmt.Errorf("%w: opening balance cannot be negative", ErrInvalidInput)
	}

	var session *Session
	err := m.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetOpenSession(ctx, p.StoreID, p.DeviceID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ConflictError{StoreID: p.StoreID, DeviceID: p.DeviceID, OpenSessionID: existing.ID}
		}

		number, err := tx.NextSessionNumber(ctx, p.StoreID)
		if err != nil {
			return err
		}

		now := m.now()
		s := Session{
			ID:             SessionID(NewID("ses")),
			StoreID:        p.StoreID,
			DeviceID:       p.DeviceID,
			OperatorID:     p.OperatorID,
			SessionNumber:  number,
			Status:         StatusOpen,
			OpenedAt:       now,
			OpeningBalance: p.OpeningBalance,
		}
		if err := tx.CreateSession(ctx, s); err != nil {
			return err
		}

		event := AuditEvent{
			ID:          EventID(NewID("evt")),
			StoreID:     p.StoreID,
			DeviceID:    p.DeviceID,
			SessionID:   s.ID,
			OperatorID:  p.OperatorID,
			Code:        saft.CodeSessionOpened,
			Description: saft.Description(saft.CodeSessionOpened),
			Data: EventData{
				SessionNumber:  s.DisplayNumber(),
				OpeningBalance: p.OpeningBalance,
			},
			OccurredAt: now,
		}
		if err := tx.Append(ctx, event); err != nil {
			return err
		}

		session = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// =============================================================================
// CLOSE
// =============================================================================

// CloseParams carries the physical count and notes for a close.
type CloseParams struct {
	// ActualCash is the counted drawer content in minor units. nil means
	// the session is closed without a physical count; expected cash is
	// taken as counted and the difference is zero.
	ActualCash *int64

	Notes string
}

// Close transitions an open session to Closed, computes the cash
// reconciliation from the session's ledger events, and emits the
// session-closed event with the full reconciliation snapshot - all in one
// transaction.
//
// Fails with *InvalidStateError when the session is already closed; the
// guarded MarkClosed write makes double-close impossible even when two
// close calls race.
func (m *Manager) Close(ctx context.Context, id SessionID, p CloseParams) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	var closed *Session
	err := m.store.WithTx(ctx, func(tx Store) error {
		s, err := tx.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if !s.IsOpen() {
			return &InvalidStateError{SessionID: id, Status: s.Status, Op: "close"}
		}

		events, err := tx.ListEvents(ctx, EventFilter{StoreID: s.StoreID, SessionID: id})
		if err != nil {
			return err
		}

		expected := ExpectedCash(s.OpeningBalance, events)
		actual := expected
		if p.ActualCash != nil {
			actual = *p.ActualCash
		}
		difference := Difference(actual, expected)

		closedAt := m.now()
		if err := tx.MarkClosed(ctx, id, closedAt, expected, actual, difference, p.Notes); err != nil {
			return err
		}

		event := AuditEvent{
			ID:          EventID(NewID("evt")),
			StoreID:     s.StoreID,
			DeviceID:    s.DeviceID,
			SessionID:   s.ID,
			OperatorID:  s.OperatorID,
			Code:        saft.CodeSessionClosed,
			Description: saft.Description(saft.CodeSessionClosed),
			Data: EventData{
				SessionNumber:  s.DisplayNumber(),
				OpeningBalance: s.OpeningBalance,
				ExpectedCash:   expected,
				ActualCash:     actual,
				CashDifference: difference,
				Notes:          p.Notes,
			},
			OccurredAt: closedAt,
		}
		if err := tx.Append(ctx, event); err != nil {
			return err
		}

		out := *s
		out.Status = StatusClosed
		out.ClosedAt = &closedAt
		out.ExpectedCash = expected
		out.ActualCash = actual
		out.CashDifference = difference
		out.ClosingNotes = p.Notes
		closed = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// =============================================================================
// CHARGE RECORDING
// =============================================================================

// RecordChargeSucceeded records a successful charge: increments the owning
// session's running totals (when the charge belongs to one) and emits the
// sales-receipt and payment-method events, timestamped at the charge's
// paid-at so the trail reflects business time.
//
// Idempotent per charge id: replaying the same fact is a no-op.
func (m *Manager) RecordChargeSucceeded(ctx context.Context, fact ChargeFact) error {
	if fact.ChargeID == "" {
		return fmt.Errorf("%w: charge id is required", ErrInvalidInput)
	}
	if !fact.Succeeded {
		return fmt.Errorf("%w: charge %s is not marked succeeded", ErrInvalidInput, fact.ChargeID)
	}
	if fact.Amount < 0 {
		return fmt.Errorf("%w: charge %s has negative amount", ErrInvalidInput, fact.ChargeID)
	}
	if fact.StoreID == "" && fact.SessionID == "" {
		return fmt.Errorf("%w: charge %s has neither store nor session scope", ErrInvalidInput, fact.ChargeID)
	}

	saleKey := chargeKey(fact.ChargeID, "sale")
	paymentKey := chargeKey(fact.ChargeID, "payment")

	return m.store.WithTx(ctx, func(tx Store) error {
		recorded, err := tx.Exists(ctx, saleKey)
		if err != nil {
			return err
		}
		if recorded {
			return nil // already recorded, replay is a no-op
		}

		data := EventData{
			ChargeID:      string(fact.ChargeID),
			Currency:      fact.Currency,
			PaymentMethod: string(fact.Method),
			PaymentClass:  saft.Classify(string(fact.Method), fact.ProviderMethod),
			Amount:        fact.Amount,
		}

		storeID := fact.StoreID
		var deviceID DeviceID
		var operatorID OperatorID
		if fact.SessionID != "" {
			s, err := tx.GetSession(ctx, fact.SessionID)
			if err != nil {
				return err
			}
			if err := tx.AddToTotals(ctx, s.ID, fact.Amount); err != nil {
				return err
			}
			data.SessionNumber = s.DisplayNumber()
			storeID = s.StoreID
			deviceID = s.DeviceID
			operatorID = s.OperatorID
		}

		occurredAt := fact.PaidAt
		if occurredAt.IsZero() {
			occurredAt = m.now()
		}

		sale := AuditEvent{
			ID:             EventID(NewID("evt")),
			StoreID:        storeID,
			DeviceID:       deviceID,
			SessionID:      fact.SessionID,
			OperatorID:     operatorID,
			ChargeID:       fact.ChargeID,
			Code:           saft.TransactionCode(false),
			Description:    saft.Description(saft.CodeSalesReceipt),
			Data:           data,
			OccurredAt:     occurredAt,
			IdempotencyKey: saleKey,
		}
		payment := sale
		payment.ID = EventID(NewID("evt"))
		payment.Code = saft.PaymentCode(string(fact.Method), fact.ProviderMethod)
		payment.Description = saft.Description(payment.Code)
		payment.IdempotencyKey = paymentKey

		return tx.AppendBatch(ctx, []AuditEvent{sale, payment})
	})
}

// RecordChargeRefunded records a refund: emits the return-receipt event
// carrying the refunded amount. The original sale stays untouched - the
// session's total_amount is never decremented. Sale and return remain two
// symmetric, separately visible records.
//
// A refund landing after the session closed is legal: it appends new
// history referencing the frozen session, it does not mutate it.
func (m *Manager) RecordChargeRefunded(ctx context.Context, fact ChargeFact) error {
	if fact.ChargeID == "" {
		return fmt.Errorf("%w: charge id is required", ErrInvalidInput)
	}
	if !fact.Refunded || fact.AmountRefunded <= 0 {
		return fmt.Errorf("%w: charge %s has no refunded amount", ErrInvalidInput, fact.ChargeID)
	}
	if fact.StoreID == "" && fact.SessionID == "" {
		return fmt.Errorf("%w: charge %s has neither store nor session scope", ErrInvalidInput, fact.ChargeID)
	}

	refundKey := chargeKey(fact.ChargeID, "refund")

	return m.store.WithTx(ctx, func(tx Store) error {
		recorded, err := tx.Exists(ctx, refundKey)
		if err != nil {
			return err
		}
		if recorded {
			return nil
		}

		data := EventData{
			ChargeID:       string(fact.ChargeID),
			Currency:       fact.Currency,
			PaymentMethod:  string(fact.Method),
			PaymentClass:   saft.Classify(string(fact.Method), fact.ProviderMethod),
			AmountRefunded: fact.AmountRefunded,
		}

		storeID := fact.StoreID
		var deviceID DeviceID
		var operatorID OperatorID
		if fact.SessionID != "" {
			s, err := tx.GetSession(ctx, fact.SessionID)
			if err != nil {
				return err
			}
			data.SessionNumber = s.DisplayNumber()
			storeID = s.StoreID
			deviceID = s.DeviceID
			operatorID = s.OperatorID
		}

		occurredAt := fact.PaidAt
		if occurredAt.IsZero() {
			occurredAt = m.now()
		}

		event := AuditEvent{
			ID:             EventID(NewID("evt")),
			StoreID:        storeID,
			DeviceID:       deviceID,
			SessionID:      fact.SessionID,
			OperatorID:     operatorID,
			ChargeID:       fact.ChargeID,
			Code:           saft.TransactionCode(true),
			Description:    saft.Description(saft.CodeReturnReceipt),
			Data:           data,
			OccurredAt:     occurredAt,
			IdempotencyKey: refundKey,
		}
		return tx.Append(ctx, event)
	})
}

// chargeKey builds the deterministic idempotency key for one role of one
// charge. Same fact replayed -> same key -> detected duplicate.
func chargeKey(id ChargeID, role string) string {
	return fmt.Sprintf("charge:%s:%s", id, role)
}

// =============================================================================
// RECEIPT EVENTS - Void, correction, copy, training
// =============================================================================

// RecordChargeVoided records a receipt voided before completion. A voided
// charge was never counted, so totals stay untouched. Idempotent per
// charge id.
func (m *Manager) RecordChargeVoided(ctx context.Context, fact ChargeFact) error {
	if fact.ChargeID == "" {
		return fmt.Errorf("%w: charge id is required", ErrInvalidInput)
	}
	return m.recordReceipt(ctx, saft.CodeVoidReceipt, fact, chargeKey(fact.ChargeID, "void"))
}

// RecordChargeCorrected records a correction of a completed receipt. The
// original stays visible forever; the correction is new history, not an
// edit. Idempotent per charge id.
func (m *Manager) RecordChargeCorrected(ctx context.Context, fact ChargeFact) error {
	if fact.ChargeID == "" {
		return fmt.Errorf("%w: charge id is required", ErrInvalidInput)
	}
	return m.recordReceipt(ctx, saft.CodeCorrectionReceipt, fact, chargeKey(fact.ChargeID, "correction"))
}

// RecordReceiptCopy records a receipt copy being printed. Repeatable:
// every copy is its own auditable action, never deduplicated.
func (m *Manager) RecordReceiptCopy(ctx context.Context, fact ChargeFact) error {
	if fact.ChargeID == "" {
		return fmt.Errorf("%w: charge id is required", ErrInvalidInput)
	}
	return m.recordReceipt(ctx, saft.CodeCopyReceipt, fact, "")
}

// RecordTrainingReceipt records a receipt issued in training mode. The
// amounts are snapshotted into the trail but never reach session totals or
// the drawer expectation.
func (m *Manager) RecordTrainingReceipt(ctx context.Context, fact ChargeFact) error {
	if fact.Amount < 0 {
		return fmt.Errorf("%w: training receipt has negative amount", ErrInvalidInput)
	}
	return m.recordReceipt(ctx, saft.CodeTrainingReceipt, fact, "")
}

// recordReceipt appends one receipt event with the charge snapshot the
// sale and return receipts carry. It never writes the session row.
func (m *Manager) recordReceipt(ctx context.Context, code saft.EventCode, fact ChargeFact, key string) error {
	if fact.StoreID == "" && fact.SessionID == "" {
		return fmt.Errorf("%w: receipt event has neither store nor session scope", ErrInvalidInput)
	}

	return m.store.WithTx(ctx, func(tx Store) error {
		if key != "" {
			recorded, err := tx.Exists(ctx, key)
			if err != nil {
				return err
			}
			if recorded {
				return nil
			}
		}

		data := EventData{
			ChargeID:      string(fact.ChargeID),
			Currency:      fact.Currency,
			PaymentMethod: string(fact.Method),
			PaymentClass:  saft.Classify(string(fact.Method), fact.ProviderMethod),
			Amount:        fact.Amount,
		}

		storeID := fact.StoreID
		var deviceID DeviceID
		var operatorID OperatorID
		if fact.SessionID != "" {
			s, err := tx.GetSession(ctx, fact.SessionID)
			if err != nil {
				return err
			}
			data.SessionNumber = s.DisplayNumber()
			storeID = s.StoreID
			deviceID = s.DeviceID
			operatorID = s.OperatorID
		}

		occurredAt := fact.PaidAt
		if occurredAt.IsZero() {
			occurredAt = m.now()
		}

		event := AuditEvent{
			ID:             EventID(NewID("evt")),
			StoreID:        storeID,
			DeviceID:       deviceID,
			SessionID:      fact.SessionID,
			OperatorID:     operatorID,
			ChargeID:       fact.ChargeID,
			Code:           code,
			Description:    saft.Description(code),
			Data:           data,
			OccurredAt:     occurredAt,
			IdempotencyKey: key,
		}
		return tx.Append(ctx, event)
	})
}

// =============================================================================
// OPERATIONAL EVENTS - Application, operator, and drawer codes
// =============================================================================

// OpEventParams scopes an operational event. StoreID is required; the rest
// is context when applicable.
type OpEventParams struct {
	StoreID    StoreID
	DeviceID   DeviceID
	OperatorID OperatorID
	SessionID  SessionID
}

// RecordAppStart logs a POS application start on a device.
func (m *Manager) RecordAppStart(ctx context.Context, p OpEventParams) (*AuditEvent, error) {
	return m.recordOperational(ctx, saft.CodeAppStart, p)
}

// RecordAppStop logs a POS application stop on a device.
func (m *Manager) RecordAppStop(ctx context.Context, p OpEventParams) (*AuditEvent, error) {
	return m.recordOperational(ctx, saft.CodeAppStop, p)
}

// RecordLogin logs an operator login.
func (m *Manager) RecordLogin(ctx context.Context, p OpEventParams) (*AuditEvent, error) {
	return m.recordOperational(ctx, saft.CodeOperatorLogin, p)
}

// RecordLogout logs an operator logout.
func (m *Manager) RecordLogout(ctx context.Context, p OpEventParams) (*AuditEvent, error) {
	return m.recordOperational(ctx, saft.CodeOperatorLogout, p)
}

// RecordDrawerOpen logs a cash drawer opening outside a receipt.
func (m *Manager) RecordDrawerOpen(ctx context.Context, p OpEventParams) (*AuditEvent, error) {
	return m.recordOperational(ctx, saft.CodeDrawerOpen, p)
}

// RecordDrawerClose logs a cash drawer closing.
func (m *Manager) RecordDrawerClose(ctx context.Context, p OpEventParams) (*AuditEvent, error) {
	return m.recordOperational(ctx, saft.CodeDrawerClose, p)
}

// RecordOther logs an auditable action none of the dedicated codes cover.
func (m *Manager) RecordOther(ctx context.Context, p OpEventParams) (*AuditEvent, error) {
	return m.recordOperational(ctx, saft.CodeOther, p)
}

func (m *Manager) recordOperational(ctx context.Context, code saft.EventCode, p OpEventParams) (*AuditEvent, error) {
	if p.StoreID == "" {
		return nil, fmt.Errorf("%w: store id is required", ErrInvalidInput)
	}

	event := AuditEvent{
		ID:          EventID(NewID("evt")),
		StoreID:     p.StoreID,
		DeviceID:    p.DeviceID,
		SessionID:   p.SessionID,
		OperatorID:  p.OperatorID,
		Code:        code,
		Description: saft.Description(code),
		OccurredAt:  m.now(),
	}
	if err := m.store.Append(ctx, event); err != nil {
		return nil, err
	}
	return &event, nil
}
