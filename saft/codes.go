/*
Package saft defines the regulation-mandated audit event codes and
classification rules for the cash register ledger.

PURPOSE:
  Norwegian cash-register regulation ("Kassasystemforskriften", reported via
  SAF-T Cash Register) requires every auditable action in a POS system to be
  logged with a fixed numeric event code. This package is the single source
  of truth for those codes and for the pure classification functions that
  map payments and charges onto them.

CRITICAL INVARIANTS:
  1. CODES ARE EXTERNAL: The numeric values 13001-13021 are part of the
     regulatory export format. They must NEVER be renumbered or reused.
  2. DERIVED TYPES: An event's coarse type (application, payment, session...)
     is always derived from its code via TypeOf. It is never stored or set
     independently, so code and type cannot drift apart.
  3. TOTAL MAPPING: Classification never fails. An unknown payment method is
     still auditable - it maps to the "other" code/class, never to nothing.

SEE ALSO:
  - pos/session.go: Emits events with these codes
  - pos/reconcile.go: Replays cash-payment events for reconciliation
*/
package saft

// =============================================================================
// EVENT CODES - Fixed regulation enumeration (13001-13021)
// =============================================================================

// EventCode is a regulation-defined numeric audit event code.
type EventCode int

const (
	CodeAppStart          EventCode = 13001 // Application started
	CodeAppStop           EventCode = 13002 // Application stopped
	CodeOperatorLogin     EventCode = 13003 // Operator logged in
	CodeOperatorLogout    EventCode = 13004 // Operator logged out
	CodeDrawerOpen        EventCode = 13005 // Cash drawer opened
	CodeDrawerClose       EventCode = 13006 // Cash drawer closed
	CodeXReport           EventCode = 13007 // X report generated
	CodeZReport           EventCode = 13008 // Z report generated
	CodeSalesReceipt      EventCode = 13009 // Sales receipt issued
	CodeReturnReceipt     EventCode = 13010 // Return receipt issued
	CodeVoidReceipt       EventCode = 13011 // Receipt voided before completion
	CodeCorrectionReceipt EventCode = 13012 // Correction of a completed receipt
	CodeCopyReceipt       EventCode = 13013 // Receipt copy printed
	CodeCashPayment       EventCode = 13014 // Payment received in cash
	CodeCardPayment       EventCode = 13015 // Payment received by card
	CodeMobilePayment     EventCode = 13016 // Payment received by mobile app
	CodeOtherPayment      EventCode = 13017 // Payment by any other means
	CodeSessionOpened     EventCode = 13018 // POS session opened
	CodeSessionClosed     EventCode = 13019 // POS session closed
	CodeTrainingReceipt   EventCode = 13020 // Receipt issued in training mode
	CodeOther             EventCode = 13021 // Any other auditable action
)

// Valid reports whether the code is part of the regulation enumeration.
func (c EventCode) Valid() bool {
	return c >= CodeAppStart && c <= CodeOther
}

// TransactionCode maps a charge fact onto its receipt event code:
// a refund produces a return receipt, anything else a sales receipt.
func TransactionCode(isRefund bool) EventCode {
	if isRefund {
		return CodeReturnReceipt
	}
	return CodeSalesReceipt
}

// =============================================================================
// EVENT TYPES - Coarse categories, always derived from the code
// =============================================================================

// EventType is the coarse category of an audit event.
type EventType string

const (
	TypeApplication EventType = "application"
	TypeUser        EventType = "user"
	TypeDrawer      EventType = "drawer"
	TypeReport      EventType = "report"
	TypeTransaction EventType = "transaction"
	TypePayment     EventType = "payment"
	TypeSession     EventType = "session"
	TypeOther       EventType = "other"
)

// TypeOf derives the event type from an event code.
// Total over the enumeration; anything unrecognized is TypeOther.
func TypeOf(c EventCode) EventType {
	switch c {
	case CodeAppStart, CodeAppStop:
		return TypeApplication
	case CodeOperatorLogin, CodeOperatorLogout:
		return TypeUser
	case CodeDrawerOpen, CodeDrawerClose:
		return TypeDrawer
	case CodeXReport, CodeZReport:
		return TypeReport
	case CodeSalesReceipt, CodeReturnReceipt, CodeVoidReceipt,
		CodeCorrectionReceipt, CodeCopyReceipt, CodeTrainingReceipt:
		return TypeTransaction
	case CodeCashPayment, CodeCardPayment, CodeMobilePayment, CodeOtherPayment:
		return TypePayment
	case CodeSessionOpened, CodeSessionClosed:
		return TypeSession
	default:
		return TypeOther
	}
}

// Description returns a human-readable summary for an event code.
func Description(c EventCode) string {
	switch c {
	case CodeAppStart:
		return "Application started"
	case CodeAppStop:
		return "Application stopped"
	case CodeOperatorLogin:
		return "Operator logged in"
	case CodeOperatorLogout:
		return "Operator logged out"
	case CodeDrawerOpen:
		return "Cash drawer opened"
	case CodeDrawerClose:
		return "Cash drawer closed"
	case CodeXReport:
		return "X report generated"
	case CodeZReport:
		return "Z report generated"
	case CodeSalesReceipt:
		return "Sales receipt"
	case CodeReturnReceipt:
		return "Return receipt"
	case CodeVoidReceipt:
		return "Void receipt"
	case CodeCorrectionReceipt:
		return "Correction receipt"
	case CodeCopyReceipt:
		return "Receipt copy"
	case CodeCashPayment:
		return "Cash payment"
	case CodeCardPayment:
		return "Card payment"
	case CodeMobilePayment:
		return "Mobile payment"
	case CodeOtherPayment:
		return "Other payment"
	case CodeSessionOpened:
		return "Session opened"
	case CodeSessionClosed:
		return "Session closed"
	case CodeTrainingReceipt:
		return "Training receipt"
	default:
		return "Other event"
	}
}
