/*
reconcile.go - Cash reconciliation engine

PURPOSE:
  Pure computation, no side effects, no storage access. Given the audit
  events of a session, derives:

    expected_cash = opening_balance
                  + sum(cash payments during the session)
                  - sum(cash refunds during the session)

  The input is the ledger itself, not the session's running totals. That is
  deliberate: expected cash for any closed session must be re-derivable
  from opening_balance plus its audit events alone. If it weren't, the
  audit trail would prove nothing.

ARITHMETIC:
  Strictly int64 minor currency units. Single currency per store; rounding
  and conversion do not exist here.
*/
package pos

import "github.com/kassa/pos-engine/saft"

// =============================================================================
// EXPECTED CASH - Ledger replay
// =============================================================================

// ExpectedCash replays a session's events and returns the cash amount the
// drawer should contain. Deterministic: same events in, same number out.
func ExpectedCash(openingBalance int64, events []AuditEvent) int64 {
	expected := openingBalance
	for _, e := range events {
		switch e.Code {
		case saft.CodeCashPayment:
			expected += e.Data.Amount
		case saft.CodeReturnReceipt:
			if refundFromDrawer(e.Data) {
				expected -= e.Data.AmountRefunded
			}
		}
	}
	return expected
}

// refundFromDrawer decides whether a return receipt hands cash back. Both
// sides of a charge must classify identically: the sale added to the drawer
// only when its payment event code was CodeCashPayment, and that code came
// from the same normalization that produced the class snapshot. Comparing
// the raw method string here would break the symmetry for non-canonical
// casing and for wallet-carried "cash" charges.
func refundFromDrawer(d EventData) bool {
	class := d.PaymentClass
	if class == "" {
		class = saft.Classify(d.PaymentMethod, "")
	}
	return class == saft.ClassCash
}

// =============================================================================
// SESSION SUMMARY - Per-method totals for X/Z reports
// =============================================================================

// MethodTotals aggregates payments for one payment method.
type MethodTotals struct {
	Count int64
	Total int64
}

// Summary is the replayed aggregate view of a session's events.
type Summary struct {
	SalesCount  int64
	SalesTotal  int64
	RefundCount int64
	RefundTotal int64
	ByMethod    map[PaymentMethod]MethodTotals
}

// Summarize replays events into per-method totals. Like ExpectedCash it is
// pure and operates on the ledger only.
func Summarize(events []AuditEvent) Summary {
	s := Summary{ByMethod: make(map[PaymentMethod]MethodTotals)}
	for _, e := range events {
		switch e.Code {
		case saft.CodeSalesReceipt:
			s.SalesCount++
			s.SalesTotal += e.Data.Amount
		case saft.CodeReturnReceipt:
			s.RefundCount++
			s.RefundTotal += e.Data.AmountRefunded
		case saft.CodeCashPayment, saft.CodeCardPayment,
			saft.CodeMobilePayment, saft.CodeOtherPayment:
			m := methodForCode(e.Code)
			mt := s.ByMethod[m]
			mt.Count++
			mt.Total += e.Data.Amount
			s.ByMethod[m] = mt
		}
	}
	return s
}

func methodForCode(c saft.EventCode) PaymentMethod {
	switch c {
	case saft.CodeCashPayment:
		return MethodCash
	case saft.CodeCardPayment:
		return MethodCard
	case saft.CodeMobilePayment:
		return MethodMobile
	default:
		return MethodOther
	}
}

// Difference returns actual - expected (signed: positive means surplus).
func Difference(actual, expected int64) int64 { return actual - expected }
