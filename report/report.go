/*
Package report builds the X and Z reports cash-register regulation
requires for every session.

PURPOSE:
  An X report is a point-in-time summary of a session (open or closed);
  a Z report is the end-of-day closing summary and exists only for closed
  sessions. Both are computed by replaying the session's audit events -
  never from the mutable session row alone - so the report provably agrees
  with the ledger.

EMISSION:
  Generating a report is itself an auditable action. The X/Z report event
  is appended in the same transaction as the ledger read. X reports may be
  generated any number of times; the Z report event is emitted at most
  once per session (idempotency-keyed), regenerating the document later
  does not append a second event.

AMOUNTS:
  Computation is int64 minor units throughout. Display strings ("620.00")
  are derived with decimal at the presentation edge only.
*/
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kassa/pos-engine/pos"
	"github.com/kassa/pos-engine/saft"
)

// =============================================================================
// REPORT TYPES
// =============================================================================

// PaymentLine is one payment-method row of a report.
type PaymentLine struct {
	Method  pos.PaymentMethod `json:"method"`
	Count   int64             `json:"count"`
	Total   int64             `json:"total"`
	Display string            `json:"display"`
}

// Report is an X or Z session summary.
type Report struct {
	Kind          string        `json:"kind"` // "X" or "Z"
	StoreID       pos.StoreID   `json:"store_id"`
	SessionID     pos.SessionID `json:"session_id"`
	SessionNumber string        `json:"session_number"`
	GeneratedAt   time.Time     `json:"generated_at"`

	OpeningBalance int64 `json:"opening_balance"`
	SalesCount     int64 `json:"sales_count"`
	SalesTotal     int64 `json:"sales_total"`
	RefundCount    int64 `json:"refund_count"`
	RefundTotal    int64 `json:"refund_total"`
	ExpectedCash   int64 `json:"expected_cash"`

	Payments []PaymentLine `json:"payments"`

	// Z only: reconciliation outcome frozen at close.
	ActualCash     *int64 `json:"actual_cash,omitempty"`
	CashDifference *int64 `json:"cash_difference,omitempty"`
	ClosingNotes   string `json:"closing_notes,omitempty"`

	SalesTotalDisplay   string `json:"sales_total_display"`
	ExpectedCashDisplay string `json:"expected_cash_display"`
}

// =============================================================================
// SERVICE
// =============================================================================

// Service generates reports against the transactional store.
type Service struct {
	store pos.TxStore
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store pos.TxStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// X generates a point-in-time report for an open or closed session and
// appends the X-report audit event atomically with the read.
func (s *Service) X(ctx context.Context, id pos.SessionID) (*Report, error) {
	var out *Report
	err := s.store.WithTx(ctx, func(tx pos.Store) error {
		sess, events, err := loadSession(ctx, tx, id)
		if err != nil {
			return err
		}

		r := build("X", sess, events, s.now())
		event := reportEvent(sess, saft.CodeXReport, r.GeneratedAt, "")
		if err := tx.Append(ctx, event); err != nil {
			return err
		}

		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Z generates the closing report for a closed session. Fails with
// *InvalidStateError while the session is still open. The Z-report event
// is appended only on the first generation.
func (s *Service) Z(ctx context.Context, id pos.SessionID) (*Report, error) {
	var out *Report
	err := s.store.WithTx(ctx, func(tx pos.Store) error {
		sess, events, err := loadSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if sess.IsOpen() {
			return &pos.InvalidStateError{SessionID: id, Status: sess.Status, Op: "generate Z report for"}
		}

		r := build("Z", sess, events, s.now())
		r.ActualCash = &sess.ActualCash
		r.CashDifference = &sess.CashDifference
		r.ClosingNotes = sess.ClosingNotes

		key := fmt.Sprintf("zreport:%s", id)
		emitted, err := tx.Exists(ctx, key)
		if err != nil {
			return err
		}
		if !emitted {
			event := reportEvent(sess, saft.CodeZReport, r.GeneratedAt, key)
			if err := tx.Append(ctx, event); err != nil {
				return err
			}
		}

		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadSession(ctx context.Context, tx pos.Store, id pos.SessionID) (*pos.Session, []pos.AuditEvent, error) {
	sess, err := tx.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	events, err := tx.ListEvents(ctx, pos.EventFilter{StoreID: sess.StoreID, SessionID: id})
	if err != nil {
		return nil, nil, err
	}
	return sess, events, nil
}

// =============================================================================
// BUILDING
// =============================================================================

func build(kind string, sess *pos.Session, events []pos.AuditEvent, at time.Time) *Report {
	summary := pos.Summarize(events)
	expected := pos.ExpectedCash(sess.OpeningBalance, events)

	r := &Report{
		Kind:           kind,
		StoreID:        sess.StoreID,
		SessionID:      sess.ID,
		SessionNumber:  sess.DisplayNumber(),
		GeneratedAt:    at,
		OpeningBalance: sess.OpeningBalance,
		SalesCount:     summary.SalesCount,
		SalesTotal:     summary.SalesTotal,
		RefundCount:    summary.RefundCount,
		RefundTotal:    summary.RefundTotal,
		ExpectedCash:   expected,

		SalesTotalDisplay:   Display(summary.SalesTotal),
		ExpectedCashDisplay: Display(expected),
	}

	for _, m := range []pos.PaymentMethod{pos.MethodCash, pos.MethodCard, pos.MethodMobile, pos.MethodOther} {
		mt, ok := summary.ByMethod[m]
		if !ok {
			continue
		}
		r.Payments = append(r.Payments, PaymentLine{
			Method:  m,
			Count:   mt.Count,
			Total:   mt.Total,
			Display: Display(mt.Total),
		})
	}
	return r
}

func reportEvent(sess *pos.Session, code saft.EventCode, at time.Time, key string) pos.AuditEvent {
	return pos.AuditEvent{
		ID:          pos.EventID(pos.NewID("evt")),
		StoreID:     sess.StoreID,
		DeviceID:    sess.DeviceID,
		SessionID:   sess.ID,
		OperatorID:  sess.OperatorID,
		Code:        code,
		Description: saft.Description(code),
		Data: pos.EventData{
			SessionNumber:  sess.DisplayNumber(),
			OpeningBalance: sess.OpeningBalance,
		},
		OccurredAt:     at,
		IdempotencyKey: key,
	}
}

// Display renders a minor-unit amount as a major-unit string, "620.00".
// Two decimals covers NOK øre and the other single-currency-per-store
// deployments this core targets.
func Display(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
