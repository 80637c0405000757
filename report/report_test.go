package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kassa/pos-engine/pos"
	"github.com/kassa/pos-engine/pos/store"
	"github.com/kassa/pos-engine/report"
	"github.com/kassa/pos-engine/saft"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestReporting(t *testing.T) (*report.Service, *pos.Manager, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return report.NewService(mem), pos.NewManager(mem), mem
}

func openWithSales(t *testing.T, mgr *pos.Manager) *pos.Session {
	t.Helper()
	ctx := context.Background()

	s, err := mgr.Open(ctx, pos.OpenParams{
		StoreID: "store-1", DeviceID: "dev-1", OperatorID: "op-1",
		OpeningBalance: 50000,
	})
	require.NoError(t, err)

	charge := func(id string, amount int64, method pos.PaymentMethod) {
		require.NoError(t, mgr.RecordChargeSucceeded(ctx, pos.ChargeFact{
			ChargeID:  pos.ChargeID(id),
			SessionID: s.ID,
			Amount:    amount,
			Currency:  "NOK",
			Method:    method,
			Succeeded: true,
			PaidAt:    time.Now().UTC(),
		}))
	}
	charge("ch-1", 4500, pos.MethodCash)
	charge("ch-2", 7500, pos.MethodCash)
	charge("ch-3", 20000, pos.MethodCard)
	return s
}

func eventCodes(t *testing.T, mem *store.Memory, s *pos.Session) []saft.EventCode {
	t.Helper()
	events, err := mem.ListEvents(context.Background(), pos.EventFilter{
		StoreID: s.StoreID, SessionID: s.ID,
	})
	require.NoError(t, err)
	codes := make([]saft.EventCode, len(events))
	for i, e := range events {
		codes[i] = e.Code
	}
	return codes
}

func countCode(codes []saft.EventCode, code saft.EventCode) int {
	n := 0
	for _, c := range codes {
		if c == code {
			n++
		}
	}
	return n
}

// =============================================================================
// X REPORT TESTS
// =============================================================================

func TestX_SummarizesOpenSession(t *testing.T) {
	// GIVEN: An open session with cash and card sales
	// WHEN: Generating an X report
	// THEN: Totals come from the ledger replay, and an X-report event is
	//       appended

	svc, mgr, mem := newTestReporting(t)
	s := openWithSales(t, mgr)

	r, err := svc.X(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, "X", r.Kind)
	assert.Equal(t, "0001", r.SessionNumber)
	assert.Equal(t, int64(3), r.SalesCount)
	assert.Equal(t, int64(32000), r.SalesTotal)
	assert.Equal(t, int64(62000), r.ExpectedCash, "opening 500.00 + cash sales 120.00")
	assert.Equal(t, "320.00", r.SalesTotalDisplay)
	assert.Equal(t, "620.00", r.ExpectedCashDisplay)
	assert.Nil(t, r.ActualCash, "no reconciliation on an X report")

	require.Len(t, r.Payments, 2)
	assert.Equal(t, pos.MethodCash, r.Payments[0].Method)
	assert.Equal(t, int64(12000), r.Payments[0].Total)
	assert.Equal(t, pos.MethodCard, r.Payments[1].Method)
	assert.Equal(t, int64(20000), r.Payments[1].Total)

	assert.Equal(t, 1, countCode(eventCodes(t, mem, s), saft.CodeXReport))
}

func TestX_Repeatable(t *testing.T) {
	// X reports may be generated any number of times; each emits its own
	// audit event.

	svc, mgr, mem := newTestReporting(t)
	s := openWithSales(t, mgr)
	ctx := context.Background()

	_, err := svc.X(ctx, s.ID)
	require.NoError(t, err)
	_, err = svc.X(ctx, s.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, countCode(eventCodes(t, mem, s), saft.CodeXReport))
}

func TestX_UnknownSession_NotFound(t *testing.T) {
	svc, _, _ := newTestReporting(t)

	_, err := svc.X(context.Background(), "ses-missing")
	assert.True(t, pos.IsNotFound(err))
}

// =============================================================================
// Z REPORT TESTS
// =============================================================================

func TestZ_OpenSession_InvalidState(t *testing.T) {
	svc, mgr, _ := newTestReporting(t)
	s := openWithSales(t, mgr)

	_, err := svc.Z(context.Background(), s.ID)
	require.Error(t, err)
	assert.True(t, pos.IsInvalidState(err))
}

func TestZ_ClosedSession_CarriesReconciliation(t *testing.T) {
	// GIVEN: A session closed with a counted drawer of 625.00
	// WHEN: Generating the Z report
	// THEN: It carries the frozen reconciliation outcome

	svc, mgr, _ := newTestReporting(t)
	s := openWithSales(t, mgr)
	ctx := context.Background()

	actual := int64(62500)
	_, err := mgr.Close(ctx, s.ID, pos.CloseParams{ActualCash: &actual, Notes: "evening count"})
	require.NoError(t, err)

	r, err := svc.Z(ctx, s.ID)
	require.NoError(t, err)

	assert.Equal(t, "Z", r.Kind)
	assert.Equal(t, int64(62000), r.ExpectedCash)
	require.NotNil(t, r.ActualCash)
	assert.Equal(t, int64(62500), *r.ActualCash)
	require.NotNil(t, r.CashDifference)
	assert.Equal(t, int64(500), *r.CashDifference)
	assert.Equal(t, "evening count", r.ClosingNotes)
}

func TestZ_EventEmittedOnce(t *testing.T) {
	// Regenerating the Z document later is allowed, but the Z-report audit
	// event lands exactly once per session.

	svc, mgr, mem := newTestReporting(t)
	s := openWithSales(t, mgr)
	ctx := context.Background()

	_, err := mgr.Close(ctx, s.ID, pos.CloseParams{})
	require.NoError(t, err)

	_, err = svc.Z(ctx, s.ID)
	require.NoError(t, err)
	_, err = svc.Z(ctx, s.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, countCode(eventCodes(t, mem, s), saft.CodeZReport))
}

// =============================================================================
// DISPLAY TESTS
// =============================================================================

func TestDisplay_MinorToMajor(t *testing.T) {
	assert.Equal(t, "620.00", report.Display(62000))
	assert.Equal(t, "0.00", report.Display(0))
	assert.Equal(t, "0.05", report.Display(5))
	assert.Equal(t, "-4.50", report.Display(-450))
	assert.Equal(t, "1234567.89", report.Display(123456789))
}
