package pos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kassa/pos-engine/pos"
	"github.com/kassa/pos-engine/pos/store"
	"github.com/kassa/pos-engine/saft"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*pos.DefaultLedger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return pos.NewLedger(mem), mem
}

func auditEvent(storeID string, code saft.EventCode, at time.Time, key string) pos.AuditEvent {
	return pos.AuditEvent{
		ID:             pos.EventID(pos.NewID("evt")),
		StoreID:        pos.StoreID(storeID),
		Code:           code,
		Description:    saft.Description(code),
		OccurredAt:     at,
		IdempotencyKey: key,
	}
}

// =============================================================================
// APPEND TESTS
// =============================================================================

func TestLedger_Append_DuplicateKeyRejected(t *testing.T) {
	// GIVEN: An event with idempotency key "charge:ch-1:sale" in the ledger
	// WHEN: Appending another event with the same key
	// THEN: ErrDuplicateIdempotencyKey, and the ledger keeps one event

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := ledger.Append(ctx, auditEvent("store-1", saft.CodeSalesReceipt, now, "charge:ch-1:sale"))
	require.NoError(t, err)

	err = ledger.Append(ctx, auditEvent("store-1", saft.CodeSalesReceipt, now, "charge:ch-1:sale"))
	assert.ErrorIs(t, err, pos.ErrDuplicateIdempotencyKey)

	events, err := ledger.ListByScope(ctx, pos.EventFilter{StoreID: "store-1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestLedger_Append_EmptyKeySkipsDeduplication(t *testing.T) {
	// Events without an idempotency key (operational events, reports) are
	// never deduplicated against each other.

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ledger.Append(ctx, auditEvent("store-1", saft.CodeDrawerOpen, now, "")))
	require.NoError(t, ledger.Append(ctx, auditEvent("store-1", saft.CodeDrawerOpen, now.Add(time.Minute), "")))

	events, err := ledger.ListByScope(ctx, pos.EventFilter{StoreID: "store-1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

// =============================================================================
// SCOPE AND ORDERING TESTS
// =============================================================================

func TestLedger_ListByScope_OrderedByOccurredAt(t *testing.T) {
	// GIVEN: Events appended out of business-time order (late webhook)
	// THEN: Reads come back ordered by occurred_at, not insertion order

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Append(ctx, auditEvent("store-1", saft.CodeSalesReceipt, base.Add(2*time.Hour), "")))
	require.NoError(t, ledger.Append(ctx, auditEvent("store-1", saft.CodeSalesReceipt, base, "")))
	require.NoError(t, ledger.Append(ctx, auditEvent("store-1", saft.CodeSalesReceipt, base.Add(time.Hour), "")))

	events, err := ledger.ListByScope(ctx, pos.EventFilter{StoreID: "store-1"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, base, events[0].OccurredAt)
	assert.Equal(t, base.Add(time.Hour), events[1].OccurredAt)
	assert.Equal(t, base.Add(2*time.Hour), events[2].OccurredAt)
}

func TestLedger_ListByScope_FiltersByStore(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ledger.Append(ctx, auditEvent("store-a", saft.CodeAppStart, now, "")))
	require.NoError(t, ledger.Append(ctx, auditEvent("store-b", saft.CodeAppStart, now, "")))

	events, err := ledger.ListByScope(ctx, pos.EventFilter{StoreID: "store-a"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, pos.StoreID("store-a"), events[0].StoreID)
}

func TestLedger_ListByScope_DateRange(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.Append(ctx,
			auditEvent("store-1", saft.CodeSalesReceipt, base.AddDate(0, 0, i), "")))
	}

	from := base.AddDate(0, 0, 1)
	to := base.AddDate(0, 0, 3)
	events, err := ledger.ListByScope(ctx, pos.EventFilter{StoreID: "store-1", From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, events, 3, "range is inclusive on both ends")
}
