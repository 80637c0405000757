package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kassa/pos-engine/api"
	"github.com/kassa/pos-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := httptest.NewServer(api.NewRouter(api.NewHandler(store)))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func doJSONList(t *testing.T, url string) (*http.Response, []map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func openTestSession(t *testing.T, server *httptest.Server, deviceID string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/sessions", map[string]any{
		"store_id":        "store-1",
		"device_id":       deviceID,
		"operator_id":     "op-1",
		"opening_balance": 50000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func chargeBody(chargeID, sessionID string, amount int64, method string) map[string]any {
	return map[string]any{
		"charge_id":      chargeID,
		"session_id":     sessionID,
		"amount":         amount,
		"currency":       "NOK",
		"payment_method": method,
		"succeeded":      true,
		"paid_at":        time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// =============================================================================
// SESSION ENDPOINT TESTS
// =============================================================================

func TestAPI_OpenSession(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/sessions", map[string]any{
		"store_id":        "store-1",
		"device_id":       "dev-1",
		"operator_id":     "op-1",
		"opening_balance": 50000,
	})

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "open", body["status"])
	assert.Equal(t, "0001", body["session_number"])
	assert.Equal(t, float64(50000), body["opening_balance"])
	assert.NotEmpty(t, body["id"])
}

func TestAPI_OpenSession_Conflict409(t *testing.T) {
	server := newTestServer(t)
	openTestSession(t, server, "dev-1")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/sessions", map[string]any{
		"store_id":    "store-1",
		"device_id":   "dev-1",
		"operator_id": "op-2",
	})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestAPI_OpenSession_MissingFields400(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/sessions", map[string]any{
		"store_id": "store-1",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetSession_Missing404(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/sessions/ses-missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CloseSession(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/succeeded",
		chargeBody("ch-1", id, 12000, "cash"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/close", map[string]any{
		"actual_cash": 62500,
		"notes":       "evening count",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "closed", body["status"])
	assert.Equal(t, float64(62000), body["expected_cash"])
	assert.Equal(t, float64(62500), body["actual_cash"])
	assert.Equal(t, float64(500), body["cash_difference"])
	assert.NotEmpty(t, body["closed_at"])
}

func TestAPI_CloseSession_EmptyBodyAllowed(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/sessions/"+id+"/close", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CloseSession_Twice409(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/close", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/close", map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ListSessions(t *testing.T) {
	server := newTestServer(t)
	openTestSession(t, server, "dev-1")
	openTestSession(t, server, "dev-2")

	resp, sessions := doJSONList(t, server.URL+"/api/stores/store-1/sessions")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, sessions, 2)
}

// =============================================================================
// CHARGE ENDPOINT TESTS
// =============================================================================

func TestAPI_ChargeSucceeded_ReplayedDeliveries202(t *testing.T) {
	// The payment collaborator redelivers webhooks; every delivery of the
	// same fact gets a 2xx and the session counts it once.

	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")
	body := chargeBody("ch-1", id, 4500, "cash")

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/succeeded", body)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, "delivery %d", i)
	}

	resp, session := doJSON(t, http.MethodGet, server.URL+"/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), session["transaction_count"])
	assert.Equal(t, float64(4500), session["total_amount"])
}

func TestAPI_ChargeRefunded(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/succeeded",
		chargeBody("ch-1", id, 4500, "cash"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	refund := chargeBody("ch-1", id, 4500, "cash")
	refund["refunded"] = true
	refund["amount_refunded"] = 4500
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/charges/refunded", refund)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, session := doJSON(t, http.MethodGet, server.URL+"/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4500), session["total_amount"], "refund never decrements the sale")
}

func TestAPI_Charge_BadTimestamp400(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	body := chargeBody("ch-1", id, 4500, "cash")
	body["paid_at"] = "yesterday"

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/succeeded", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ChargeVoided_IdempotentReplay(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")
	body := chargeBody("ch-1", id, 4500, "cash")

	for i := 0; i < 2; i++ {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/voided", body)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp, events := doJSONList(t, server.URL+"/api/stores/store-1/events?session_id="+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	voids := 0
	for _, e := range events {
		if e["event_code"].(float64) == 13011 {
			voids++
		}
	}
	assert.Equal(t, 1, voids)

	resp, session := doJSON(t, http.MethodGet, server.URL+"/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), session["total_amount"], "voided charges never count")
}

func TestAPI_ChargeCorrected(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/succeeded",
		chargeBody("ch-1", id, 4500, "cash"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/charges/corrected",
		chargeBody("ch-1", id, 5400, "cash"))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, events := doJSONList(t, server.URL+"/api/stores/store-1/events?session_id="+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	last := events[len(events)-1]
	assert.Equal(t, float64(13012), last["event_code"])
}

func TestAPI_ReceiptCopyAndTraining(t *testing.T) {
	// paid_at is optional for receipt actions; they are stamped at
	// recording time.

	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	copyBody := map[string]any{
		"charge_id":      "ch-1",
		"session_id":     id,
		"payment_method": "cash",
	}
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/receipts/copy", copyBody)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	trainingBody := map[string]any{
		"session_id":     id,
		"amount":         4500,
		"payment_method": "cash",
	}
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/receipts/training", trainingBody)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, events := doJSONList(t, server.URL+"/api/stores/store-1/events?session_id="+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	codes := make(map[float64]bool)
	for _, e := range events {
		codes[e["event_code"].(float64)] = true
	}
	assert.True(t, codes[13013], "copy receipt in the trail")
	assert.True(t, codes[13020], "training receipt in the trail")

	resp, session := doJSON(t, http.MethodGet, server.URL+"/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), session["total_amount"], "training never counts")
}

// =============================================================================
// EVENT ENDPOINT TESTS
// =============================================================================

func TestAPI_ListEvents_FullTrail(t *testing.T) {
	// GIVEN: A full session day - open, sale, close
	// THEN: The store's audit trail shows the regulation codes in order

	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/succeeded",
		chargeBody("ch-1", id, 4500, "cash"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/close", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, events := doJSONList(t, server.URL+"/api/stores/store-1/events?session_id="+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, events, 4)

	codes := make([]float64, len(events))
	for i, e := range events {
		codes[i] = e["event_code"].(float64)
	}
	assert.Equal(t, []float64{13018, 13009, 13014, 13019}, codes)
	assert.Equal(t, "session", events[0]["event_type"])
}

func TestAPI_ListEvents_BadFromTimestamp400(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/stores/store-1/events?from=notatime")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RecordOperationalEvent(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/stores/store-1/events", map[string]any{
		"kind":        "login",
		"device_id":   "dev-1",
		"operator_id": "op-1",
	})

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(13003), body["event_code"])
	assert.Equal(t, "user", body["event_type"])
}

func TestAPI_RecordOperationalEvent_CatchAllKind(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/stores/store-1/events", map[string]any{
		"kind":      "other",
		"device_id": "dev-1",
	})

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(13021), body["event_code"])
	assert.Equal(t, "other", body["event_type"])
}

func TestAPI_RecordOperationalEvent_UnknownKind400(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/stores/store-1/events", map[string]any{
		"kind": "coffee_break",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// REPORT ENDPOINT TESTS
// =============================================================================

func TestAPI_XReport(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/succeeded",
		chargeBody("ch-1", id, 12000, "cash"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, report := doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/reports/x", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "X", report["kind"])
	assert.Equal(t, float64(62000), report["expected_cash"])
	assert.Equal(t, "620.00", report["expected_cash_display"])
}

func TestAPI_ZReport_OpenSession409(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/reports/z", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ZReport_ClosedSession(t *testing.T) {
	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/close", map[string]any{
		"actual_cash": 50000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, report := doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/reports/z", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Z", report["kind"])
	assert.Equal(t, float64(50000), report["actual_cash"])
	assert.Equal(t, float64(0), report["cash_difference"])
}

// =============================================================================
// SCENARIO: A FULL TRADING DAY
// =============================================================================

func TestAPI_Scenario_FullTradingDay(t *testing.T) {
	// Morning open, mixed sales, a refund, evening close with a shortage,
	// Z report. End-to-end through the HTTP surface.

	server := newTestServer(t)
	id := openTestSession(t, server, "dev-1")

	sales := []struct {
		chargeID string
		amount   int64
		method   string
	}{
		{"ch-1", 4500, "cash"},
		{"ch-2", 7500, "cash"},
		{"ch-3", 29900, "card"},
	}
	for _, s := range sales {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/succeeded",
			chargeBody(s.chargeID, id, s.amount, s.method))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	refund := chargeBody("ch-2", id, 7500, "cash")
	refund["refunded"] = true
	refund["amount_refunded"] = 7500
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/charges/refunded", refund)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Expected: 500.00 + 45.00 + 75.00 - 75.00 = 545.00. Counted 540.00.
	resp, closed := doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/close", map[string]any{
		"actual_cash": 54000,
		"notes":       "missing 5.00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(54500), closed["expected_cash"])
	assert.Equal(t, float64(-500), closed["cash_difference"])

	resp, z := doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+id+"/reports/z", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), z["sales_count"])
	assert.Equal(t, float64(41900), z["sales_total"])
	assert.Equal(t, float64(1), z["refund_count"])

	// The trail for the day: opened, 3 sale/payment pairs, return, closed,
	// Z report.
	trailResp, events := doJSONList(t, fmt.Sprintf("%s/api/stores/store-1/events?session_id=%s", server.URL, id))
	require.Equal(t, http.StatusOK, trailResp.StatusCode)
	assert.Len(t, events, 10)
}
