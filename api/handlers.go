/*
handlers.go - HTTP handlers for the session-control API

PURPOSE:
  Exposes the POS session core over REST. Handles request parsing, JSON
  serialization, and error-to-status mapping; all business rules live in
  pos and report.

ENDPOINTS:
  Sessions:
    POST /api/sessions                      Open a session
    GET  /api/sessions/{id}                 Session details
    POST /api/sessions/{id}/close           Close with optional cash count
    POST /api/sessions/{id}/reports/x       Generate X report
    POST /api/sessions/{id}/reports/z       Generate Z report (closed only)

  Charges (pushed by the payment collaborator, replay-safe):
    POST /api/charges/succeeded
    POST /api/charges/refunded
    POST /api/charges/voided
    POST /api/charges/corrected

  Receipts (POS-side receipt actions):
    POST /api/receipts/copy                 Receipt copy printed
    POST /api/receipts/training             Training-mode receipt

  Stores:
    GET  /api/stores/{storeID}/sessions     Session history
    GET  /api/stores/{storeID}/events       Audit trail (ordered, filtered)
    POST /api/stores/{storeID}/events       Operational events (app/login/drawer)

ERROR MAPPING:
  The four domain error kinds stay distinguishable at the boundary:
  - 400: malformed input (retrying unchanged will fail the same way)
  - 404: unknown session
  - 409: conflict or invalid state ("this is disallowed")
  - 500 + integrity message: immutability violation ("contact support")
  - 500: storage failure ("nothing happened, try again")

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kassa/pos-engine/pos"
	"github.com/kassa/pos-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    pos.TxStore
	Sessions *pos.Manager
	Ledger   pos.Ledger
	Reports  *report.Service
}

// NewHandler wires the domain services over one transactional store.
func NewHandler(store pos.TxStore) *Handler {
	return &Handler{
		Store:    store,
		Sessions: pos.NewManager(store),
		Ledger:   pos.NewLedger(store),
		Reports:  report.NewService(store),
	}
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// OpenSession opens a new session for a (store, device) pair.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	session, err := h.Sessions.Open(r.Context(), pos.OpenParams{
		StoreID:        pos.StoreID(req.StoreID),
		DeviceID:       pos.DeviceID(req.DeviceID),
		OperatorID:     pos.OperatorID(req.OperatorID),
		OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		writeDomainError(w, "Failed to open session", err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionDTO(session))
}

// GetSession returns a single session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := pos.SessionID(chi.URLParam(r, "id"))

	session, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get session", err)
		return
	}

	writeJSON(w, http.StatusOK, sessionDTO(session))
}

// CloseSession closes an open session. The body is optional: closing
// without one means "no physical count".
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := pos.SessionID(chi.URLParam(r, "id"))

	var req CloseSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	session, err := h.Sessions.Close(r.Context(), id, pos.CloseParams{
		ActualCash: req.ActualCash,
		Notes:      req.Notes,
	})
	if err != nil {
		writeDomainError(w, "Failed to close session", err)
		return
	}

	writeJSON(w, http.StatusOK, sessionDTO(session))
}

// ListSessions returns a store's sessions, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	storeID := pos.StoreID(chi.URLParam(r, "storeID"))

	sessions, err := h.Store.ListSessions(r.Context(), storeID)
	if err != nil {
		writeDomainError(w, "Failed to list sessions", err)
		return
	}

	dtos := make([]SessionDTO, len(sessions))
	for i := range sessions {
		dtos[i] = sessionDTO(&sessions[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CHARGE HANDLERS
// =============================================================================

// ChargeSucceeded records a successful charge fact. Replays are no-ops,
// so webhook redelivery always gets a 2xx.
func (h *Handler) ChargeSucceeded(w http.ResponseWriter, r *http.Request) {
	fact, ok := decodeFact(w, r)
	if !ok {
		return
	}

	if err := h.Sessions.RecordChargeSucceeded(r.Context(), fact); err != nil {
		writeDomainError(w, "Failed to record charge", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// ChargeRefunded records a refund fact.
func (h *Handler) ChargeRefunded(w http.ResponseWriter, r *http.Request) {
	fact, ok := decodeFact(w, r)
	if !ok {
		return
	}

	if err := h.Sessions.RecordChargeRefunded(r.Context(), fact); err != nil {
		writeDomainError(w, "Failed to record refund", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// ChargeVoided records a receipt voided before completion.
func (h *Handler) ChargeVoided(w http.ResponseWriter, r *http.Request) {
	fact, ok := decodeFact(w, r)
	if !ok {
		return
	}

	if err := h.Sessions.RecordChargeVoided(r.Context(), fact); err != nil {
		writeDomainError(w, "Failed to record void", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// ChargeCorrected records a correction of a completed receipt.
func (h *Handler) ChargeCorrected(w http.ResponseWriter, r *http.Request) {
	fact, ok := decodeFact(w, r)
	if !ok {
		return
	}

	if err := h.Sessions.RecordChargeCorrected(r.Context(), fact); err != nil {
		writeDomainError(w, "Failed to record correction", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// ReceiptCopy records a receipt copy being printed.
func (h *Handler) ReceiptCopy(w http.ResponseWriter, r *http.Request) {
	fact, ok := decodeFact(w, r)
	if !ok {
		return
	}

	if err := h.Sessions.RecordReceiptCopy(r.Context(), fact); err != nil {
		writeDomainError(w, "Failed to record receipt copy", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// TrainingReceipt records a receipt issued in training mode.
func (h *Handler) TrainingReceipt(w http.ResponseWriter, r *http.Request) {
	fact, ok := decodeFact(w, r)
	if !ok {
		return
	}

	if err := h.Sessions.RecordTrainingReceipt(r.Context(), fact); err != nil {
		writeDomainError(w, "Failed to record training receipt", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func decodeFact(w http.ResponseWriter, r *http.Request) (pos.ChargeFact, bool) {
	var req ChargeFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return pos.ChargeFact{}, false
	}
	fact, err := req.fact()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid paid_at timestamp", err)
		return pos.ChargeFact{}, false
	}
	return fact, true
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ListEvents returns a store's audit trail, ordered by occurred_at.
// Optional query params: session_id, device_id, from, to (RFC3339).
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := pos.EventFilter{
		StoreID:   pos.StoreID(chi.URLParam(r, "storeID")),
		SessionID: pos.SessionID(r.URL.Query().Get("session_id")),
		DeviceID:  pos.DeviceID(r.URL.Query().Get("device_id")),
	}

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp", err)
			return
		}
		filter.From = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp", err)
			return
		}
		filter.To = &t
	}

	events, err := h.Ledger.ListByScope(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = eventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordOperationalEvent logs an application, operator, or drawer event.
func (h *Handler) RecordOperationalEvent(w http.ResponseWriter, r *http.Request) {
	storeID := pos.StoreID(chi.URLParam(r, "storeID"))

	var req OperationalEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	params := pos.OpEventParams{
		StoreID:    storeID,
		DeviceID:   pos.DeviceID(req.DeviceID),
		OperatorID: pos.OperatorID(req.OperatorID),
		SessionID:  pos.SessionID(req.SessionID),
	}

	var (
		event *pos.AuditEvent
		err   error
	)
	switch req.Kind {
	case "app_start":
		event, err = h.Sessions.RecordAppStart(r.Context(), params)
	case "app_stop":
		event, err = h.Sessions.RecordAppStop(r.Context(), params)
	case "login":
		event, err = h.Sessions.RecordLogin(r.Context(), params)
	case "logout":
		event, err = h.Sessions.RecordLogout(r.Context(), params)
	case "drawer_open":
		event, err = h.Sessions.RecordDrawerOpen(r.Context(), params)
	case "drawer_close":
		event, err = h.Sessions.RecordDrawerClose(r.Context(), params)
	case "other":
		event, err = h.Sessions.RecordOther(r.Context(), params)
	default:
		writeError(w, http.StatusBadRequest, "Unknown event kind: "+req.Kind, nil)
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to record event", err)
		return
	}

	writeJSON(w, http.StatusCreated, eventDTO(*event))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// XReport generates a point-in-time session report.
func (h *Handler) XReport(w http.ResponseWriter, r *http.Request) {
	id := pos.SessionID(chi.URLParam(r, "id"))

	rep, err := h.Reports.X(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to generate X report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ZReport generates the closing report for a closed session.
func (h *Handler) ZReport(w http.ResponseWriter, r *http.Request) {
	id := pos.SessionID(chi.URLParam(r, "id"))

	rep, err := h.Reports.Z(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to generate Z report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDomainError keeps the four domain error kinds distinguishable for
// clients: retryable storage failures, disallowed operations, missing
// records, and integrity violations each get their own shape.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, pos.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, message, err)
	case pos.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case pos.IsConflict(err), pos.IsInvalidState(err):
		writeError(w, http.StatusConflict, message, err)
	case pos.IsImmutable(err):
		writeError(w, http.StatusInternalServerError, "Data integrity violation, contact support", err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
