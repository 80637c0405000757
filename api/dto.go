/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the session-control API. These decouple the domain
  model from the wire contract: amounts stay int64 minor units on the wire
  (clients do their own formatting; the server never emits floats for
  money), timestamps are RFC3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Handlers validate; DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/kassa/pos-engine/pos"
)

// =============================================================================
// SESSION TYPES
// =============================================================================

// OpenSessionRequest opens a new session for a device.
type OpenSessionRequest struct {
	StoreID        string `json:"store_id"`
	DeviceID       string `json:"device_id"`
	OperatorID     string `json:"operator_id"`
	OpeningBalance int64  `json:"opening_balance"`
}

// CloseSessionRequest closes a session. ActualCash nil means "closed
// without a physical count": expected is taken as counted, difference 0.
type CloseSessionRequest struct {
	ActualCash *int64 `json:"actual_cash,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// SessionDTO represents a session in API responses.
type SessionDTO struct {
	ID            string `json:"id"`
	StoreID       string `json:"store_id"`
	DeviceID      string `json:"device_id"`
	OperatorID    string `json:"operator_id"`
	SessionNumber string `json:"session_number"`
	Status        string `json:"status"`
	OpenedAt      string `json:"opened_at"`
	ClosedAt      string `json:"closed_at,omitempty"`

	OpeningBalance   int64 `json:"opening_balance"`
	TransactionCount int64 `json:"transaction_count"`
	TotalAmount      int64 `json:"total_amount"`

	ExpectedCash   *int64 `json:"expected_cash,omitempty"`
	ActualCash     *int64 `json:"actual_cash,omitempty"`
	CashDifference *int64 `json:"cash_difference,omitempty"`
	ClosingNotes   string `json:"closing_notes,omitempty"`
}

func sessionDTO(s *pos.Session) SessionDTO {
	dto := SessionDTO{
		ID:               string(s.ID),
		StoreID:          string(s.StoreID),
		DeviceID:         string(s.DeviceID),
		OperatorID:       string(s.OperatorID),
		SessionNumber:    s.DisplayNumber(),
		Status:           string(s.Status),
		OpenedAt:         s.OpenedAt.Format(time.RFC3339Nano),
		OpeningBalance:   s.OpeningBalance,
		TransactionCount: s.TransactionCount,
		TotalAmount:      s.TotalAmount,
		ClosingNotes:     s.ClosingNotes,
	}
	if s.ClosedAt != nil {
		dto.ClosedAt = s.ClosedAt.Format(time.RFC3339Nano)
		expected, actual, diff := s.ExpectedCash, s.ActualCash, s.CashDifference
		dto.ExpectedCash = &expected
		dto.ActualCash = &actual
		dto.CashDifference = &diff
	}
	return dto
}

// =============================================================================
// CHARGE TYPES
// =============================================================================

// ChargeFactRequest is a charge fact pushed by the payment collaborator.
type ChargeFactRequest struct {
	ChargeID       string `json:"charge_id"`
	StoreID        string `json:"store_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PaymentMethod  string `json:"payment_method"`
	ProviderMethod string `json:"provider_method,omitempty"`
	Succeeded      bool   `json:"succeeded"`
	Refunded       bool   `json:"refunded"`
	AmountRefunded int64  `json:"amount_refunded"`
	PaidAt         string `json:"paid_at"`
}

func (r ChargeFactRequest) fact() (pos.ChargeFact, error) {
	// paid_at is optional: receipt events without one are stamped at
	// recording time.
	var paidAt time.Time
	if r.PaidAt != "" {
		var err error
		paidAt, err = time.Parse(time.RFC3339Nano, r.PaidAt)
		if err != nil {
			return pos.ChargeFact{}, err
		}
	}
	return pos.ChargeFact{
		ChargeID:       pos.ChargeID(r.ChargeID),
		StoreID:        pos.StoreID(r.StoreID),
		SessionID:      pos.SessionID(r.SessionID),
		Amount:         r.Amount,
		Currency:       r.Currency,
		Method:         pos.PaymentMethod(r.PaymentMethod),
		ProviderMethod: r.ProviderMethod,
		Succeeded:      r.Succeeded,
		Refunded:       r.Refunded,
		AmountRefunded: r.AmountRefunded,
		PaidAt:         paidAt,
	}, nil
}

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventDTO represents an audit event in API responses.
type EventDTO struct {
	ID          string        `json:"id"`
	StoreID     string        `json:"store_id"`
	DeviceID    string        `json:"device_id,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
	OperatorID  string        `json:"operator_id,omitempty"`
	ChargeID    string        `json:"charge_id,omitempty"`
	EventCode   int           `json:"event_code"`
	EventType   string        `json:"event_type"`
	Description string        `json:"description"`
	Data        pos.EventData `json:"event_data"`
	OccurredAt  string        `json:"occurred_at"`
	CreatedAt   string        `json:"created_at,omitempty"`
}

func eventDTO(e pos.AuditEvent) EventDTO {
	dto := EventDTO{
		ID:          string(e.ID),
		StoreID:     string(e.StoreID),
		DeviceID:    string(e.DeviceID),
		SessionID:   string(e.SessionID),
		OperatorID:  string(e.OperatorID),
		ChargeID:    string(e.ChargeID),
		EventCode:   int(e.Code),
		EventType:   string(e.Type()),
		Description: e.Description,
		Data:        e.Data,
		OccurredAt:  e.OccurredAt.Format(time.RFC3339Nano),
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339Nano)
	}
	return dto
}

// OperationalEventRequest records an application/operator/drawer event.
type OperationalEventRequest struct {
	Kind       string `json:"kind"` // app_start, app_stop, login, logout, drawer_open, drawer_close
	DeviceID   string `json:"device_id,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
