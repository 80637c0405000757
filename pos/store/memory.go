// Package store provides an in-memory pos.TxStore implementation for
// testing and development. Invariants are enforced with the same typed
// errors as the SQLite store so domain tests run against either.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kassa/pos-engine/pos"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	sessions map[pos.SessionID]pos.Session
	events   []pos.AuditEvent
	keys     map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[pos.SessionID]pos.Session),
		keys:     make(map[string]bool),
	}
}

// =============================================================================
// SESSION STORE
// =============================================================================

func (m *Memory) CreateSession(_ context.Context, s pos.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSessionLocked(s)
}

func (m *Memory) createSessionLocked(s pos.Session) error {
	for _, existing := range m.sessions {
		if existing.StoreID == s.StoreID && existing.DeviceID == s.DeviceID && existing.IsOpen() {
			return &pos.ConflictError{StoreID: s.StoreID, DeviceID: s.DeviceID, OpenSessionID: existing.ID}
		}
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id pos.SessionID) (*pos.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSessionLocked(id)
}

func (m *Memory) getSessionLocked(id pos.SessionID) (*pos.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, pos.ErrSessionNotFound
	}
	out := s
	return &out, nil
}

func (m *Memory) GetOpenSession(_ context.Context, storeID pos.StoreID, deviceID pos.DeviceID) (*pos.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOpenSessionLocked(storeID, deviceID)
}

func (m *Memory) getOpenSessionLocked(storeID pos.StoreID, deviceID pos.DeviceID) (*pos.Session, error) {
	for _, s := range m.sessions {
		if s.StoreID == storeID && s.DeviceID == deviceID && s.IsOpen() {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) NextSessionNumber(_ context.Context, storeID pos.StoreID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextSessionNumberLocked(storeID)
}

func (m *Memory) nextSessionNumberLocked(storeID pos.StoreID) (int64, error) {
	var max int64
	for _, s := range m.sessions {
		if s.StoreID == storeID && s.SessionNumber > max {
			max = s.SessionNumber
		}
	}
	return max + 1, nil
}

func (m *Memory) AddToTotals(_ context.Context, id pos.SessionID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addToTotalsLocked(id, amount)
}

func (m *Memory) addToTotalsLocked(id pos.SessionID, amount int64) error {
	s, ok := m.sessions[id]
	if !ok {
		return pos.ErrSessionNotFound
	}
	if !s.IsOpen() {
		return &pos.ImmutableRecordError{Kind: "session", ID: string(id), Op: "add to totals"}
	}
	s.TransactionCount++
	s.TotalAmount += amount
	m.sessions[id] = s
	return nil
}

func (m *Memory) MarkClosed(_ context.Context, id pos.SessionID, closedAt time.Time, expected, actual, difference int64, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markClosedLocked(id, closedAt, expected, actual, difference, notes)
}

func (m *Memory) markClosedLocked(id pos.SessionID, closedAt time.Time, expected, actual, difference int64, notes string) error {
	s, ok := m.sessions[id]
	if !ok {
		return pos.ErrSessionNotFound
	}
	if !s.IsOpen() {
		return &pos.InvalidStateError{SessionID: id, Status: s.Status, Op: "close"}
	}
	s.Status = pos.StatusClosed
	s.ClosedAt = &closedAt
	s.ExpectedCash = expected
	s.ActualCash = actual
	s.CashDifference = difference
	s.ClosingNotes = notes
	m.sessions[id] = s
	return nil
}

func (m *Memory) ListSessions(_ context.Context, storeID pos.StoreID) ([]pos.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSessionsLocked(storeID)
}

func (m *Memory) listSessionsLocked(storeID pos.StoreID) ([]pos.Session, error) {
	var out []pos.Session
	for _, s := range m.sessions {
		if s.StoreID == storeID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

// =============================================================================
// EVENT STORE - Append-only
// =============================================================================

func (m *Memory) Append(_ context.Context, e pos.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e pos.AuditEvent) error {
	if e.IdempotencyKey != "" && m.keys[e.IdempotencyKey] {
		return pos.ErrDuplicateIdempotencyKey
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	// Insert keeping occurred_at order; equal timestamps keep insertion order.
	i := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].OccurredAt.After(e.OccurredAt)
	})
	m.events = append(m.events, pos.AuditEvent{})
	copy(m.events[i+1:], m.events[i:])
	m.events[i] = e

	if e.IdempotencyKey != "" {
		m.keys[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) AppendBatch(_ context.Context, events []pos.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBatchLocked(events)
}

func (m *Memory) appendBatchLocked(events []pos.AuditEvent) error {
	for _, e := range events {
		if e.IdempotencyKey != "" && m.keys[e.IdempotencyKey] {
			return pos.ErrDuplicateIdempotencyKey
		}
	}
	for _, e := range events {
		if err := m.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[idempotencyKey], nil
}

func (m *Memory) ListEvents(_ context.Context, f pos.EventFilter) ([]pos.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEventsLocked(f)
}

func (m *Memory) listEventsLocked(f pos.EventFilter) ([]pos.AuditEvent, error) {
	var out []pos.AuditEvent
	for _, e := range m.events {
		if !matches(e, f) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func matches(e pos.AuditEvent, f pos.EventFilter) bool {
	if e.StoreID != f.StoreID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.DeviceID != "" && e.DeviceID != f.DeviceID {
		return false
	}
	if f.From != nil && e.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.OccurredAt.After(*f.To) {
		return false
	}
	if len(f.Codes) > 0 {
		found := false
		for _, c := range f.Codes {
			if e.Code == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// =============================================================================
// TRANSACTIONS - Snapshot rollback under one coarse lock
// =============================================================================

// WithTx runs fn under the store lock. On error the pre-transaction state
// is restored wholesale, matching the all-or-nothing contract of the
// SQLite store.
func (m *Memory) WithTx(_ context.Context, fn func(pos.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapSessions := make(map[pos.SessionID]pos.Session, len(m.sessions))
	for k, v := range m.sessions {
		snapSessions[k] = v
	}
	snapEvents := make([]pos.AuditEvent, len(m.events))
	copy(snapEvents, m.events)
	snapKeys := make(map[string]bool, len(m.keys))
	for k, v := range m.keys {
		snapKeys[k] = v
	}

	if err := fn(&txMemory{m: m}); err != nil {
		m.sessions = snapSessions
		m.events = snapEvents
		m.keys = snapKeys
		return err
	}
	return nil
}

// txMemory exposes the unlocked methods to the transaction body. The outer
// WithTx holds the lock; re-locking here would deadlock.
type txMemory struct {
	m *Memory
}

func (t *txMemory) CreateSession(_ context.Context, s pos.Session) error {
	return t.m.createSessionLocked(s)
}

func (t *txMemory) GetSession(_ context.Context, id pos.SessionID) (*pos.Session, error) {
	return t.m.getSessionLocked(id)
}

func (t *txMemory) GetOpenSession(_ context.Context, storeID pos.StoreID, deviceID pos.DeviceID) (*pos.Session, error) {
	return t.m.getOpenSessionLocked(storeID, deviceID)
}

func (t *txMemory) NextSessionNumber(_ context.Context, storeID pos.StoreID) (int64, error) {
	return t.m.nextSessionNumberLocked(storeID)
}

func (t *txMemory) AddToTotals(_ context.Context, id pos.SessionID, amount int64) error {
	return t.m.addToTotalsLocked(id, amount)
}

func (t *txMemory) MarkClosed(_ context.Context, id pos.SessionID, closedAt time.Time, expected, actual, difference int64, notes string) error {
	return t.m.markClosedLocked(id, closedAt, expected, actual, difference, notes)
}

func (t *txMemory) ListSessions(_ context.Context, storeID pos.StoreID) ([]pos.Session, error) {
	return t.m.listSessionsLocked(storeID)
}

func (t *txMemory) Append(_ context.Context, e pos.AuditEvent) error {
	return t.m.appendLocked(e)
}

func (t *txMemory) AppendBatch(_ context.Context, events []pos.AuditEvent) error {
	return t.m.appendBatchLocked(events)
}

func (t *txMemory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return t.m.keys[idempotencyKey], nil
}

func (t *txMemory) ListEvents(_ context.Context, f pos.EventFilter) ([]pos.AuditEvent, error) {
	return t.m.listEventsLocked(f)
}
