/*
Package sqlite provides the SQLite-backed implementation of the POS
persistence interfaces.

PURPOSE:
  Implements pos.TxStore: the sessions table (mutable while open, frozen
  once closed) and the audit_events table (append-only). The same patterns
  apply to PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  There is no UPDATE and no DELETE statement against audit_events anywhere
  in this package. Corrections are new events.

INVARIANTS BACKED BY INDEXES:
  idx_unique_open_session:   at most one open session per (store, device).
                             Two racing opens cannot both insert; the loser
                             gets a ConflictError, not a second drawer.
  idx_unique_session_number: session numbers are unique per store. Combined
                             with MAX+1 allocation inside the same
                             transaction, the sequence stays gap-free.
  idempotency_key UNIQUE:    a replayed charge fact cannot append twice,
                             even when two deliveries race past the
                             in-transaction Exists check.

TIMESTAMPS:
  Stored as fixed-width UTC nanosecond strings so lexicographic order is
  chronological order; occurred_at ties are broken by rowid (insertion
  order).

CONCURRENCY:
  sync.Mutex serializes writers; SQLite is opened in WAL mode so readers
  don't block. Read helpers are parameterized over the queryer so they run
  both on the pool and inside an open transaction without re-locking.

USAGE:
  store, err := sqlite.New("./data/pos.db")   // or ":memory:" for tests
  mgr := pos.NewManager(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kassa/pos-engine/pos"
	"github.com/kassa/pos-engine/saft"
)

// timeFormat keeps nanosecond precision with fixed width, so TEXT ordering
// in SQL equals chronological ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements pos.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: ":memory:" databases are per-connection, and writers
	// are serialized by s.mu anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Sessions (mutable until closed, then frozen)
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		operator_id TEXT NOT NULL,
		session_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		opened_at TEXT NOT NULL,
		closed_at TEXT,
		opening_balance INTEGER NOT NULL,
		transaction_count INTEGER NOT NULL DEFAULT 0,
		total_amount INTEGER NOT NULL DEFAULT 0,
		expected_cash INTEGER NOT NULL DEFAULT 0,
		actual_cash INTEGER NOT NULL DEFAULT 0,
		cash_difference INTEGER NOT NULL DEFAULT 0,
		closing_notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one open session per (store, device). A check-then-insert
	-- race loses here instead of corrupting the drawer accounting.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_open_session
		ON sessions(store_id, device_id)
		WHERE status = 'open';

	-- Session numbers are store-scoped and unique.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_session_number
		ON sessions(store_id, session_number);

	CREATE INDEX IF NOT EXISTS idx_sessions_store
		ON sessions(store_id, opened_at DESC);

	-- Audit events (append-only ledger)
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		device_id TEXT,
		session_id TEXT,
		operator_id TEXT,
		charge_id TEXT,
		event_code INTEGER NOT NULL,
		description TEXT NOT NULL,
		event_data_json TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_store_occurred
		ON audit_events(store_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_events_session
		ON audit_events(session_id) WHERE session_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_events_idempotency
		ON audit_events(idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_events_code
		ON audit_events(event_code);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx. Helpers take it so the
// same code runs on the pool and inside transactions.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// SESSION STORE (pos.SessionStore interface)
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, sess pos.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createSession(ctx, s.db, sess)
}

func createSession(ctx context.Context, q queryer, sess pos.Session) error {
	query := `
		INSERT INTO sessions
		(id, store_id, device_id, operator_id, session_number, status,
		 opened_at, opening_balance, transaction_count, total_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		sess.ID, sess.StoreID, sess.DeviceID, sess.OperatorID,
		sess.SessionNumber, sess.Status,
		sess.OpenedAt.UTC().Format(timeFormat),
		sess.OpeningBalance, sess.TransactionCount, sess.TotalAmount,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		// SQLite names the violated columns, not the index:
		// "UNIQUE constraint failed: sessions.store_id, sessions.device_id"
		if isConstraintError(err, "sessions.device_id") {
			return &pos.ConflictError{StoreID: sess.StoreID, DeviceID: sess.DeviceID}
		}
		return &pos.StorageError{Op: "create session", Err: err}
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id pos.SessionID) (*pos.Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q queryer, id pos.SessionID) (*pos.Session, error) {
	row := q.QueryRowContext(ctx, sessionSelect+" WHERE id = ?", id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, pos.ErrSessionNotFound
	}
	if err != nil {
		return nil, &pos.StorageError{Op: "get session", Err: err}
	}
	return sess, nil
}

func (s *Store) GetOpenSession(ctx context.Context, storeID pos.StoreID, deviceID pos.DeviceID) (*pos.Session, error) {
	return getOpenSession(ctx, s.db, storeID, deviceID)
}

func getOpenSession(ctx context.Context, q queryer, storeID pos.StoreID, deviceID pos.DeviceID) (*pos.Session, error) {
	row := q.QueryRowContext(ctx,
		sessionSelect+" WHERE store_id = ? AND device_id = ? AND status = 'open'",
		storeID, deviceID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &pos.StorageError{Op: "get open session", Err: err}
	}
	return sess, nil
}

func (s *Store) NextSessionNumber(ctx context.Context, storeID pos.StoreID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextSessionNumber(ctx, s.db, storeID)
}

func nextSessionNumber(ctx context.Context, q queryer, storeID pos.StoreID) (int64, error) {
	var next int64
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(session_number), 0) + 1 FROM sessions WHERE store_id = ?",
		storeID,
	).Scan(&next)
	if err != nil {
		return 0, &pos.StorageError{Op: "next session number", Err: err}
	}
	return next, nil
}

func (s *Store) AddToTotals(ctx context.Context, id pos.SessionID, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addToTotals(ctx, s.db, id, amount)
}

func addToTotals(ctx context.Context, q queryer, id pos.SessionID, amount int64) error {
	// Guarded increment: only open sessions are writable.
	res, err := q.ExecContext(ctx, `
		UPDATE sessions
		SET transaction_count = transaction_count + 1,
		    total_amount = total_amount + ?
		WHERE id = ? AND status = 'open'
	`, amount, id)
	if err != nil {
		return &pos.StorageError{Op: "add to totals", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &pos.StorageError{Op: "add to totals", Err: err}
	}
	if affected == 0 {
		if _, err := sessionStatus(ctx, q, id); err != nil {
			return err
		}
		return &pos.ImmutableRecordError{Kind: "session", ID: string(id), Op: "add to totals"}
	}
	return nil
}

func (s *Store) MarkClosed(ctx context.Context, id pos.SessionID, closedAt time.Time, expected, actual, difference int64, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markClosed(ctx, s.db, id, closedAt, expected, actual, difference, notes)
}

func markClosed(ctx context.Context, q queryer, id pos.SessionID, closedAt time.Time, expected, actual, difference int64, notes string) error {
	// The status guard in WHERE is what makes double-close impossible under
	// race: the second close updates zero rows.
	res, err := q.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'closed',
		    closed_at = ?,
		    expected_cash = ?,
		    actual_cash = ?,
		    cash_difference = ?,
		    closing_notes = ?
		WHERE id = ? AND status = 'open'
	`, closedAt.UTC().Format(timeFormat), expected, actual, difference, notes, id)
	if err != nil {
		return &pos.StorageError{Op: "close session", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &pos.StorageError{Op: "close session", Err: err}
	}
	if affected == 0 {
		status, err := sessionStatus(ctx, q, id)
		if err != nil {
			return err
		}
		return &pos.InvalidStateError{SessionID: id, Status: status, Op: "close"}
	}
	return nil
}

func sessionStatus(ctx context.Context, q queryer, id pos.SessionID) (pos.SessionStatus, error) {
	var status pos.SessionStatus
	err := q.QueryRowContext(ctx, "SELECT status FROM sessions WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", pos.ErrSessionNotFound
	}
	if err != nil {
		return "", &pos.StorageError{Op: "session status", Err: err}
	}
	return status, nil
}

func (s *Store) ListSessions(ctx context.Context, storeID pos.StoreID) ([]pos.Session, error) {
	return listSessions(ctx, s.db, storeID)
}

func listSessions(ctx context.Context, q queryer, storeID pos.StoreID) ([]pos.Session, error) {
	rows, err := q.QueryContext(ctx,
		sessionSelect+" WHERE store_id = ? ORDER BY opened_at DESC", storeID)
	if err != nil {
		return nil, &pos.StorageError{Op: "list sessions", Err: err}
	}
	defer rows.Close()

	var sessions []pos.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, &pos.StorageError{Op: "list sessions", Err: err}
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

const sessionSelect = `
	SELECT id, store_id, device_id, operator_id, session_number, status,
	       opened_at, closed_at, opening_balance, transaction_count, total_amount,
	       expected_cash, actual_cash, cash_difference, closing_notes
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*pos.Session, error) {
	var (
		sess     pos.Session
		openedAt string
		closedAt sql.NullString
	)
	err := row.Scan(
		&sess.ID, &sess.StoreID, &sess.DeviceID, &sess.OperatorID,
		&sess.SessionNumber, &sess.Status,
		&openedAt, &closedAt,
		&sess.OpeningBalance, &sess.TransactionCount, &sess.TotalAmount,
		&sess.ExpectedCash, &sess.ActualCash, &sess.CashDifference,
		&sess.ClosingNotes,
	)
	if err != nil {
		return nil, err
	}

	// A timestamp that fails to parse is corruption, not a zero time.
	sess.OpenedAt, err = time.Parse(timeFormat, openedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt opened_at for session %s: %w", sess.ID, err)
	}
	if closedAt.Valid {
		t, err := time.Parse(timeFormat, closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt closed_at for session %s: %w", sess.ID, err)
		}
		sess.ClosedAt = &t
	}
	return &sess, nil
}

// =============================================================================
// EVENT STORE (pos.EventStore interface) - Append-only
// =============================================================================

func (s *Store) Append(ctx context.Context, e pos.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEvent(ctx, s.db, e)
}

func appendEvent(ctx context.Context, q queryer, e pos.AuditEvent) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return &pos.StorageError{Op: "append event", Err: err}
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events
		(id, store_id, device_id, session_id, operator_id, charge_id,
		 event_code, description, event_data_json, occurred_at, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		e.ID, e.StoreID,
		nullString(string(e.DeviceID)),
		nullString(string(e.SessionID)),
		nullString(string(e.OperatorID)),
		nullString(string(e.ChargeID)),
		int(e.Code), e.Description, string(dataJSON),
		e.OccurredAt.UTC().Format(timeFormat),
		nullString(e.IdempotencyKey),
		createdAt.Format(timeFormat),
	)
	if err != nil {
		if isConstraintError(err, "idempotency_key") {
			return pos.ErrDuplicateIdempotencyKey
		}
		return &pos.StorageError{Op: "append event", Err: err}
	}
	return nil
}

func (s *Store) AppendBatch(ctx context.Context, events []pos.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &pos.StorageError{Op: "append batch", Err: err}
	}
	defer sqlTx.Rollback()

	if err := appendBatch(ctx, sqlTx, events); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &pos.StorageError{Op: "append batch", Err: err}
	}
	return nil
}

func appendBatch(ctx context.Context, q queryer, events []pos.AuditEvent) error {
	seen := make(map[string]bool)
	for _, e := range events {
		if e.IdempotencyKey != "" {
			if seen[e.IdempotencyKey] {
				return pos.ErrDuplicateIdempotencyKey
			}
			seen[e.IdempotencyKey] = true
		}
	}
	for _, e := range events {
		if err := appendEvent(ctx, q, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return keyExists(ctx, s.db, idempotencyKey)
}

func keyExists(ctx context.Context, q queryer, idempotencyKey string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_events WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, &pos.StorageError{Op: "idempotency check", Err: err}
	}
	return count > 0, nil
}

func (s *Store) ListEvents(ctx context.Context, f pos.EventFilter) ([]pos.AuditEvent, error) {
	return listEvents(ctx, s.db, f)
}

func listEvents(ctx context.Context, q queryer, f pos.EventFilter) ([]pos.AuditEvent, error) {
	query := `
		SELECT id, store_id, device_id, session_id, operator_id, charge_id,
		       event_code, description, event_data_json, occurred_at, idempotency_key, created_at
		FROM audit_events
		WHERE store_id = ?`
	args := []any{f.StoreID}

	if f.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, f.DeviceID)
	}
	if f.From != nil {
		query += " AND occurred_at >= ?"
		args = append(args, f.From.UTC().Format(timeFormat))
	}
	if f.To != nil {
		query += " AND occurred_at <= ?"
		args = append(args, f.To.UTC().Format(timeFormat))
	}
	if len(f.Codes) > 0 {
		query += " AND event_code IN (?" + strings.Repeat(",?", len(f.Codes)-1) + ")"
		for _, c := range f.Codes {
			args = append(args, int(c))
		}
	}

	// rowid breaks occurred_at ties in insertion order.
	query += " ORDER BY occurred_at ASC, rowid ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &pos.StorageError{Op: "list events", Err: err}
	}
	defer rows.Close()

	var events []pos.AuditEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, &pos.StorageError{Op: "list events", Err: err}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (pos.AuditEvent, error) {
	var (
		e          pos.AuditEvent
		deviceID   sql.NullString
		sessionID  sql.NullString
		operatorID sql.NullString
		chargeID   sql.NullString
		code       int
		dataJSON   string
		occurredAt string
		idemKey    sql.NullString
		createdAt  string
	)
	err := rows.Scan(
		&e.ID, &e.StoreID, &deviceID, &sessionID, &operatorID, &chargeID,
		&code, &e.Description, &dataJSON, &occurredAt, &idemKey, &createdAt,
	)
	if err != nil {
		return e, err
	}

	e.DeviceID = pos.DeviceID(deviceID.String)
	e.SessionID = pos.SessionID(sessionID.String)
	e.OperatorID = pos.OperatorID(operatorID.String)
	e.ChargeID = pos.ChargeID(chargeID.String)
	e.Code = saft.EventCode(code)
	e.IdempotencyKey = idemKey.String
	e.OccurredAt, err = time.Parse(timeFormat, occurredAt)
	if err != nil {
		return e, fmt.Errorf("corrupt occurred_at for event %s: %w", e.ID, err)
	}
	e.CreatedAt, err = time.Parse(timeFormat, createdAt)
	if err != nil {
		return e, fmt.Errorf("corrupt created_at for event %s: %w", e.ID, err)
	}

	if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
		return e, fmt.Errorf("failed to decode event data: %w", err)
	}
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (pos.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction: the session write and
// its event appends commit together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(pos.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &pos.StorageError{Op: "begin transaction", Err: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &pos.StorageError{Op: "commit transaction", Err: err}
	}
	return nil
}

// txStore runs every operation against the open *sql.Tx. It takes no locks;
// the outer WithTx already holds the store mutex.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) CreateSession(ctx context.Context, sess pos.Session) error {
	return createSession(ctx, t.tx, sess)
}

func (t *txStore) GetSession(ctx context.Context, id pos.SessionID) (*pos.Session, error) {
	return getSession(ctx, t.tx, id)
}

func (t *txStore) GetOpenSession(ctx context.Context, storeID pos.StoreID, deviceID pos.DeviceID) (*pos.Session, error) {
	return getOpenSession(ctx, t.tx, storeID, deviceID)
}

func (t *txStore) NextSessionNumber(ctx context.Context, storeID pos.StoreID) (int64, error) {
	return nextSessionNumber(ctx, t.tx, storeID)
}

func (t *txStore) AddToTotals(ctx context.Context, id pos.SessionID, amount int64) error {
	return addToTotals(ctx, t.tx, id, amount)
}

func (t *txStore) MarkClosed(ctx context.Context, id pos.SessionID, closedAt time.Time, expected, actual, difference int64, notes string) error {
	return markClosed(ctx, t.tx, id, closedAt, expected, actual, difference, notes)
}

func (t *txStore) ListSessions(ctx context.Context, storeID pos.StoreID) ([]pos.Session, error) {
	return listSessions(ctx, t.tx, storeID)
}

func (t *txStore) Append(ctx context.Context, e pos.AuditEvent) error {
	return appendEvent(ctx, t.tx, e)
}

func (t *txStore) AppendBatch(ctx context.Context, events []pos.AuditEvent) error {
	return appendBatch(ctx, t.tx, events)
}

func (t *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return keyExists(ctx, t.tx, idempotencyKey)
}

func (t *txStore) ListEvents(ctx context.Context, f pos.EventFilter) ([]pos.AuditEvent, error) {
	return listEvents(ctx, t.tx, f)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isConstraintError(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
