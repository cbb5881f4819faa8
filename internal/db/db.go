// Package db provides SQLite storage for portal sessions, payments and the
// router enforcement queue.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/airfi/airfi-portal/internal/session"
)

var _ session.Store = (*DB)(nil)

// DB represents the database connection.
type DB struct {
	conn *sql.DB
}

// Open opens the SQLite database and creates tables if needed.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// A single connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := createTables(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func createTables(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			duration_hours INTEGER NOT NULL,
			price_ksh INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			amount_ksh INTEGER NOT NULL DEFAULT 0,
			phone_number TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			external_transaction_id TEXT,
			created_at DATETIME,
			updated_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			payment_id TEXT,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			mac_address TEXT,
			ip_address TEXT,
			data_used_mb INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS user_devices (
			user_id TEXT PRIMARY KEY,
			mac_address TEXT NOT NULL,
			ip_address TEXT DEFAULT '',
			updated_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS usage_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT,
			action TEXT NOT NULL,
			details TEXT,
			timestamp DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS enforcement_queue (
			mac_address TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT DEFAULT '',
			created_at DATETIME,
			updated_at DATETIME
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON sessions(user_id) WHERE is_active = 1;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_payment ON sessions(payment_id) WHERE payment_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_sessions_end_time ON sessions(end_time) WHERE is_active = 1;
		CREATE INDEX IF NOT EXISTS idx_payments_created ON payments(created_at);
		CREATE INDEX IF NOT EXISTS idx_usage_logs_user ON usage_logs(user_id, timestamp);
	`)
	return err
}

// UpsertPlan inserts or replaces a catalog plan.
func (db *DB) UpsertPlan(ctx context.Context, p *session.Plan) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO plans (id, name, duration_hours, price_ksh) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, duration_hours = excluded.duration_hours, price_ksh = excluded.price_ksh
	`, p.ID, p.Name, p.DurationHours, p.PriceKsh)
	return err
}

// GetPlan retrieves a plan by ID.
func (db *DB) GetPlan(ctx context.Context, planID string) (*session.Plan, error) {
	p := &session.Plan{}
	err := db.conn.QueryRowContext(ctx, `SELECT id, name, duration_hours, price_ksh FROM plans WHERE id = ?`, planID).
		Scan(&p.ID, &p.Name, &p.DurationHours, &p.PriceKsh)
	if err != nil {
		return nil, notFound(err, "plan %s", planID)
	}
	return p, nil
}

// ListPlans returns the catalog ordered by duration.
func (db *DB) ListPlans(ctx context.Context) ([]*session.Plan, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, duration_hours, price_ksh FROM plans ORDER BY duration_hours`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*session.Plan
	for rows.Next() {
		p := &session.Plan{}
		if err := rows.Scan(&p.ID, &p.Name, &p.DurationHours, &p.PriceKsh); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

const paymentColumns = `id, user_id, plan_id, amount_ksh, phone_number, status, external_transaction_id, created_at, updated_at`

// CreatePayment inserts a new payment.
func (db *DB) CreatePayment(ctx context.Context, p *session.Payment) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.PlanID, p.AmountKsh, p.PhoneNumber, string(p.Status), nullString(p.ExternalTransactionID), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return err
}

// GetPayment retrieves a payment by ID.
func (db *DB) GetPayment(ctx context.Context, paymentID string) (*session.Payment, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, paymentID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err, "payment %s", paymentID)
	}
	return p, nil
}

// SetPaymentStatus moves a pending payment to a terminal status.
func (db *DB) SetPaymentStatus(ctx context.Context, paymentID string, status session.PaymentStatus, externalTxID string) (*session.Payment, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, paymentID))
	if err != nil {
		return nil, notFound(err, "payment %s", paymentID)
	}

	if p.Status != session.PaymentPending {
		if p.Status == status {
			return p, nil
		}
		return nil, fmt.Errorf("payment %s is %s: %w", paymentID, p.Status, session.ErrPaymentFinalized)
	}

	p.Status = status
	if externalTxID != "" {
		p.ExternalTransactionID = externalTxID
	}
	p.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = ?, external_transaction_id = ?, updated_at = ? WHERE id = ?
	`, string(p.Status), nullString(p.ExternalTransactionID), p.UpdatedAt, paymentID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

const sessionColumns = `id, user_id, plan_id, payment_id, start_time, end_time, is_active, mac_address, ip_address, data_used_mb, created_at, updated_at`

// GetSession retrieves a session by ID.
func (db *DB) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session %s", sessionID)
	}
	return s, nil
}

// SessionByPayment retrieves the session created for a payment.
func (db *DB) SessionByPayment(ctx context.Context, paymentID string) (*session.Session, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE payment_id = ?`, paymentID)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session for payment %s", paymentID)
	}
	return s, nil
}

// ActiveSession retrieves the user's active session.
func (db *DB) ActiveSession(ctx context.Context, userID string) (*session.Session, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND is_active = 1`, userID)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "active session for %s", userID)
	}
	return s, nil
}

// ListActive returns all active sessions, soonest expiry first.
func (db *DB) ListActive(ctx context.Context) ([]*session.Session, error) {
	return db.listSessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_active = 1 ORDER BY end_time`)
}

// ListExpired returns active sessions whose end time is at or before now.
func (db *DB) ListExpired(ctx context.Context, now time.Time) ([]*session.Session, error) {
	return db.listSessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_active = 1 AND end_time <= ? ORDER BY end_time`, now.UTC())
}

func (db *DB) listSessions(ctx context.Context, query string, args ...any) ([]*session.Session, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ReplaceActive deactivates the user's active session and inserts s in one
// transaction.
func (db *DB) ReplaceActive(ctx context.Context, s *session.Session) (*session.Session, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var replaced *session.Session
	prev, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND is_active = 1`, s.UserID))
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET is_active = 0, updated_at = ? WHERE id = ?`, s.StartTime.UTC(), prev.ID); err != nil {
			return nil, fmt.Errorf("deactivate session %s: %w", prev.ID, err)
		}
		prev.IsActive = false
		prev.UpdatedAt = s.StartTime.UTC()
		replaced = prev
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.PlanID, nullString(s.PaymentID), s.StartTime.UTC(), s.EndTime.UTC(), s.IsActive,
		nullString(s.MACAddress), nullString(s.IPAddress), s.DataUsedMB, s.CreatedAt.UTC(), s.UpdatedAt.UTC()); err != nil {
		return nil, fmt.Errorf("insert session %s: %w", s.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return replaced, nil
}

// Deactivate flips an active session to inactive.
func (db *DB) Deactivate(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE sessions SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`, at.UTC(), sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	if err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return false, notFound(err, "session %s", sessionID)
	}
	return false, nil
}

// GetDevice retrieves the user's registered device.
func (db *DB) GetDevice(ctx context.Context, userID string) (*session.Device, error) {
	d := &session.Device{}
	var ipAddr sql.NullString
	var updatedAt sql.NullTime
	err := db.conn.QueryRowContext(ctx, `SELECT user_id, mac_address, ip_address, updated_at FROM user_devices WHERE user_id = ?`, userID).
		Scan(&d.UserID, &d.MACAddress, &ipAddr, &updatedAt)
	if err != nil {
		return nil, notFound(err, "device for %s", userID)
	}
	if ipAddr.Valid {
		d.IPAddress = ipAddr.String
	}
	if updatedAt.Valid {
		d.UpdatedAt = updatedAt.Time
	}
	return d, nil
}

// UpsertDevice records the user's device, replacing any previous one.
func (db *DB) UpsertDevice(ctx context.Context, d *session.Device) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO user_devices (user_id, mac_address, ip_address, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET mac_address = excluded.mac_address, ip_address = excluded.ip_address, updated_at = excluded.updated_at
	`, d.UserID, d.MACAddress, d.IPAddress, d.UpdatedAt.UTC())
	return err
}

// AppendLog inserts a usage log entry. Details are stored as JSON.
func (db *DB) AppendLog(ctx context.Context, e *session.UsageLogEntry) error {
	var details sql.NullString
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode log details: %w", err)
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO usage_logs (id, user_id, session_id, action, details, timestamp) VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, nullString(e.SessionID), string(e.Action), details, e.Timestamp.UTC())
	return err
}

// ListLogs returns the newest entries first; an empty userID lists all users.
func (db *DB) ListLogs(ctx context.Context, userID string, limit int) ([]*session.UsageLogEntry, error) {
	query := `SELECT id, user_id, session_id, action, details, timestamp FROM usage_logs`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY timestamp DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*session.UsageLogEntry
	for rows.Next() {
		e := &session.UsageLogEntry{}
		var sessionID, details sql.NullString
		var action string
		if err := rows.Scan(&e.ID, &e.UserID, &sessionID, &action, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = session.LogAction(action)
		if sessionID.Valid {
			e.SessionID = sessionID.String
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode log details %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EnqueueEnforcement records a failed router change. A new action for the
// same MAC replaces the old one and resets its attempts.
func (db *DB) EnqueueEnforcement(ctx context.Context, e *session.Enforcement) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO enforcement_queue (mac_address, user_id, action, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac_address) DO UPDATE SET
			user_id = excluded.user_id,
			action = excluded.action,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			attempts = CASE WHEN enforcement_queue.action = excluded.action THEN enforcement_queue.attempts ELSE excluded.attempts END,
			created_at = CASE WHEN enforcement_queue.action = excluded.action THEN enforcement_queue.created_at ELSE excluded.created_at END
	`, e.MACAddress, e.UserID, e.Action, e.Attempts, e.LastError, e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	return err
}

// ClearEnforcement drops the pending change for mac if its action matches;
// an empty action drops whatever is pending.
func (db *DB) ClearEnforcement(ctx context.Context, mac, action string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM enforcement_queue WHERE mac_address = ? AND (? = '' OR action = ?)`, mac, action, action)
	return err
}

// ListEnforcements returns pending changes with fewer than maxAttempts
// attempts, oldest first.
func (db *DB) ListEnforcements(ctx context.Context, maxAttempts int) ([]*session.Enforcement, error) {
	query := `SELECT mac_address, user_id, action, attempts, last_error, created_at, updated_at FROM enforcement_queue`
	var args []any
	if maxAttempts > 0 {
		query += ` WHERE attempts < ?`
		args = append(args, maxAttempts)
	}
	query += ` ORDER BY created_at`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.Enforcement
	for rows.Next() {
		e := &session.Enforcement{}
		var lastErr sql.NullString
		if err := rows.Scan(&e.MACAddress, &e.UserID, &e.Action, &e.Attempts, &lastErr, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if lastErr.Valid {
			e.LastError = lastErr.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordEnforcementFailure bumps the attempt counter of a queued change.
func (db *DB) RecordEnforcementFailure(ctx context.Context, mac, lastErr string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE enforcement_queue SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE mac_address = ?
	`, lastErr, at.UTC(), mac)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("enforcement for %s: %w", mac, session.ErrNotFound)
	}
	return nil
}

// Stats summarises users, sessions and revenue since the given time.
func (db *DB) Stats(ctx context.Context, since time.Time) (*session.Stats, error) {
	stats := &session.Stats{}

	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT user_id) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE is_active = 1),
			(SELECT COALESCE(SUM(amount_ksh), 0) FROM payments WHERE status = 'completed' AND created_at >= ?),
			(SELECT COUNT(*) FROM enforcement_queue)
	`, since.UTC()).Scan(&stats.TotalUsers, &stats.ActiveSessions, &stats.TodayRevenueKsh, &stats.PendingRetries)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC LIMIT 10`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats.RecentPayments = []*session.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		stats.RecentPayments = append(stats.RecentPayments, p)
	}
	return stats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	s := &session.Session{}
	var paymentID, macAddr, ipAddr sql.NullString
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &paymentID, &s.StartTime, &s.EndTime, &s.IsActive,
		&macAddr, &ipAddr, &s.DataUsedMB, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if paymentID.Valid {
		s.PaymentID = paymentID.String
	}
	if macAddr.Valid {
		s.MACAddress = macAddr.String
	}
	if ipAddr.Valid {
		s.IPAddress = ipAddr.String
	}
	if createdAt.Valid {
		s.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		s.UpdatedAt = updatedAt.Time
	}
	return s, nil
}

func scanPayment(row scanner) (*session.Payment, error) {
	p := &session.Payment{}
	var status string
	var phone, txID sql.NullString
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.PlanID, &p.AmountKsh, &phone, &status, &txID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = session.PaymentStatus(status)
	if phone.Valid {
		p.PhoneNumber = phone.String
	}
	if txID.Valid {
		p.ExternalTransactionID = txID.String
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// notFound maps sql.ErrNoRows to session.ErrNotFound.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, session.ErrNotFound)...)
	}
	return err
}
