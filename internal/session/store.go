package session

import (
	"context"
	"time"
)

// Store is the transactional record store behind the controller.
// Lookups of missing records return ErrNotFound.
type Store interface {
	UpsertPlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)

	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	// SetPaymentStatus moves a pending payment to a terminal status. Setting
	// the current terminal status again is a no-op; any other change of a
	// terminal payment is ErrPaymentFinalized.
	SetPaymentStatus(ctx context.Context, paymentID string, status PaymentStatus, externalTxID string) (*Payment, error)

	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SessionByPayment(ctx context.Context, paymentID string) (*Session, error)
	ActiveSession(ctx context.Context, userID string) (*Session, error)
	ListActive(ctx context.Context) ([]*Session, error)
	// ListExpired returns active sessions whose end time is at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]*Session, error)
	// ReplaceActive atomically deactivates the user's active session, if any,
	// and inserts s. It returns the deactivated session or nil.
	ReplaceActive(ctx context.Context, s *Session) (*Session, error)
	// Deactivate flips an active session to inactive. It reports false when
	// the session was already inactive.
	Deactivate(ctx context.Context, sessionID string, at time.Time) (bool, error)

	GetDevice(ctx context.Context, userID string) (*Device, error)
	UpsertDevice(ctx context.Context, d *Device) error

	AppendLog(ctx context.Context, e *UsageLogEntry) error
	ListLogs(ctx context.Context, userID string, limit int) ([]*UsageLogEntry, error)

	// EnqueueEnforcement records a failed router change, replacing any
	// pending change for the same MAC address.
	EnqueueEnforcement(ctx context.Context, e *Enforcement) error
	// ClearEnforcement drops the pending change for mac if its action matches.
	// An empty action drops whatever is pending.
	ClearEnforcement(ctx context.Context, mac, action string) error
	// ListEnforcements returns pending changes with fewer than maxAttempts
	// attempts; maxAttempts <= 0 returns all.
	ListEnforcements(ctx context.Context, maxAttempts int) ([]*Enforcement, error)
	RecordEnforcementFailure(ctx context.Context, mac, lastErr string, at time.Time) error

	Stats(ctx context.Context, since time.Time) (*Stats, error)
}
