// Package session tracks paid WiFi access sessions and drives the router
// blacklist to match them.
package session

import (
	"fmt"
	"time"
)

// Session is one user's paid access window.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	PlanID     string    `json:"plan_id"`
	PaymentID  string    `json:"payment_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	IsActive   bool      `json:"is_active"`
	MACAddress string    `json:"mac_address,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	DataUsedMB int64     `json:"data_used_mb"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Expired reports whether the session's paid window has ended at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.EndTime.After(now)
}

// RemainingTime returns the time left at now, never negative.
func (s *Session) RemainingTime(now time.Time) time.Duration {
	if !s.IsActive {
		return 0
	}
	remaining := s.EndTime.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FormatRemaining returns a human-readable remaining time string.
func FormatRemaining(remaining time.Duration) string {
	if remaining <= 0 {
		return "0s"
	}

	hours := int(remaining.Hours())
	minutes := int(remaining.Minutes()) % 60
	seconds := int(remaining.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one purchase attempt.
type Payment struct {
	ID                    string        `json:"id"`
	UserID                string        `json:"user_id"`
	PlanID                string        `json:"plan_id"`
	AmountKsh             int64         `json:"amount_ksh"`
	PhoneNumber           string        `json:"phone_number"`
	Status                PaymentStatus `json:"status"`
	ExternalTransactionID string        `json:"external_transaction_id,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Plan is a purchasable time-boxed data plan.
type Plan struct {
	ID            string `json:"id" mapstructure:"id"`
	Name          string `json:"name" mapstructure:"name"`
	DurationHours int    `json:"duration_hours" mapstructure:"duration_hours"`
	PriceKsh      int64  `json:"price_ksh" mapstructure:"price_ksh"`
}

// Duration returns the plan's access window.
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationHours) * time.Hour
}

// Device is the hardware a user connects with.
type Device struct {
	UserID     string    `json:"user_id"`
	MACAddress string    `json:"mac_address"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LogAction tags a usage log entry.
type LogAction string

const (
	LogSessionStarted LogAction = "session_started"
	LogSessionExpired LogAction = "session_expired"
	LogBlacklisted    LogAction = "blacklisted"
	LogUnblacklisted  LogAction = "unblacklisted"
)

// UsageLogEntry is an append-only audit record.
type UsageLogEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Action    LogAction      `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Enforcement is a router change that failed and awaits retry. There is at
// most one per MAC address; the latest intent replaces older ones.
type Enforcement struct {
	MACAddress string    `json:"mac_address"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Stats summarises portal activity for operators.
type Stats struct {
	TotalUsers      int        `json:"total_users"`
	ActiveSessions  int        `json:"active_sessions"`
	TodayRevenueKsh int64      `json:"today_revenue_ksh"`
	PendingRetries  int        `json:"pending_retries"`
	RecentPayments  []*Payment `json:"recent_payments"`
}
