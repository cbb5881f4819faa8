package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/airfi/airfi-portal/internal/router"
)

// Enforcer applies blacklist changes on the router. Each call is an
// independent login plus action.
type Enforcer interface {
	Blacklist(ctx context.Context, macAddress string) error
	Unblacklist(ctx context.Context, macAddress string) error
}

// EnforcementStatus reports what happened on the router side of a transition.
type EnforcementStatus string

const (
	// EnforcementConfirmed means the router accepted the change.
	EnforcementConfirmed EnforcementStatus = "confirmed"
	// EnforcementFailed means the router call failed; the change is queued for retry.
	EnforcementFailed EnforcementStatus = "failed"
	// EnforcementSkipped means no MAC address is on file.
	EnforcementSkipped EnforcementStatus = "skipped_no_mac"
	// EnforcementNotAttempted means no router change was needed.
	EnforcementNotAttempted EnforcementStatus = "not_attempted"
)

// ActivateResult is the outcome of Activate.
type ActivateResult struct {
	Session        *Session
	Replaced       *Session // previously active session, deactivated
	Existing       bool     // the payment had already been activated
	Enforcement    EnforcementStatus
	EnforcementErr error
}

// ExpireResult is the outcome of Expire. Session is deactivated whenever
// Skipped is false, even if Enforcement is EnforcementFailed.
type ExpireResult struct {
	Session        *Session
	Skipped        bool
	Enforcement    EnforcementStatus
	EnforcementErr error
}

// OverrideResult is the outcome of a manual blacklist or unblacklist.
type OverrideResult struct {
	UserID         string            `json:"user_id"`
	MACAddress     string            `json:"mac_address,omitempty"`
	Deactivated    *Session          `json:"deactivated_session,omitempty"`
	Enforcement    EnforcementStatus `json:"enforcement"`
	EnforcementErr error             `json:"-"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRetryLimit caps attempts for queued router changes (default 5).
func WithRetryLimit(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.retryLimit = n
		}
	}
}

// Controller owns session state transitions. All transitions for one user
// are serialised; different users proceed concurrently.
type Controller struct {
	store      Store
	enforcer   Enforcer
	logger     *zap.Logger
	now        func() time.Time
	locks      *userLocks
	retryLimit int
}

// NewController creates a new access controller.
func NewController(store Store, enforcer Enforcer, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		store:      store,
		enforcer:   enforcer,
		logger:     logger,
		now:        time.Now,
		locks:      newUserLocks(),
		retryLimit: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the controller's current time in UTC.
func (c *Controller) Now() time.Time {
	return c.now().UTC()
}

// Activate creates a session for a completed payment, replacing the user's
// active session if there is one, and restores router access for the user's
// device. Router failure does not fail the activation.
func (c *Controller) Activate(ctx context.Context, paymentID string) (*ActivateResult, error) {
	payment, err := c.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(payment.UserID)
	defer unlock()

	// Reload: the status may have changed while waiting for the lock.
	payment, err = c.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != PaymentCompleted {
		return nil, fmt.Errorf("activate payment %s (%s): %w", paymentID, payment.Status, ErrPaymentNotCompleted)
	}

	existing, err := c.store.SessionByPayment(ctx, paymentID)
	switch {
	case err == nil:
		c.logger.Info("payment already activated",
			zap.String("payment_id", paymentID),
			zap.String("session_id", existing.ID),
		)
		return &ActivateResult{Session: existing, Existing: true, Enforcement: EnforcementNotAttempted}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("lookup session for payment %s: %w", paymentID, err)
	}

	plan, err := c.store.GetPlan(ctx, payment.PlanID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, payment.PlanID)
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", payment.PlanID, err)
	}

	device := c.device(ctx, payment.UserID)
	now := c.Now()

	sess := &Session{
		ID:         uuid.New().String(),
		UserID:     payment.UserID,
		PlanID:     plan.ID,
		PaymentID:  payment.ID,
		StartTime:  now,
		EndTime:    now.Add(plan.Duration()),
		IsActive:   true,
		MACAddress: device.MACAddress,
		IPAddress:  device.IPAddress,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	replaced, err := c.store.ReplaceActive(ctx, sess)
	if err != nil {
		c.logger.Error("failed to create session",
			zap.String("payment_id", paymentID),
			zap.String("user_id", payment.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: create session: %v", ErrStoreWrite, err)
	}

	result := &ActivateResult{Session: sess, Replaced: replaced}
	if replaced != nil {
		c.logger.Info("previous session replaced",
			zap.String("user_id", sess.UserID),
			zap.String("replaced_session_id", replaced.ID),
		)
	}

	result.Enforcement, result.EnforcementErr = c.enforce(ctx, router.ActionUnblacklist, sess.UserID, sess.ID, sess.MACAddress, "payment_received")

	c.appendLog(ctx, &UsageLogEntry{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Action:    LogSessionStarted,
		Details: map[string]any{
			"plan_name":             plan.Name,
			"duration_hours":        plan.DurationHours,
			"amount_paid":           payment.AmountKsh,
			"auto_unblacklisted":    result.Enforcement == EnforcementConfirmed,
			"enforcement_confirmed": result.Enforcement == EnforcementConfirmed,
			"enforcement":           string(result.Enforcement),
		},
	})

	c.logger.Info("session activated",
		zap.String("session_id", sess.ID),
		zap.String("user_id", sess.UserID),
		zap.String("plan_id", plan.ID),
		zap.Time("end_time", sess.EndTime),
		zap.String("enforcement", string(result.Enforcement)),
	)

	return result, nil
}

// Expire deactivates an overdue session and blacklists its device. The
// session is re-read under the user lock; if it is no longer active or not
// yet due the result is Skipped. A router failure is reported in the result,
// not as an error.
func (c *Controller) Expire(ctx context.Context, s *Session) (*ExpireResult, error) {
	unlock := c.locks.Lock(s.UserID)
	defer unlock()

	current, err := c.store.GetSession(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", s.ID, err)
	}

	now := c.Now()
	if !current.IsActive || !current.Expired(now) {
		return &ExpireResult{Session: current, Skipped: true, Enforcement: EnforcementNotAttempted}, nil
	}

	changed, err := c.store.Deactivate(ctx, current.ID, now)
	if err != nil {
		c.logger.Error("failed to deactivate session",
			zap.String("session_id", current.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: deactivate session %s: %v", ErrStoreWrite, current.ID, err)
	}
	if !changed {
		return &ExpireResult{Session: current, Skipped: true, Enforcement: EnforcementNotAttempted}, nil
	}
	current.IsActive = false
	current.UpdatedAt = now

	mac := current.MACAddress
	if mac == "" {
		mac = c.device(ctx, current.UserID).MACAddress
	}

	result := &ExpireResult{Session: current}
	result.Enforcement, result.EnforcementErr = c.enforce(ctx, router.ActionBlacklist, current.UserID, current.ID, mac, "session_expired")

	c.appendLog(ctx, &UsageLogEntry{
		UserID:    current.UserID,
		SessionID: current.ID,
		Action:    LogSessionExpired,
		Details: map[string]any{
			"expired_at":            now.Format(time.RFC3339),
			"end_time":              current.EndTime.Format(time.RFC3339),
			"mac_address":           mac,
			"auto_blacklisted":      result.Enforcement == EnforcementConfirmed,
			"enforcement_confirmed": result.Enforcement == EnforcementConfirmed,
			"enforcement":           string(result.Enforcement),
		},
	})

	c.logger.Info("session expired",
		zap.String("session_id", current.ID),
		zap.String("user_id", current.UserID),
		zap.String("enforcement", string(result.Enforcement)),
	)

	return result, nil
}

// ManualBlacklist deactivates the user's active session, if any, and
// blacklists the device. The error is non-nil only when the router call
// fails; the session stays deactivated in that case.
func (c *Controller) ManualBlacklist(ctx context.Context, userID, mac string) (*OverrideResult, error) {
	mac, err := validateOverride(userID, mac)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(userID)
	defer unlock()

	result := &OverrideResult{UserID: userID}
	now := c.Now()

	active, err := c.store.ActiveSession(ctx, userID)
	switch {
	case err == nil:
		changed, err := c.store.Deactivate(ctx, active.ID, now)
		if err != nil {
			c.logger.Warn("manual blacklist: failed to deactivate session",
				zap.String("user_id", userID),
				zap.String("session_id", active.ID),
				zap.Error(err),
			)
		} else if changed {
			active.IsActive = false
			active.UpdatedAt = now
			result.Deactivated = active
		}
	case !errors.Is(err, ErrNotFound):
		c.logger.Warn("manual blacklist: failed to look up active session",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	if mac == "" && active != nil {
		mac = active.MACAddress
	}
	if mac == "" {
		mac = c.device(ctx, userID).MACAddress
	}
	result.MACAddress = mac

	sessionID := ""
	if result.Deactivated != nil {
		sessionID = result.Deactivated.ID
	}

	result.Enforcement, result.EnforcementErr = c.enforce(ctx, router.ActionBlacklist, userID, sessionID, mac, "manual")

	c.logger.Info("manual blacklist",
		zap.String("user_id", userID),
		zap.String("mac", mac),
		zap.Bool("session_deactivated", result.Deactivated != nil),
		zap.String("enforcement", string(result.Enforcement)),
	)

	if result.Enforcement == EnforcementFailed {
		return result, fmt.Errorf("manual blacklist %s: %w", mac, result.EnforcementErr)
	}
	return result, nil
}

// ManualUnblacklist restores router access for the user's device without
// touching any session.
func (c *Controller) ManualUnblacklist(ctx context.Context, userID, mac string) (*OverrideResult, error) {
	mac, err := validateOverride(userID, mac)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(userID)
	defer unlock()

	if mac == "" {
		mac = c.device(ctx, userID).MACAddress
	}

	result := &OverrideResult{UserID: userID, MACAddress: mac}
	result.Enforcement, result.EnforcementErr = c.enforce(ctx, router.ActionUnblacklist, userID, "", mac, "manual")

	c.logger.Info("manual unblacklist",
		zap.String("user_id", userID),
		zap.String("mac", mac),
		zap.String("enforcement", string(result.Enforcement)),
	)

	if result.Enforcement == EnforcementFailed {
		return result, fmt.Errorf("manual unblacklist %s: %w", mac, result.EnforcementErr)
	}
	return result, nil
}

// enforce applies one router change. On success it clears any queued change
// for the device and writes a usage log entry; on failure it queues the
// change for the next retry pass.
func (c *Controller) enforce(ctx context.Context, action router.Action, userID, sessionID, mac, reason string) (EnforcementStatus, error) {
	if mac == "" {
		return EnforcementSkipped, ErrNoMACAddress
	}

	var err error
	switch action {
	case router.ActionBlacklist:
		err = c.enforcer.Blacklist(ctx, mac)
	case router.ActionUnblacklist:
		err = c.enforcer.Unblacklist(ctx, mac)
	}

	if err != nil {
		c.logger.Warn("router enforcement not confirmed",
			zap.String("action", string(action)),
			zap.String("user_id", userID),
			zap.String("mac", mac),
			zap.Error(err),
		)
		c.queue(ctx, action, userID, mac, err)
		return EnforcementFailed, err
	}

	// A confirmed change supersedes anything still queued for this device.
	if cerr := c.store.ClearEnforcement(ctx, mac, ""); cerr != nil {
		c.logger.Warn("failed to clear queued enforcement", zap.String("mac", mac), zap.Error(cerr))
	}

	logAction := LogBlacklisted
	if action == router.ActionUnblacklist {
		logAction = LogUnblacklisted
	}
	c.appendLog(ctx, &UsageLogEntry{
		UserID:    userID,
		SessionID: sessionID,
		Action:    logAction,
		Details: map[string]any{
			"mac_address": mac,
			"reason":      reason,
		},
	})

	return EnforcementConfirmed, nil
}

func (c *Controller) queue(ctx context.Context, action router.Action, userID, mac string, cause error) {
	now := c.Now()
	err := c.store.EnqueueEnforcement(ctx, &Enforcement{
		MACAddress: mac,
		UserID:     userID,
		Action:     string(action),
		LastError:  cause.Error(),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		c.logger.Error("failed to queue router enforcement",
			zap.String("action", string(action)),
			zap.String("mac", mac),
			zap.Error(err),
		)
	}
}

func (c *Controller) loadPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrInvalidInput)
	}
	payment, err := c.store.GetPayment(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", paymentID, err)
	}
	return payment, nil
}

// device returns the user's known device, or an empty one.
func (c *Controller) device(ctx context.Context, userID string) Device {
	d, err := c.store.GetDevice(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("failed to load device", zap.String("user_id", userID), zap.Error(err))
		}
		return Device{UserID: userID}
	}
	return *d
}

// appendLog writes a usage log entry. Audit writes never fail a transition.
func (c *Controller) appendLog(ctx context.Context, e *UsageLogEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = c.Now()
	}
	if err := c.store.AppendLog(ctx, e); err != nil {
		c.logger.Error("failed to write usage log",
			zap.String("user_id", e.UserID),
			zap.String("action", string(e.Action)),
			zap.Error(err),
		)
	}
}

func validateOverride(userID, mac string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if mac == "" {
		return "", nil
	}
	if !router.ValidMAC(mac) {
		return "", fmt.Errorf("%w: malformed MAC address %q", ErrInvalidInput, mac)
	}
	return router.NormalizeMAC(mac), nil
}
