package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/airfi/airfi-portal/internal/router"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

// CreatePayment records a pending payment for planID. The amount is taken
// from the plan catalog.
func (c *Controller) CreatePayment(ctx context.Context, userID, planID, phoneNumber string) (*Payment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	phoneNumber = strings.ReplaceAll(strings.TrimSpace(phoneNumber), " ", "")
	if !phonePattern.MatchString(phoneNumber) {
		return nil, fmt.Errorf("%w: malformed phone number", ErrInvalidInput)
	}

	plan, err := c.store.GetPlan(ctx, planID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", planID, err)
	}

	now := c.Now()
	payment := &Payment{
		ID:          uuid.New().String(),
		UserID:      userID,
		PlanID:      plan.ID,
		AmountKsh:   plan.PriceKsh,
		PhoneNumber: phoneNumber,
		Status:      PaymentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("%w: create payment: %v", ErrStoreWrite, err)
	}

	c.logger.Info("payment created",
		zap.String("payment_id", payment.ID),
		zap.String("user_id", userID),
		zap.String("plan_id", plan.ID),
		zap.Int64("amount_ksh", payment.AmountKsh),
	)
	return payment, nil
}

// ConfirmPayment marks a payment completed and activates its session.
// Redelivered confirmations return the session created the first time.
func (c *Controller) ConfirmPayment(ctx context.Context, paymentID, externalTxID string) (*ActivateResult, error) {
	if _, err := c.loadPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	if _, err := c.store.SetPaymentStatus(ctx, paymentID, PaymentCompleted, externalTxID); err != nil {
		if errors.Is(err, ErrPaymentFinalized) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: complete payment: %v", ErrStoreWrite, err)
	}

	c.logger.Info("payment completed",
		zap.String("payment_id", paymentID),
		zap.String("external_transaction_id", externalTxID),
	)
	return c.Activate(ctx, paymentID)
}

// FailPayment marks a pending payment failed.
func (c *Controller) FailPayment(ctx context.Context, paymentID, externalTxID string) (*Payment, error) {
	if _, err := c.loadPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	payment, err := c.store.SetPaymentStatus(ctx, paymentID, PaymentFailed, externalTxID)
	if err != nil {
		if errors.Is(err, ErrPaymentFinalized) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fail payment: %v", ErrStoreWrite, err)
	}

	c.logger.Info("payment failed",
		zap.String("payment_id", paymentID),
		zap.String("user_id", payment.UserID),
	)
	return payment, nil
}

// CurrentSession returns the user's active session. An overdue session is
// expired on the spot and ErrNotFound is returned.
func (c *Controller) CurrentSession(ctx context.Context, userID string) (*Session, error) {
	s, err := c.store.ActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.Expired(c.Now()) {
		return s, nil
	}

	if _, err := c.Expire(ctx, s); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("active session for %s: %w", userID, ErrNotFound)
}

// DeviceResult is the outcome of RegisterDevice.
type DeviceResult struct {
	Device         *Device           `json:"device"`
	Enforcement    EnforcementStatus `json:"enforcement"`
	EnforcementErr error             `json:"-"`
}

// RegisterDevice records the user's device. If the user already has a live
// session the device is unblacklisted so access follows the new hardware.
func (c *Controller) RegisterDevice(ctx context.Context, userID, mac, ip string) (*DeviceResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !router.ValidMAC(mac) {
		return nil, fmt.Errorf("%w: malformed MAC address %q", ErrInvalidInput, mac)
	}

	unlock := c.locks.Lock(userID)
	defer unlock()

	device := &Device{
		UserID:     userID,
		MACAddress: router.NormalizeMAC(mac),
		IPAddress:  ip,
		UpdatedAt:  c.Now(),
	}
	if err := c.store.UpsertDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("%w: register device: %v", ErrStoreWrite, err)
	}

	result := &DeviceResult{Device: device, Enforcement: EnforcementNotAttempted}

	active, err := c.store.ActiveSession(ctx, userID)
	switch {
	case err == nil && !active.Expired(c.Now()):
		result.Enforcement, result.EnforcementErr = c.enforce(ctx, router.ActionUnblacklist, userID, active.ID, device.MACAddress, "device_registered")
	case err != nil && !errors.Is(err, ErrNotFound):
		c.logger.Warn("failed to look up active session", zap.String("user_id", userID), zap.Error(err))
	}

	c.logger.Info("device registered",
		zap.String("user_id", userID),
		zap.String("mac", device.MACAddress),
		zap.String("enforcement", string(result.Enforcement)),
	)
	return result, nil
}
