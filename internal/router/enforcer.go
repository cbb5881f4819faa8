package router

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Enforcer applies one blacklist change per call: a fresh login followed by a
// single action, each bounded by Timeout.
type Enforcer struct {
	gateway Gateway
	creds   Credentials
	timeout time.Duration
	logger  *zap.Logger
}

// NewEnforcer creates an enforcer. A non-positive timeout defaults to 8s.
func NewEnforcer(gateway Gateway, creds Credentials, timeout time.Duration, logger *zap.Logger) *Enforcer {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		gateway: gateway,
		creds:   creds,
		timeout: timeout,
		logger:  logger,
	}
}

// Blacklist denies access to macAddress.
func (e *Enforcer) Blacklist(ctx context.Context, macAddress string) error {
	return e.Apply(ctx, ActionBlacklist, macAddress)
}

// Unblacklist restores access to macAddress.
func (e *Enforcer) Unblacklist(ctx context.Context, macAddress string) error {
	return e.Apply(ctx, ActionUnblacklist, macAddress)
}

// Apply logs in and performs action. A failed login short-circuits the action.
func (e *Enforcer) Apply(ctx context.Context, action Action, macAddress string) error {
	mac := NormalizeMAC(macAddress)

	loginCtx, cancel := context.WithTimeout(ctx, e.timeout)
	sess, err := e.gateway.Login(loginCtx, e.creds)
	cancel()
	if err != nil {
		e.logger.Warn("router login failed",
			zap.String("action", string(action)),
			zap.String("mac", mac),
			zap.Error(err),
		)
		return fmt.Errorf("router login: %w", unreachable("login", err))
	}
	defer sess.Close()

	actionCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch action {
	case ActionBlacklist:
		err = sess.Blacklist(actionCtx, mac)
	case ActionUnblacklist:
		err = sess.Unblacklist(actionCtx, mac)
	default:
		return fmt.Errorf("unknown router action %q", action)
	}
	if err != nil {
		e.logger.Warn("router action failed",
			zap.String("action", string(action)),
			zap.String("mac", mac),
			zap.Error(err),
		)
		return fmt.Errorf("router %s: %w", action, unreachable(string(action), err))
	}

	e.logger.Info("router action applied",
		zap.String("action", string(action)),
		zap.String("mac", mac),
	)
	return nil
}
