package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/airfi/airfi-portal/internal/router"
)

// RetrySummary counts the outcome of one retry pass over queued router changes.
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// RetryPending re-applies queued router changes that have attempts left.
// Each entry is retried once under its user's lock. Entries that reach the
// retry limit stay in the queue for operators to inspect.
func (c *Controller) RetryPending(ctx context.Context) (*RetrySummary, error) {
	pending, err := c.store.ListEnforcements(ctx, c.retryLimit)
	if err != nil {
		return nil, fmt.Errorf("list queued enforcements: %w", err)
	}

	summary := &RetrySummary{}
	for _, e := range pending {
		if ctx.Err() != nil {
			break
		}
		ok, err := c.retry(ctx, e)
		if !ok {
			continue
		}
		summary.Attempted++
		if err != nil {
			summary.Failed++
			if e.Attempts+1 >= c.retryLimit {
				summary.Exhausted++
				c.logger.Error("giving up on router enforcement",
					zap.String("mac", e.MACAddress),
					zap.String("action", e.Action),
					zap.Int("attempts", e.Attempts+1),
					zap.Error(err),
				)
			}
			continue
		}
		summary.Succeeded++
	}

	return summary, nil
}

// retry reports false when the entry was superseded or cleared before the
// user's lock was acquired.
func (c *Controller) retry(ctx context.Context, queued *Enforcement) (bool, error) {
	unlock := c.locks.Lock(queued.UserID)
	defer unlock()

	e, err := c.currentEnforcement(ctx, queued)
	if err != nil || e == nil {
		return false, err
	}

	switch router.Action(e.Action) {
	case router.ActionBlacklist:
		err = c.enforcer.Blacklist(ctx, e.MACAddress)
	case router.ActionUnblacklist:
		err = c.enforcer.Unblacklist(ctx, e.MACAddress)
	default:
		err = fmt.Errorf("unknown action %q", e.Action)
	}

	if err != nil {
		c.logger.Warn("router enforcement retry failed",
			zap.String("mac", e.MACAddress),
			zap.String("action", e.Action),
			zap.Int("attempt", e.Attempts+1),
			zap.Error(err),
		)
		if rerr := c.store.RecordEnforcementFailure(ctx, e.MACAddress, err.Error(), c.Now()); rerr != nil {
			c.logger.Error("failed to record enforcement failure", zap.String("mac", e.MACAddress), zap.Error(rerr))
		}
		return true, err
	}

	// Only drop the entry if a newer intent has not replaced it meanwhile.
	if err := c.store.ClearEnforcement(ctx, e.MACAddress, e.Action); err != nil {
		c.logger.Warn("failed to clear queued enforcement", zap.String("mac", e.MACAddress), zap.Error(err))
	}

	logAction := LogBlacklisted
	if router.Action(e.Action) == router.ActionUnblacklist {
		logAction = LogUnblacklisted
	}
	c.appendLog(ctx, &UsageLogEntry{
		UserID: e.UserID,
		Action: logAction,
		Details: map[string]any{
			"mac_address": e.MACAddress,
			"reason":      "retry",
			"attempt":     e.Attempts + 1,
		},
	})

	c.logger.Info("router enforcement retried",
		zap.String("mac", e.MACAddress),
		zap.String("action", e.Action),
		zap.Int("attempt", e.Attempts+1),
	)
	return true, nil
}

func (c *Controller) currentEnforcement(ctx context.Context, queued *Enforcement) (*Enforcement, error) {
	pending, err := c.store.ListEnforcements(ctx, c.retryLimit)
	if err != nil {
		return nil, fmt.Errorf("reload queued enforcements: %w", err)
	}
	for _, e := range pending {
		if e.MACAddress == queued.MACAddress && e.Action == queued.Action {
			return e, nil
		}
	}
	return nil, nil
}
