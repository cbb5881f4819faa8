// Package admin implements the operator-facing controls: listing live
// sessions, manual blacklist overrides, on-demand sweeps and statistics.
package admin

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/airfi/airfi-portal/internal/auth"
	"github.com/airfi/airfi-portal/internal/session"
)

// ErrForbidden means the caller is not an authenticated operator.
var ErrForbidden = errors.New("operator role required")

// ActiveSession is a live session with its remaining time.
type ActiveSession struct {
	*session.Session
	TimeRemaining    string `json:"time_remaining"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	IsOverdue        bool   `json:"is_overdue"`
}

// Service exposes operator actions. Every method requires an operator
// identity in the context.
type Service struct {
	store      session.Store
	controller *session.Controller
	sweeper    *session.Sweeper
	location   *time.Location
	logger     *zap.Logger
}

// NewService creates the operator service. loc defines "today" for revenue
// statistics; nil means UTC.
func NewService(store session.Store, controller *session.Controller, sweeper *session.Sweeper, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:      store,
		controller: controller,
		sweeper:    sweeper,
		location:   loc,
		logger:     logger,
	}
}

func (s *Service) authorize(ctx context.Context) (*auth.Identity, error) {
	id, ok := auth.IdentityFrom(ctx)
	if !ok || !id.IsOperator() {
		return nil, ErrForbidden
	}
	return id, nil
}

// ActiveSessions lists every active session, soonest expiry first. Sessions
// past their end time that the sweeper has not reached yet are flagged
// IsOverdue.
func (s *Service) ActiveSessions(ctx context.Context) ([]ActiveSession, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}

	sessions, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := s.controller.Now()
	out := make([]ActiveSession, 0, len(sessions))
	for _, sess := range sessions {
		remaining := sess.RemainingTime(now)
		out = append(out, ActiveSession{
			Session:          sess,
			TimeRemaining:    session.FormatRemaining(remaining),
			RemainingSeconds: int64(remaining / time.Second),
			IsOverdue:        sess.Expired(now),
		})
	}
	return out, nil
}

// Blacklist ends the user's session and blocks their device.
func (s *Service) Blacklist(ctx context.Context, userID, mac string) (*session.OverrideResult, error) {
	op, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("operator blacklist",
		zap.String("operator", op.UserID),
		zap.String("user_id", userID),
	)
	return s.controller.ManualBlacklist(ctx, userID, mac)
}

// Unblacklist restores network access for the user's device.
func (s *Service) Unblacklist(ctx context.Context, userID, mac string) (*session.OverrideResult, error) {
	op, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("operator unblacklist",
		zap.String("operator", op.UserID),
		zap.String("user_id", userID),
	)
	return s.controller.ManualUnblacklist(ctx, userID, mac)
}

// SweepNow runs one sweep pass immediately.
func (s *Service) SweepNow(ctx context.Context) (*session.SweepSummary, error) {
	op, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("operator sweep", zap.String("operator", op.UserID))
	return s.sweeper.Sweep(ctx)
}

// Stats returns portal statistics with revenue counted since local midnight.
func (s *Service) Stats(ctx context.Context) (*session.Stats, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}

	now := s.controller.Now().In(s.location)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	return s.store.Stats(ctx, midnight)
}

// PendingEnforcements lists queued router changes, including exhausted ones.
func (s *Service) PendingEnforcements(ctx context.Context) ([]*session.Enforcement, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.store.ListEnforcements(ctx, 0)
}

// UsageLogs returns recent audit entries, optionally for one user.
func (s *Service) UsageLogs(ctx context.Context, userID string, limit int) ([]*session.UsageLogEntry, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListLogs(ctx, userID, limit)
}
