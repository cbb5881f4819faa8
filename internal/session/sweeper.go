package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepOutcome is the result of expiring one session during a sweep.
type SweepOutcome struct {
	SessionID   string            `json:"session_id"`
	UserID      string            `json:"user_id"`
	Enforcement EnforcementStatus `json:"enforcement,omitempty"`
	Skipped     bool              `json:"skipped,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// SweepSummary aggregates one sweep pass.
type SweepSummary struct {
	StartedAt           time.Time      `json:"started_at"`
	Found               int            `json:"found"`
	Processed           int            `json:"processed"`
	EnforcementFailures int            `json:"enforcement_failures"`
	StoreFailures       int            `json:"store_failures"`
	Skipped             int            `json:"skipped"`
	NoDevice            int            `json:"no_device"`
	Cancelled           bool           `json:"cancelled"`
	Retry               *RetrySummary  `json:"retry,omitempty"`
	Outcomes            []SweepOutcome `json:"outcomes"`
}

// Sweeper finds active sessions past their end time and expires them.
type Sweeper struct {
	store      Store
	controller *Controller
	interval   time.Duration
	logger     *zap.Logger

	// one pass at a time
	mu sync.Mutex
}

// NewSweeper creates a sweeper. interval only matters for Run.
func NewSweeper(store Store, controller *Controller, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	return &Sweeper{
		store:      store,
		controller: controller,
		interval:   interval,
		logger:     logger,
	}
}

// Sweep runs one pass: router changes queued by earlier passes are retried,
// then every expired-but-active session is expired independently.
// Cancellation stops the pass between sessions; expirations already
// committed stay committed.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.controller.Now()
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}

	summary := &SweepSummary{
		StartedAt: now,
		Found:     len(expired),
		Outcomes:  make([]SweepOutcome, 0, len(expired)),
	}

	// Changes queued by earlier passes go first, so a router call that fails
	// in this pass is attempted once here and retried by the next pass.
	retry, err := s.controller.RetryPending(ctx)
	if err != nil {
		s.logger.Warn("retry pass failed", zap.Error(err))
	}
	summary.Retry = retry

	for _, sess := range expired {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		outcome := SweepOutcome{SessionID: sess.ID, UserID: sess.UserID}
		result, err := s.controller.Expire(ctx, sess)
		switch {
		case err != nil:
			summary.StoreFailures++
			outcome.Error = err.Error()
			s.logger.Error("failed to expire session",
				zap.String("session_id", sess.ID),
				zap.String("user_id", sess.UserID),
				zap.Error(err),
			)
		case result.Skipped:
			summary.Skipped++
			outcome.Skipped = true
		default:
			summary.Processed++
			outcome.Enforcement = result.Enforcement
			switch result.Enforcement {
			case EnforcementFailed:
				summary.EnforcementFailures++
				outcome.Error = result.EnforcementErr.Error()
			case EnforcementSkipped:
				summary.NoDevice++
			}
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	if summary.Found > 0 || (summary.Retry != nil && summary.Retry.Attempted > 0) {
		s.logger.Info("sweep finished",
			zap.Int("found", summary.Found),
			zap.Int("processed", summary.Processed),
			zap.Int("enforcement_failures", summary.EnforcementFailures),
			zap.Int("store_failures", summary.StoreFailures),
			zap.Int("no_device", summary.NoDevice),
			zap.Bool("cancelled", summary.Cancelled),
		)
	}

	return summary, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
