package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore provides in-memory storage implementing Store. Records are
// copied in and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	plans        map[string]*Plan
	payments     map[string]*Payment
	sessions     map[string]*Session
	activeByUser map[string]string // userID -> sessionID
	byPayment    map[string]string // paymentID -> sessionID
	devices      map[string]*Device
	logs         []*UsageLogEntry
	enforcements map[string]*Enforcement // mac -> pending change
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:        make(map[string]*Plan),
		payments:     make(map[string]*Payment),
		sessions:     make(map[string]*Session),
		activeByUser: make(map[string]string),
		byPayment:    make(map[string]string),
		devices:      make(map[string]*Device),
		enforcements: make(map[string]*Enforcement),
	}
}

func (m *MemoryStore) UpsertPlan(ctx context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPlans(ctx context.Context) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plans := make([]*Plan, 0, len(m.plans))
	for _, p := range m.plans {
		cp := *p
		plans = append(plans, &cp)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].DurationHours < plans[j].DurationHours })
	return plans, nil
}

func (m *MemoryStore) CreatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) SetPaymentStatus(ctx context.Context, paymentID string, status PaymentStatus, externalTxID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	if p.Status != PaymentPending {
		if p.Status == status {
			cp := *p
			return &cp, nil
		}
		return nil, fmt.Errorf("payment %s is %s: %w", paymentID, p.Status, ErrPaymentFinalized)
	}
	p.Status = status
	if externalTxID != "" {
		p.ExternalTransactionID = externalTxID
	}
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SessionByPayment(ctx context.Context, paymentID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPayment[paymentID]
	if !ok {
		return nil, fmt.Errorf("session for payment %s: %w", paymentID, ErrNotFound)
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *MemoryStore) ActiveSession(ctx context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.activeByUser[userID]
	if !ok {
		return nil, fmt.Errorf("active session for %s: %w", userID, ErrNotFound)
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*Session, error) {
	return m.listActive(func(*Session) bool { return true }), nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]*Session, error) {
	return m.listActive(func(s *Session) bool { return s.Expired(now) }), nil
}

func (m *MemoryStore) listActive(keep func(*Session) bool) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*Session
	for _, id := range m.activeByUser {
		s := m.sessions[id]
		if keep(s) {
			cp := *s
			active = append(active, &cp)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].EndTime.Before(active[j].EndTime) })
	return active
}

func (m *MemoryStore) ReplaceActive(ctx context.Context, s *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return nil, fmt.Errorf("session %s already exists", s.ID)
	}
	if _, exists := m.byPayment[s.PaymentID]; exists && s.PaymentID != "" {
		return nil, fmt.Errorf("payment %s already has a session", s.PaymentID)
	}

	var replaced *Session
	if id, ok := m.activeByUser[s.UserID]; ok {
		prev := m.sessions[id]
		prev.IsActive = false
		prev.UpdatedAt = s.StartTime
		cp := *prev
		replaced = &cp
		delete(m.activeByUser, s.UserID)
	}

	cp := *s
	m.sessions[s.ID] = &cp
	if cp.IsActive {
		m.activeByUser[s.UserID] = s.ID
	}
	if s.PaymentID != "" {
		m.byPayment[s.PaymentID] = s.ID
	}

	return replaced, nil
}

func (m *MemoryStore) Deactivate(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	s.UpdatedAt = at
	if m.activeByUser[s.UserID] == sessionID {
		delete(m.activeByUser, s.UserID)
	}
	return true, nil
}

func (m *MemoryStore) GetDevice(ctx context.Context, userID string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[userID]
	if !ok {
		return nil, fmt.Errorf("device for %s: %w", userID, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpsertDevice(ctx context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.devices[d.UserID] = &cp
	return nil
}

func (m *MemoryStore) AppendLog(ctx context.Context, e *UsageLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.logs = append(m.logs, &cp)
	return nil
}

// ListLogs returns the newest entries first; an empty userID lists all users.
func (m *MemoryStore) ListLogs(ctx context.Context, userID string, limit int) ([]*UsageLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*UsageLogEntry
	for i := len(m.logs) - 1; i >= 0; i-- {
		e := m.logs[i]
		if userID != "" && e.UserID != userID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) EnqueueEnforcement(ctx context.Context, e *Enforcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	if prev, ok := m.enforcements[e.MACAddress]; ok && prev.Action == e.Action {
		cp.CreatedAt = prev.CreatedAt
		cp.Attempts = prev.Attempts
	}
	m.enforcements[e.MACAddress] = &cp
	return nil
}

func (m *MemoryStore) ClearEnforcement(ctx context.Context, mac, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.enforcements[mac]; ok && (action == "" || e.Action == action) {
		delete(m.enforcements, mac)
	}
	return nil
}

func (m *MemoryStore) ListEnforcements(ctx context.Context, maxAttempts int) ([]*Enforcement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Enforcement
	for _, e := range m.enforcements {
		if maxAttempts > 0 && e.Attempts >= maxAttempts {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RecordEnforcementFailure(ctx context.Context, mac, lastErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enforcements[mac]
	if !ok {
		return fmt.Errorf("enforcement for %s: %w", mac, ErrNotFound)
	}
	e.Attempts++
	e.LastError = lastErr
	e.UpdatedAt = at
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make(map[string]struct{})
	for _, s := range m.sessions {
		users[s.UserID] = struct{}{}
	}

	stats := &Stats{
		TotalUsers:     len(users),
		ActiveSessions: len(m.activeByUser),
		PendingRetries: len(m.enforcements),
	}

	payments := make([]*Payment, 0, len(m.payments))
	for _, p := range m.payments {
		if p.Status == PaymentCompleted && !p.CreatedAt.Before(since) {
			stats.TodayRevenueKsh += p.AmountKsh
		}
		cp := *p
		payments = append(payments, &cp)
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.After(payments[j].CreatedAt) })
	if len(payments) > 10 {
		payments = payments[:10]
	}
	stats.RecentPayments = payments

	return stats, nil
}
