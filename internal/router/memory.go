package router

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Call records one attempted filter change on a MemoryGateway.
type Call struct {
	Action Action
	MAC    string
	Err    error
}

// MemoryGateway is an in-process router with a deny list, used for local
// development and tests. Failures can be injected per operation.
type MemoryGateway struct {
	mu        sync.Mutex
	creds     *Credentials
	blacklist map[string]bool
	calls     []Call
	logins    int

	loginErr  error
	actionErr map[Action]error
	delay     time.Duration
}

// NewMemoryGateway creates an empty in-memory router. When creds is non-nil,
// Login rejects any other credentials.
func NewMemoryGateway(creds *Credentials) *MemoryGateway {
	return &MemoryGateway{
		creds:     creds,
		blacklist: make(map[string]bool),
		actionErr: make(map[Action]error),
	}
}

// FailLogin makes subsequent logins fail with err (nil clears it).
func (g *MemoryGateway) FailLogin(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loginErr = err
}

// FailAction makes subsequent calls of action fail with err (nil clears it).
func (g *MemoryGateway) FailAction(action Action, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.actionErr, action)
		return
	}
	g.actionErr[action] = err
}

// SetDelay makes every operation block for d or until its context ends.
func (g *MemoryGateway) SetDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = d
}

// Login implements Gateway.
func (g *MemoryGateway) Login(ctx context.Context, creds Credentials) (Session, error) {
	if err := g.wait(ctx); err != nil {
		return nil, unreachable("login", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.logins++

	if g.loginErr != nil {
		return nil, g.loginErr
	}
	if g.creds != nil && (creds.Username != g.creds.Username || creds.Password != g.creds.Password) {
		return nil, ErrAuthRejected
	}
	return &memorySession{gateway: g}, nil
}

// Calls returns every attempted filter change in order.
func (g *MemoryGateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallsFor returns attempted filter changes of one action.
func (g *MemoryGateway) CallsFor(action Action) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

// Logins returns the number of login attempts.
func (g *MemoryGateway) Logins() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.logins
}

// IsBlacklisted reports whether mac is currently denied.
func (g *MemoryGateway) IsBlacklisted(mac string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blacklist[NormalizeMAC(mac)]
}

// Blacklisted returns the sorted deny list.
func (g *MemoryGateway) Blacklisted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.blacklist))
	for mac := range g.blacklist {
		out = append(out, mac)
	}
	sort.Strings(out)
	return out
}

func (g *MemoryGateway) wait(ctx context.Context) error {
	g.mu.Lock()
	d := g.delay
	g.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type memorySession struct {
	gateway *MemoryGateway
	closed  bool
}

func (s *memorySession) Blacklist(ctx context.Context, macAddress string) error {
	return s.apply(ctx, ActionBlacklist, macAddress)
}

func (s *memorySession) Unblacklist(ctx context.Context, macAddress string) error {
	return s.apply(ctx, ActionUnblacklist, macAddress)
}

func (s *memorySession) Close() error {
	s.closed = true
	return nil
}

func (s *memorySession) apply(ctx context.Context, action Action, macAddress string) error {
	g := s.gateway
	mac := NormalizeMAC(macAddress)

	err := g.wait(ctx)
	if err != nil {
		err = unreachable(string(action), err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil && s.closed {
		err = ErrRejected
	}
	if err == nil {
		err = g.actionErr[action]
	}
	g.calls = append(g.calls, Call{Action: action, MAC: mac, Err: err})
	if err != nil {
		return err
	}

	switch action {
	case ActionBlacklist:
		g.blacklist[mac] = true
	case ActionUnblacklist:
		delete(g.blacklist, mac)
	}
	return nil
}
