package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfi/airfi-portal/internal/router"
)

const testMAC = "aa:bb:cc:dd:ee:ff"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store      *MemoryStore
	gateway    *router.MemoryGateway
	clock      *testClock
	controller *Controller
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store:   NewMemoryStore(),
		gateway: router.NewMemoryGateway(nil),
		clock:   &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	enforcer := router.NewEnforcer(f.gateway, router.Credentials{Username: "admin", Password: "admin"}, time.Second, nil)
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.controller = NewController(f.store, enforcer, nil, opts...)

	ctx := context.Background()
	require.NoError(t, f.store.UpsertPlan(ctx, &Plan{ID: "2h", Name: "2 Hours", DurationHours: 2, PriceKsh: 20}))
	require.NoError(t, f.store.UpsertPlan(ctx, &Plan{ID: "24h", Name: "Daily", DurationHours: 24, PriceKsh: 100}))
	return f
}

func (f *fixture) completedPayment(t *testing.T, userID, planID string) *Payment {
	t.Helper()
	p := &Payment{
		ID:          "pay-" + userID + "-" + planID + "-" + f.clock.Now().Format("150405.000000000"),
		UserID:      userID,
		PlanID:      planID,
		AmountKsh:   100,
		PhoneNumber: "+254700000000",
		Status:      PaymentCompleted,
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	require.NoError(t, f.store.CreatePayment(context.Background(), p))
	f.clock.Advance(time.Nanosecond)
	return p
}

func (f *fixture) registerDevice(t *testing.T, userID, mac string) {
	t.Helper()
	require.NoError(t, f.store.UpsertDevice(context.Background(), &Device{UserID: userID, MACAddress: mac}))
}

func (f *fixture) logActions(t *testing.T, userID string) []LogAction {
	t.Helper()
	entries, err := f.store.ListLogs(context.Background(), userID, 0)
	require.NoError(t, err)
	actions := make([]LogAction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		actions = append(actions, entries[i].Action)
	}
	return actions
}

func TestActivate_CreatesSessionWithPlanDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	first, err := f.controller.Activate(ctx, f.completedPayment(t, "user-1", "2h").ID)
	require.NoError(t, err)

	payment := f.completedPayment(t, "user-1", "24h")
	now := f.clock.Now()
	result, err := f.controller.Activate(ctx, payment.ID)
	require.NoError(t, err)

	assert.Equal(t, now.Add(24*time.Hour), result.Session.EndTime)
	assert.Equal(t, now, result.Session.StartTime)
	assert.True(t, result.Session.IsActive)
	assert.Equal(t, testMAC, result.Session.MACAddress)
	assert.Equal(t, EnforcementConfirmed, result.Enforcement)
	require.NotNil(t, result.Replaced)
	assert.Equal(t, first.Session.ID, result.Replaced.ID)

	prev, err := f.store.GetSession(ctx, first.Session.ID)
	require.NoError(t, err)
	assert.False(t, prev.IsActive)

	active, err := f.store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, result.Session.ID, active[0].ID)

	assert.Len(t, f.gateway.CallsFor(router.ActionUnblacklist), 2)
	assert.Contains(t, f.logActions(t, "user-1"), LogSessionStarted)
}

func TestActivate_RequiresCompletedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := &Payment{ID: "pending", UserID: "user-1", PlanID: "2h", Status: PaymentPending}
	require.NoError(t, f.store.CreatePayment(ctx, pending))

	_, err := f.controller.Activate(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, KindInput, Classify(err))

	_, err = f.store.ActiveSession(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivate_UnresolvedReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.controller.Activate(ctx, "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	orphan := &Payment{ID: "orphan", UserID: "user-1", PlanID: "weekly", Status: PaymentCompleted}
	require.NoError(t, f.store.CreatePayment(ctx, orphan))
	_, err = f.controller.Activate(ctx, orphan.ID)
	assert.ErrorIs(t, err, ErrPlanNotFound)
	assert.Equal(t, KindInput, Classify(err))
}

func TestActivate_RedeliveryReturnsExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.completedPayment(t, "user-1", "2h")

	first, err := f.controller.Activate(ctx, payment.ID)
	require.NoError(t, err)
	again, err := f.controller.Activate(ctx, payment.ID)
	require.NoError(t, err)

	assert.True(t, again.Existing)
	assert.Equal(t, first.Session.ID, again.Session.ID)
	assert.Equal(t, EnforcementNotAttempted, again.Enforcement)
}

func TestActivate_RouterFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)
	f.gateway.FailAction(router.ActionUnblacklist, router.ErrUnreachable)

	result, err := f.controller.Activate(ctx, f.completedPayment(t, "user-1", "2h").ID)
	require.NoError(t, err)
	assert.Equal(t, EnforcementFailed, result.Enforcement)
	assert.ErrorIs(t, result.EnforcementErr, router.ErrUnreachable)

	active, err := f.store.ActiveSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, active.ID)

	queued, err := f.store.ListEnforcements(ctx, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, string(router.ActionUnblacklist), queued[0].Action)
	assert.Equal(t, testMAC, queued[0].MACAddress)

	entries, err := f.store.ListLogs(ctx, "user-1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, LogSessionStarted, entries[0].Action)
	assert.Equal(t, false, entries[0].Details["auto_unblacklisted"])
}

func TestActivate_WithoutDeviceSkipsRouter(t *testing.T) {
	f := newFixture(t)

	result, err := f.controller.Activate(context.Background(), f.completedPayment(t, "user-1", "2h").ID)
	require.NoError(t, err)
	assert.Equal(t, EnforcementSkipped, result.Enforcement)
	assert.ErrorIs(t, result.EnforcementErr, ErrNoMACAddress)
	assert.Empty(t, f.gateway.Calls())
	assert.Zero(t, f.gateway.Logins())
}

func TestActivate_ConcurrentActivationsLeaveOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	payments := make([]*Payment, 8)
	for i := range payments {
		payments[i] = f.completedPayment(t, "user-1", "2h")
	}

	var wg sync.WaitGroup
	errs := make([]error, len(payments))
	for i, p := range payments {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.controller.Activate(ctx, id)
		}(i, p.ID)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	active, err := f.store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	for _, p := range payments {
		_, err := f.store.SessionByPayment(ctx, p.ID)
		assert.NoError(t, err, "every payment gets a session")
	}
	assert.Zero(t, f.controller.locks.size())
}

func TestConcurrentTransitionsKeepOneActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)
	sweeper := NewSweeper(f.store, f.controller, time.Minute, nil)

	const rounds = 20
	payments := make([]*Payment, rounds)
	for i := range payments {
		p, err := f.controller.CreatePayment(ctx, "user-1", "2h", "+254700000000")
		require.NoError(t, err)
		payments[i] = p
	}

	stop := make(chan struct{})
	maxActive := make(chan int, 1)
	go func() {
		most := 0
		for {
			select {
			case <-stop:
				maxActive <- most
				return
			default:
			}
			active, err := f.store.ListActive(ctx)
			if err == nil && len(active) > most {
				most = len(active)
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()

	var wg sync.WaitGroup
	for _, p := range payments {
		wg.Add(3)
		go func(id string) {
			defer wg.Done()
			_, err := f.controller.ConfirmPayment(ctx, id, "")
			assert.NoError(t, err)
		}(p.ID)
		go func() {
			defer wg.Done()
			_, err := f.controller.ManualBlacklist(ctx, "user-1", "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			f.clock.Advance(90 * time.Minute)
			_, err := sweeper.Sweep(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(stop)

	assert.LessOrEqual(t, <-maxActive, 1)
	active, err := f.store.ListActive(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(active), 1)
	for _, p := range payments {
		_, err := f.store.SessionByPayment(ctx, p.ID)
		assert.NoError(t, err, "every confirmed payment gets a session")
	}
	assert.Zero(t, f.controller.locks.size())
}

func TestActivate_ConcurrentRedeliveryCreatesOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.completedPayment(t, "user-1", "2h")

	var wg sync.WaitGroup
	results := make([]*ActivateResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.controller.Activate(ctx, payment.ID)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		require.NotNil(t, r)
		if !r.Existing {
			fresh++
		}
		assert.Equal(t, results[0].Session.ID, r.Session.ID)
	}
	assert.Equal(t, 1, fresh)
}

func TestExpire_DeactivatesAndBlacklistsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	activated, err := f.controller.Activate(ctx, f.completedPayment(t, "user-1", "2h").ID)
	require.NoError(t, err)

	f.clock.Advance(2*time.Hour + time.Second)
	result, err := f.controller.Expire(ctx, activated.Session)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, EnforcementConfirmed, result.Enforcement)
	assert.False(t, result.Session.IsActive)

	// A second expiry of the same session is a no-op.
	again, err := f.controller.Expire(ctx, activated.Session)
	require.NoError(t, err)
	assert.True(t, again.Skipped)

	stored, err := f.store.GetSession(ctx, activated.Session.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Len(t, f.gateway.CallsFor(router.ActionBlacklist), 1)
	assert.True(t, f.gateway.IsBlacklisted(testMAC))

	entries, err := f.store.ListLogs(ctx, "user-1", 0)
	require.NoError(t, err)
	var expired *UsageLogEntry
	for _, e := range entries {
		if e.Action == LogSessionExpired {
			expired = e
		}
	}
	require.NotNil(t, expired)
	assert.Equal(t, true, expired.Details["auto_blacklisted"])
}

func TestExpire_SkipsSessionNotYetDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	activated, err := f.controller.Activate(ctx, f.completedPayment(t, "user-1", "2h").ID)
	require.NoError(t, err)

	result, err := f.controller.Expire(ctx, activated.Session)
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	stored, err := f.store.GetSession(ctx, activated.Session.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestExpire_RouterFailureStillDeactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	activated, err := f.controller.Activate(ctx, f.completedPayment(t, "user-1", "2h").ID)
	require.NoError(t, err)

	f.gateway.FailLogin(router.ErrAuthRejected)
	f.clock.Advance(3 * time.Hour)

	result, err := f.controller.Expire(ctx, activated.Session)
	require.NoError(t, err)
	assert.Equal(t, EnforcementFailed, result.Enforcement)
	assert.ErrorIs(t, result.EnforcementErr, router.ErrAuthRejected)
	assert.Equal(t, KindRejected, Classify(result.EnforcementErr))

	stored, err := f.store.GetSession(ctx, activated.Session.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestManualBlacklist_DeactivatesAndBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	activated, err := f.controller.Activate(ctx, f.completedPayment(t, "user-1", "24h").ID)
	require.NoError(t, err)

	result, err := f.controller.ManualBlacklist(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, EnforcementConfirmed, result.Enforcement)
	require.NotNil(t, result.Deactivated)
	assert.Equal(t, activated.Session.ID, result.Deactivated.ID)
	assert.Equal(t, testMAC, result.MACAddress)

	// Blacklisting twice leaves the router in the same state.
	again, err := f.controller.ManualBlacklist(ctx, "user-1", "AA-BB-CC-DD-EE-FF")
	require.NoError(t, err)
	assert.Nil(t, again.Deactivated)
	assert.Equal(t, []string{testMAC}, f.gateway.Blacklisted())

	_, err = f.store.ActiveSession(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManualBlacklist_NoDevice(t *testing.T) {
	f := newFixture(t)

	result, err := f.controller.ManualBlacklist(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, EnforcementSkipped, result.Enforcement)
	assert.ErrorIs(t, result.EnforcementErr, ErrNoMACAddress)
	assert.Empty(t, f.gateway.Calls())
}

func TestManualBlacklist_RouterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	_, err := f.controller.Activate(ctx, f.completedPayment(t, "user-1", "24h").ID)
	require.NoError(t, err)

	f.gateway.FailAction(router.ActionBlacklist, router.ErrRejected)
	result, err := f.controller.ManualBlacklist(ctx, "user-1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, router.ErrRejected)
	assert.Equal(t, EnforcementFailed, result.Enforcement)

	_, err = f.store.ActiveSession(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound, "session stays deactivated")

	queued, err := f.store.ListEnforcements(ctx, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, string(router.ActionBlacklist), queued[0].Action)
}

func TestManualOverride_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.controller.ManualBlacklist(ctx, "", testMAC)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.controller.ManualUnblacklist(ctx, "user-1", "not-a-mac")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, KindInput, Classify(err))
}

func TestManualUnblacklist_LeavesSessionsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	activated, err := f.controller.Activate(ctx, f.completedPayment(t, "user-1", "2h").ID)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Hour)
	_, err = f.controller.Expire(ctx, activated.Session)
	require.NoError(t, err)
	require.True(t, f.gateway.IsBlacklisted(testMAC))

	result, err := f.controller.ManualUnblacklist(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, EnforcementConfirmed, result.Enforcement)
	assert.False(t, f.gateway.IsBlacklisted(testMAC))

	stored, err := f.store.GetSession(ctx, activated.Session.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	_, err = f.store.ActiveSession(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetryPending_AppliesQueuedChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	f.gateway.FailAction(router.ActionBlacklist, router.ErrUnreachable)
	_, err := f.controller.ManualBlacklist(ctx, "user-1", "")
	require.Error(t, err)

	f.gateway.FailAction(router.ActionBlacklist, nil)
	summary, err := f.controller.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.True(t, f.gateway.IsBlacklisted(testMAC))

	queued, err := f.store.ListEnforcements(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestRetryPending_LatestIntentWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	f.gateway.FailLogin(router.ErrUnreachable)
	_, err := f.controller.ManualBlacklist(ctx, "user-1", "")
	require.Error(t, err)
	_, err = f.controller.ManualUnblacklist(ctx, "user-1", "")
	require.Error(t, err)

	queued, err := f.store.ListEnforcements(ctx, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, string(router.ActionUnblacklist), queued[0].Action)

	f.gateway.FailLogin(nil)
	_, err = f.controller.RetryPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.gateway.CallsFor(router.ActionBlacklist))
	assert.Len(t, f.gateway.CallsFor(router.ActionUnblacklist), 1)
}

func TestRetryPending_GivesUpAfterLimit(t *testing.T) {
	f := newFixture(t, WithRetryLimit(2))
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	f.gateway.FailAction(router.ActionBlacklist, router.ErrUnreachable)
	_, err := f.controller.ManualBlacklist(ctx, "user-1", "")
	require.Error(t, err)

	first, err := f.controller.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed)
	assert.Zero(t, first.Exhausted)

	second, err := f.controller.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Exhausted)

	third, err := f.controller.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, third.Attempted)

	all, err := f.store.ListEnforcements(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1, "exhausted entries stay visible")
	assert.Equal(t, 2, all[0].Attempts)
}

func TestPaymentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.controller.CreatePayment(ctx, "user-1", "weekly", "+254700000000")
	assert.ErrorIs(t, err, ErrPlanNotFound)
	_, err = f.controller.CreatePayment(ctx, "user-1", "2h", "call me")
	assert.ErrorIs(t, err, ErrInvalidInput)

	payment, err := f.controller.CreatePayment(ctx, "user-1", "2h", "+254 700 000 000")
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, payment.Status)
	assert.Equal(t, int64(20), payment.AmountKsh)
	assert.Equal(t, "+254700000000", payment.PhoneNumber)

	result, err := f.controller.ConfirmPayment(ctx, payment.ID, "MPESA123")
	require.NoError(t, err)
	assert.True(t, result.Session.IsActive)

	stored, err := f.store.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, stored.Status)
	assert.Equal(t, "MPESA123", stored.ExternalTransactionID)

	again, err := f.controller.ConfirmPayment(ctx, payment.ID, "MPESA123")
	require.NoError(t, err)
	assert.True(t, again.Existing)

	_, err = f.controller.FailPayment(ctx, payment.ID, "")
	assert.ErrorIs(t, err, ErrPaymentFinalized)

	other, err := f.controller.CreatePayment(ctx, "user-2", "24h", "0700000000")
	require.NoError(t, err)
	failed, err := f.controller.FailPayment(ctx, other.ID, "")
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, failed.Status)

	_, err = f.controller.Activate(ctx, other.ID)
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
}

func TestCurrentSession_ExpiresOverdueSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDevice(t, "user-1", testMAC)

	activated, err := f.controller.Activate(ctx, f.completedPayment(t, "user-1", "2h").ID)
	require.NoError(t, err)

	current, err := f.controller.CurrentSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, activated.Session.ID, current.ID)

	f.clock.Advance(2 * time.Hour)
	_, err = f.controller.CurrentSession(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, f.gateway.IsBlacklisted(testMAC))
}

func TestRegisterDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.controller.RegisterDevice(ctx, "user-1", "zz", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	result, err := f.controller.RegisterDevice(ctx, "user-1", "AA:BB:CC:DD:EE:FF", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, testMAC, result.Device.MACAddress)
	assert.Equal(t, EnforcementNotAttempted, result.Enforcement)

	_, err = f.controller.Activate(ctx, f.completedPayment(t, "user-2", "2h").ID)
	require.NoError(t, err)
	result, err = f.controller.RegisterDevice(ctx, "user-2", "11:22:33:44:55:66", "")
	require.NoError(t, err)
	assert.Equal(t, EnforcementConfirmed, result.Enforcement)
	assert.Len(t, f.gateway.CallsFor(router.ActionUnblacklist), 1)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrPaymentNotFound, KindInput},
		{ErrPlanNotFound, KindInput},
		{ErrPaymentNotCompleted, KindInput},
		{router.ErrUnreachable, KindTransient},
		{router.ErrRejected, KindRejected},
		{router.ErrAuthRejected, KindRejected},
		{ErrStoreWrite, KindStore},
		{errors.New("boom"), KindTransient},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}
