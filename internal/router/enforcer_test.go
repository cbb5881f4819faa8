package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforcer_LoginFailureShortCircuits(t *testing.T) {
	g := NewMemoryGateway(nil)
	g.FailLogin(ErrAuthRejected)
	e := NewEnforcer(g, Credentials{}, time.Second, nil)

	err := e.Blacklist(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Empty(t, g.Calls(), "no filter call may follow a failed login")
}

func TestEnforcer_WrongCredentials(t *testing.T) {
	g := NewMemoryGateway(&Credentials{Username: "admin", Password: "pw"})
	e := NewEnforcer(g, Credentials{Username: "admin", Password: "nope"}, time.Second, nil)

	err := e.Unblacklist(context.Background(), "aa:bb:cc:dd:ee:ff")
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestEnforcer_FreshLoginPerAction(t *testing.T) {
	g := NewMemoryGateway(nil)
	e := NewEnforcer(g, Credentials{}, time.Second, nil)
	ctx := context.Background()

	require.NoError(t, e.Blacklist(ctx, "AA:BB:CC:DD:EE:FF"))
	require.NoError(t, e.Blacklist(ctx, "AA:BB:CC:DD:EE:FF"))

	assert.Equal(t, 2, g.Logins())
	assert.Len(t, g.CallsFor(ActionBlacklist), 2)
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, g.Blacklisted())
}

func TestEnforcer_TimeoutIsUnreachable(t *testing.T) {
	g := NewMemoryGateway(nil)
	g.SetDelay(200 * time.Millisecond)
	e := NewEnforcer(g, Credentials{}, 20*time.Millisecond, nil)

	err := e.Blacklist(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, g.IsBlacklisted("aa:bb:cc:dd:ee:ff"))
}

func TestEnforcer_UnclassifiedErrorsBecomeUnreachable(t *testing.T) {
	g := NewMemoryGateway(nil)
	g.FailAction(ActionUnblacklist, errors.New("connection reset"))
	e := NewEnforcer(g, Credentials{}, time.Second, nil)

	err := e.Unblacklist(context.Background(), "aa:bb:cc:dd:ee:ff")
	assert.ErrorIs(t, err, ErrUnreachable)

	g.FailAction(ActionUnblacklist, ErrRejected)
	err = e.Unblacklist(context.Background(), "aa:bb:cc:dd:ee:ff")
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrUnreachable)
}

func TestNormalizeMAC(t *testing.T) {
	tests := map[string]string{
		"AA:BB:CC:DD:EE:FF": "aa:bb:cc:dd:ee:ff",
		"aa-bb-cc-dd-ee-ff": "aa:bb:cc:dd:ee:ff",
		"aabb.ccdd.eeff":    "aa:bb:cc:dd:ee:ff",
		" AABBCCDDEEFF ":    "aa:bb:cc:dd:ee:ff",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeMAC(in), in)
		assert.True(t, ValidMAC(in), in)
	}

	assert.False(t, ValidMAC("not-a-mac"))
	assert.False(t, ValidMAC("zz:bb:cc:dd:ee:ff"))
	assert.Equal(t, "AA-BB-CC-DD-EE-FF", FormatMAC("aa:bb:cc:dd:ee:ff", "dash-upper"))
	assert.Equal(t, "aabbccddeeff", FormatMAC("AA:BB:CC:DD:EE:FF", "bare"))
}
