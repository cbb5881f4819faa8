package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *JWTService {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	return NewJWTService(kp, "airfi-portal")
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTestService(t)

	token, expiresAt, err := svc.IssueToken("user-1", RoleUser, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	id, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, RoleUser, id.Role)
	assert.False(t, id.IsOperator())
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService(t)
	other := newTestService(t)

	foreign, _, err := other.IssueToken("user-1", RoleOperator, time.Hour)
	require.NoError(t, err)

	expired, _, err := svc.IssueToken("user-1", RoleUser, -time.Minute)
	require.NoError(t, err)

	otherIssuer := NewJWTService(svc.keys, "someone-else")
	wrongIssuer, _, err := otherIssuer.IssueToken("user-1", RoleUser, time.Hour)
	require.NoError(t, err)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role:             RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory", Issuer: "airfi-portal"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"foreign key":  foreign,
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"hmac":         hs,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestValidateToken_UsesClock(t *testing.T) {
	svc := newTestService(t)
	token, _, err := svc.IssueToken("user-1", RoleUser, time.Hour)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIssueToken_RequiresSubjectAndRole(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.IssueToken("", RoleUser, time.Hour)
	assert.Error(t, err)
	_, _, err = svc.IssueToken("user-1", Role("root"), time.Hour)
	assert.Error(t, err)
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFrom(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), &Identity{UserID: "ops", Role: RoleOperator})
	id, ok := IdentityFrom(ctx)
	require.True(t, ok)
	assert.True(t, id.IsOperator())
}

func TestLoadOrGenerateKeyPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	first, err := LoadOrGenerateKeyPair(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, PrivateKeyFile))
	assert.FileExists(t, filepath.Join(dir, PublicKeyFile))

	second, err := LoadOrGenerateKeyPair(dir)
	require.NoError(t, err)
	assert.True(t, first.PrivateKey.Equal(second.PrivateKey))

	// The public key is derived when only the private key is present.
	require.NoError(t, os.Remove(filepath.Join(dir, PublicKeyFile)))
	third, err := LoadKeyPair(dir)
	require.NoError(t, err)
	assert.True(t, first.PublicKey.Equal(third.PublicKey))
}

func TestLoadKeyPair_Mismatch(t *testing.T) {
	dir := t.TempDir()
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, a.Save(dir))
	other := t.TempDir()
	require.NoError(t, b.Save(other))
	data, err := os.ReadFile(filepath.Join(other, PublicKeyFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, PublicKeyFile), data, 0644))

	_, err = LoadKeyPair(dir)
	assert.Error(t, err)

	// A corrupt key is not silently replaced.
	require.NoError(t, os.WriteFile(filepath.Join(dir, PrivateKeyFile), []byte("junk"), 0600))
	_, err = LoadOrGenerateKeyPair(dir)
	assert.Error(t, err)
}

func TestOperatorLogin(t *testing.T) {
	svc := newTestService(t)
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	login := NewOperatorLogin("ops", hash, svc, time.Hour)

	_, _, err = login.Login("ops", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = login.Login("admin", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, _, err := login.Login("ops", "s3cret")
	require.NoError(t, err)
	id, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, id.Role)

	disabled := NewOperatorLogin("ops", "", svc, time.Hour)
	_, _, err = disabled.Login("ops", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
