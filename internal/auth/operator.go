package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials means the operator username or password is wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// HashPassword returns a bcrypt hash suitable for the operator config.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// OperatorLogin exchanges the configured operator credentials for a token.
type OperatorLogin struct {
	username     string
	passwordHash []byte
	tokens       *JWTService
	ttl          time.Duration
}

// NewOperatorLogin creates an operator authenticator. An empty hash disables
// operator login.
func NewOperatorLogin(username, passwordHash string, tokens *JWTService, ttl time.Duration) *OperatorLogin {
	return &OperatorLogin{
		username:     username,
		passwordHash: []byte(passwordHash),
		tokens:       tokens,
		ttl:          ttl,
	}
}

// Login checks the credentials and issues an operator token.
func (o *OperatorLogin) Login(username, password string) (string, time.Time, error) {
	if len(o.passwordHash) == 0 {
		return "", time.Time{}, ErrInvalidCredentials
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(o.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(o.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	return o.tokens.IssueToken(username, RoleOperator, o.ttl)
}
