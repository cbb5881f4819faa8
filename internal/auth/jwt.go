package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated means the bearer token is missing, malformed, expired
// or signed by someone else.
var ErrUnauthenticated = errors.New("unauthenticated")

// Role is the kind of principal a token identifies.
type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
)

// Claims represents the JWT claims for portal access.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity is an authenticated principal.
type Identity struct {
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsOperator reports whether the identity may use operator endpoints.
func (i *Identity) IsOperator() bool {
	return i != nil && i.Role == RoleOperator
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// JWTService handles JWT generation and validation.
type JWTService struct {
	keys   *KeyPair
	issuer string
	now    func() time.Time
}

// NewJWTService creates a new JWT service with the given key pair.
func NewJWTService(keyPair *KeyPair, issuer string) *JWTService {
	return &JWTService{keys: keyPair, issuer: issuer, now: time.Now}
}

// IssueToken creates a signed ES256 token for userID valid for ttl.
func (s *JWTService) IssueToken(userID string, role Role, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if role != RoleUser && role != RoleOperator {
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}

	now := s.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.keys.PrivateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies a token and returns the identity it carries.
// Every failure wraps ErrUnauthenticated.
func (s *JWTService) ValidateToken(tokenString string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.keys.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	if claims.Role != RoleUser && claims.Role != RoleOperator {
		return nil, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, claims.Role)
	}

	return &Identity{
		UserID:    claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
