package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/org/geocrypt/internal/kvstore"
	"github.com/org/geocrypt/pkg/models"
)

const issuer = "geocrypt"

// TokenType distinguishes the four token kinds the service issues. Every
// verification names the type it expects, so a refresh token can never pass
// where an access token is required.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
	TokenReset   TokenType = "reset"
	TokenCSRF    TokenType = "csrf"
)

// Lifetimes per token type.
const (
	AccessTTL  = 30 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour
	ResetTTL   = time.Hour
	CSRFTTL    = time.Hour
)

func ttlFor(typ TokenType) time.Duration {
	switch typ {
	case TokenRefresh:
		return RefreshTTL
	case TokenReset:
		return ResetTTL
	case TokenCSRF:
		return CSRFTTL
	default:
		return AccessTTL
	}
}

// Claims are the JWT claims carried by every geocrypt token.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 JWTs and tracks revocations. Revoked
// token IDs live in the key-value store with a TTL equal to the token's
// remaining lifetime, so the revocation set cannot grow without bound.
type Tokens struct {
	secret  []byte
	revoked kvstore.Store
}

// NewTokens creates a token service with the given signing secret.
func NewTokens(secret []byte, revoked kvstore.Store) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return &Tokens{secret: secret, revoked: revoked}, nil
}

// Issue signs a token of the given type for a principal.
func (t *Tokens) Issue(typ TokenType, username string, role models.Role) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrValidation
	}
	now := time.Now().UTC()
	claims := Claims{
		Role: string(role),
		Type: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttlFor(typ))),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token, checks its signature and registered claims, and
// rejects it unless its type matches want or it has been revoked.
func (t *Tokens) Verify(token string, want TokenType) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrAuthentication
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tk *jwt.Token) (any, error) {
		if tk.Method != jwt.SigningMethodHS256 {
			return nil, ErrAuthentication
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrAuthentication
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrAuthentication
	}
	if claims.Type != string(want) {
		return nil, ErrAuthentication
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrAuthentication
	}
	if _, revoked := t.revoked.Get(revocationKey(claims.ID)); revoked {
		return nil, ErrAuthentication
	}
	return claims, nil
}

// Revoke marks a token's ID as unusable for its remaining lifetime.
func (t *Tokens) Revoke(claims *Claims) {
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return
	}
	t.revoked.Set(revocationKey(claims.ID), []byte("1"), remaining)
}

func revocationKey(jti string) string {
	return "revoked:" + jti
}
