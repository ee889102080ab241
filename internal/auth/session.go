// Package auth implements the session lifecycle: password login gated by a
// one-time code, JWT issuance and revocation, CSRF tokens, and password
// reset. It owns no HTTP concerns; handlers translate its errors to status
// codes.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/org/geocrypt/internal/kvstore"
	"github.com/org/geocrypt/pkg/models"
)

// PrincipalStore is the slice of storage the session layer needs.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, username string) (*models.Principal, error)
	UpdatePrincipal(ctx context.Context, p *models.Principal) error
}

// Sender delivers out-of-band messages to principals.
type Sender interface {
	SendOTP(ctx context.Context, to, code string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// TokenPair is the result of a completed login or refresh.
type TokenPair struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}

// Sessions drives the two-step login flow and everything downstream of it.
// A password alone never yields tokens: the principal must verify a code
// sent out of band, within its TTL.
type Sessions struct {
	store   PrincipalStore
	tokens  *Tokens
	kv      kvstore.Store
	sender  Sender
	limiter *Limiter

	now func() time.Time
}

// NewSessions wires the session service. The limiter guards password and
// code verification attempts per username.
func NewSessions(store PrincipalStore, tokens *Tokens, kv kvstore.Store, sender Sender, limiter *Limiter) *Sessions {
	return &Sessions{
		store:   store,
		tokens:  tokens,
		kv:      kv,
		sender:  sender,
		limiter: limiter,
		now:     time.Now,
	}
}

// Login checks the password and, on success, sends a fresh one-time code.
// It returns ErrAuthentication for a bad username, bad password, or
// deactivated account without distinguishing them.
func (s *Sessions) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrValidation
	}
	if !s.limiter.Allow("login:" + username) {
		return ErrRateLimited
	}
	p, err := s.store.GetPrincipal(ctx, username)
	if err != nil {
		return ErrAuthentication
	}
	if !p.Active {
		return ErrAuthentication
	}
	if err := VerifyPassword(p.PasswordHash, password); err != nil {
		return ErrAuthentication
	}
	return s.issueOTP(ctx, p)
}

// ResendOTP sends a new code for a login already past the password step.
// Sends within the cooldown are refused.
func (s *Sessions) ResendOTP(ctx context.Context, username string) error {
	p, err := s.store.GetPrincipal(ctx, username)
	if err != nil || !p.Active {
		return ErrAuthentication
	}
	if p.OTPHash == "" {
		return ErrAuthentication
	}
	if p.OTPSentAt != nil && s.now().Sub(*p.OTPSentAt) < OTPCooldown {
		return ErrOTPCooldown
	}
	return s.issueOTP(ctx, p)
}

func (s *Sessions) issueOTP(ctx context.Context, p *models.Principal) error {
	code, err := GenerateOTP()
	if err != nil {
		return fmt.Errorf("issuing otp: %w", err)
	}
	now := s.now()
	expiry := now.Add(OTPTTL)
	p.OTPHash = HashOTP(code)
	p.OTPExpiry = &expiry
	p.OTPSentAt = &now
	if err := s.store.UpdatePrincipal(ctx, p); err != nil {
		return fmt.Errorf("storing otp state: %w", err)
	}
	return s.sender.SendOTP(ctx, p.Email, code)
}

// VerifyOTP completes a login. On success the OTP state is cleared, the
// attempt window reset, and an access/refresh pair issued.
func (s *Sessions) VerifyOTP(ctx context.Context, username, code string) (*TokenPair, error) {
	if !s.limiter.Allow("otp:" + username) {
		return nil, ErrRateLimited
	}
	p, err := s.store.GetPrincipal(ctx, username)
	if err != nil || !p.Active {
		return nil, ErrAuthentication
	}
	if p.OTPHash == "" || p.OTPExpiry == nil {
		return nil, ErrAuthentication
	}
	if s.now().After(*p.OTPExpiry) {
		return nil, ErrOTPExpired
	}
	if !VerifyOTP(p.OTPHash, code) {
		return nil, ErrAuthentication
	}

	p.OTPHash = ""
	p.OTPExpiry = nil
	p.OTPSentAt = nil
	if err := s.store.UpdatePrincipal(ctx, p); err != nil {
		return nil, fmt.Errorf("clearing otp state: %w", err)
	}
	s.limiter.Reset("login:" + username)
	s.limiter.Reset("otp:" + username)
	return s.issuePair(username, p.Role)
}

func (s *Sessions) issuePair(username string, role models.Role) (*TokenPair, error) {
	access, err := s.tokens.Issue(TokenAccess, username, role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Issue(TokenRefresh, username, role)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// Refresh rotates a refresh token: the old one is revoked and a fresh pair
// issued, so a leaked refresh token stops working the first time its owner
// uses it.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPrincipal(ctx, claims.Subject)
	if err != nil || !p.Active {
		return nil, ErrAuthentication
	}
	s.tokens.Revoke(claims)
	return s.issuePair(p.Username, p.Role)
}

// Logout revokes the given tokens and drops the principal's CSRF token.
// Tokens that fail verification are ignored: logout is idempotent.
func (s *Sessions) Logout(ctx context.Context, accessToken, refreshToken string) string {
	var username string
	if claims, err := s.tokens.Verify(accessToken, TokenAccess); err == nil {
		username = claims.Subject
		s.tokens.Revoke(claims)
	}
	if claims, err := s.tokens.Verify(refreshToken, TokenRefresh); err == nil {
		if username == "" {
			username = claims.Subject
		}
		s.tokens.Revoke(claims)
	}
	if username != "" {
		s.kv.Delete(csrfKey(username))
	}
	return username
}

// IssueCSRF creates the principal's CSRF token, replacing any previous one.
// At most one is active per principal.
func (s *Sessions) IssueCSRF(username string) (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generating csrf token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	s.kv.Set(csrfKey(username), []byte(token), CSRFTTL)
	return token, nil
}

// VerifyCSRF checks a submitted CSRF token against the active one in
// constant time.
func (s *Sessions) VerifyCSRF(username, token string) bool {
	stored, ok := s.kv.Get(csrfKey(username))
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare(stored, []byte(token)) == 1
}

// ForgotPassword issues a reset token and mails it. An unknown or inactive
// username is reported as success so the endpoint does not leak which
// accounts exist.
func (s *Sessions) ForgotPassword(ctx context.Context, username string) error {
	if !s.limiter.Allow("reset:" + username) {
		return ErrRateLimited
	}
	p, err := s.store.GetPrincipal(ctx, username)
	if err != nil || !p.Active {
		return nil
	}
	token, err := s.tokens.Issue(TokenReset, p.Username, p.Role)
	if err != nil {
		return err
	}
	return s.sender.SendPasswordReset(ctx, p.Email, token)
}

// ResetPassword consumes a reset token and sets a new password. The token
// is revoked on success, so it works exactly once.
func (s *Sessions) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := s.tokens.Verify(resetToken, TokenReset)
	if err != nil {
		return err
	}
	p, err := s.store.GetPrincipal(ctx, claims.Subject)
	if err != nil || !p.Active {
		return ErrAuthentication
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	if err := s.store.UpdatePrincipal(ctx, p); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	s.tokens.Revoke(claims)
	return nil
}

// ChangePassword verifies the current password before setting a new one.
func (s *Sessions) ChangePassword(ctx context.Context, username, current, next string) error {
	p, err := s.store.GetPrincipal(ctx, username)
	if err != nil || !p.Active {
		return ErrAuthentication
	}
	if err := VerifyPassword(p.PasswordHash, current); err != nil {
		return ErrAuthentication
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	if err := s.store.UpdatePrincipal(ctx, p); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return nil
}

func csrfKey(username string) string {
	return "csrf:" + username
}
