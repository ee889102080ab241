package api

import (
	"net/http"

	"github.com/org/geocrypt/pkg/models"
)

// LoginHandler handles POST /v1/auth/login. A correct password does not
// yield tokens; it triggers a one-time code sent out of band.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.sessions.Login(r.Context(), req.Username, req.Password); err != nil {
		s.auditor.Auth(r.Context(), req.Username, models.ActionLoginFailed, false, err.Error())
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "verification code sent",
		"otp_required": true,
	})
}

// ResendOTPHandler handles POST /v1/auth/resend-otp.
func (s *Server) ResendOTPHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.sessions.ResendOTP(r.Context(), req.Username); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "verification code sent"})
}

// VerifyOTPHandler handles POST /v1/auth/verify-otp. On success tokens are
// set as httpOnly cookies and returned in the body for header-based
// clients.
func (s *Server) VerifyOTPHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Code     string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := s.sessions.VerifyOTP(r.Context(), req.Username, req.Code)
	if err != nil {
		s.auditor.Auth(r.Context(), req.Username, models.ActionLoginFailed, false, err.Error())
		writeDomainError(w, err)
		return
	}
	s.auditor.Auth(r.Context(), req.Username, models.ActionLogin, true, "login completed")
	s.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, pair)
}

// RefreshHandler handles POST /v1/auth/refresh. The refresh token comes
// from the cookie or the body; the consumed token is revoked either way.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(refreshCookie); err == nil {
		token = c.Value
	} else {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		decodeJSON(r, &req) //nolint:errcheck
		token = req.RefreshToken
	}

	pair, err := s.sessions.Refresh(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, pair)
}

// LogoutHandler handles POST /v1/auth/logout. It revokes whatever tokens
// the request carries and clears the cookies; it never fails.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	access, _ := bearerOrCookie(r)
	refresh := ""
	if c, err := r.Cookie(refreshCookie); err == nil {
		refresh = c.Value
	}

	if username := s.sessions.Logout(r.Context(), access, refresh); username != "" {
		s.auditor.Auth(r.Context(), username, models.ActionLogout, true, "logged out")
	}
	s.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

// MeHandler handles GET /v1/auth/me.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	p, err := s.store.GetPrincipal(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": p.Username,
		"email":    p.Email,
		"role":     p.Role,
		"active":   p.Active,
	})
}

// CSRFHandler handles GET /v1/auth/csrf. Each call replaces the
// principal's active CSRF token.
func (s *Server) CSRFHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	token, err := s.sessions.IssueCSRF(claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": token})
}

// ChangePasswordHandler handles POST /v1/auth/change-password.
func (s *Server) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.sessions.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password changed"})
}

// ForgotPasswordHandler handles POST /v1/auth/forgot-password. The response
// is identical whether or not the account exists.
func (s *Server) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.sessions.ForgotPassword(r.Context(), req.Username); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "if the account exists, a reset token has been sent"})
}

// ResetPasswordHandler handles POST /v1/auth/reset-password.
func (s *Server) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.sessions.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password reset"})
}
