package models

import "time"

// Role determines what a principal may do.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

// Principal is an account that can authenticate against the service.
// OTP fields are transient login state: set on each login attempt,
// cleared on successful verification or expiry.
type Principal struct {
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Active       bool
	CreatedAt    time.Time

	OTPHash   string
	OTPExpiry *time.Time
	OTPSentAt *time.Time
}

// PrincipalCreate is the input for creating an employee account.
type PrincipalCreate struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PrincipalUpdate is a whitelisted partial update. Nil fields are left
// untouched; arbitrary field patches are not accepted.
type PrincipalUpdate struct {
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}
