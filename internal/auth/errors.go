package auth

import "errors"

// Error taxonomy for the session layer. Handlers map these to status codes;
// everything else is an internal error. ErrAuthentication deliberately
// carries no detail about which step failed.
var (
	ErrAuthentication = errors.New("auth: authentication failed")
	ErrAuthorization  = errors.New("auth: not authorized")
	ErrRateLimited    = errors.New("auth: too many attempts")
	ErrValidation     = errors.New("auth: invalid input")
	ErrOTPExpired     = errors.New("auth: verification code expired")
	ErrOTPCooldown    = errors.New("auth: verification code recently sent")
)
