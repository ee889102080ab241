package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	otpDigits   = 6
	otpSalt     = "geofence_otp_salt"
	otpKDFIters = 100000

	// OTPTTL is how long a code stays valid; OTPCooldown is the minimum
	// gap between sends to the same principal.
	OTPTTL      = 5 * time.Minute
	OTPCooldown = 30 * time.Second
)

// GenerateOTP returns a 6-digit code from a cryptographic source. Leading
// zeros are preserved.
func GenerateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generating otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}

// HashOTP derives a storable hash from a code. Codes are never persisted in
// plaintext.
func HashOTP(code string) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(code), []byte(otpSalt), otpKDFIters, 32, sha256.New))
}

// VerifyOTP compares a submitted code against a stored hash in constant
// time.
func VerifyOTP(storedHash, code string) bool {
	if storedHash == "" || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashOTP(code))) == 1
}
