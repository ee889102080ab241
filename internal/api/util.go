package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/org/geocrypt/internal/auth"
	"github.com/org/geocrypt/internal/crypto"
	"github.com/org/geocrypt/internal/gateway"
	"github.com/org/geocrypt/internal/storage"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// writeDomainError maps service-layer errors to HTTP responses. A policy
// denial carries its decision so the client can show which check failed.
func writeDomainError(w http.ResponseWriter, err error) {
	var denied *gateway.DeniedError
	switch {
	case errors.As(err, &denied):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"allowed":     false,
			"reason":      denied.Decision.Reason,
			"validations": denied.Decision.Validations,
		})
	case errors.Is(err, gateway.ErrForbidden), errors.Is(err, auth.ErrAuthorization):
		writeError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, auth.ErrRateLimited), errors.Is(err, auth.ErrOTPCooldown):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, auth.ErrOTPExpired):
		writeError(w, http.StatusUnauthorized, "verification code expired")
	case errors.Is(err, auth.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, crypto.ErrIntegrity):
		writeError(w, http.StatusInternalServerError, "stored data failed integrity verification")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
