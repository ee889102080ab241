package api

import (
	"net/http"
	"time"

	"github.com/org/geocrypt/internal/gateway"
	"github.com/org/geocrypt/pkg/models"
)

// HealthHandler handles GET /v1/sys/health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"pqc_available": s.keys.PQCAvailable(),
	})
}

// TimeHandler handles GET /v1/sys/time. Policy time checks use the server
// clock; clients call this to display the clock that actually decides.
func (s *Server) TimeHandler(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"server_time": now.UTC().Format(time.RFC3339),
		"local_time":  now.Format("15:04"),
	})
}

// WiFiSSIDHandler handles GET /v1/sys/wifi-ssid.
func (s *Server) WiFiSSIDHandler(w http.ResponseWriter, r *http.Request) {
	ssid := s.wifi.SSID()
	writeJSON(w, http.StatusOK, map[string]any{
		"ssid":     ssid,
		"detected": ssid != "",
	})
}

// ValidateAccessHandler handles POST /v1/sys/validate-access: evaluates
// the caller's situation against the policy without touching any file.
func (s *Server) ValidateAccessHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		WiFiSSID  string   `json:"wifi_ssid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := s.gateway.Validate(r.Context(), claims.Subject, models.Role(claims.Role), gateway.AccessRequest{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		SSID:      req.WiFiSSID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
