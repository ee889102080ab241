package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/org/geocrypt/internal/auth"
	"github.com/org/geocrypt/internal/storage"
	"github.com/org/geocrypt/pkg/models"
)

func principalView(p *models.Principal) map[string]any {
	return map[string]any{
		"username":   p.Username,
		"email":      p.Email,
		"role":       p.Role,
		"active":     p.Active,
		"created_at": p.CreatedAt,
	}
}

// EmployeeCreateHandler handles POST /v1/admin/employees.
func (s *Server) EmployeeCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PrincipalCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "username and email are required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	p := &models.Principal{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         models.RoleEmployee,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreatePrincipal(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, principalView(p))
}

// EmployeeListHandler handles GET /v1/admin/employees.
func (s *Server) EmployeeListHandler(w http.ResponseWriter, r *http.Request) {
	principals, err := s.store.ListPrincipals(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(principals))
	for _, p := range principals {
		out = append(out, principalView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": out})
}

// EmployeeUpdateHandler handles PUT /v1/admin/employees/{username}. Only
// the whitelisted fields of PrincipalUpdate can change; anything else in
// the body is ignored.
func (s *Server) EmployeeUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PrincipalUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.store.GetPrincipal(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Email != nil {
		p.Email = *req.Email
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		p.PasswordHash = hash
	}
	if req.Active != nil {
		p.Active = *req.Active
	}

	if err := s.store.UpdatePrincipal(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, principalView(p))
}

// EmployeeDeleteHandler handles DELETE /v1/admin/employees/{username}.
func (s *Server) EmployeeDeleteHandler(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	claims := claimsFromCtx(r.Context())
	if username == claims.Subject {
		writeError(w, http.StatusBadRequest, "cannot delete own account")
		return
	}
	if err := s.store.DeletePrincipal(r.Context(), username); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GeofenceGetHandler handles GET /v1/admin/geofence.
func (s *Server) GeofenceGetHandler(w http.ResponseWriter, r *http.Request) {
	pol, err := s.store.GetAccessPolicy(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

// GeofencePutHandler handles PUT /v1/admin/geofence: replaces the
// singleton access policy.
func (s *Server) GeofencePutHandler(w http.ResponseWriter, r *http.Request) {
	var pol models.AccessPolicy
	if err := decodeJSON(r, &pol); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if pol.RadiusM <= 0 {
		writeError(w, http.StatusBadRequest, "radius must be positive")
		return
	}
	for _, hhmm := range []string{pol.StartTime, pol.EndTime} {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			writeError(w, http.StatusBadRequest, "times must be HH:MM")
			return
		}
	}
	if err := s.store.PutAccessPolicy(r.Context(), &pol); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &pol)
}

// AccessLogsHandler handles GET /v1/admin/access-logs with optional
// ?username=, ?file_id=, ?limit=, ?offset= filters.
func (s *Server) AccessLogsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.LogFilter{
		Username: q.Get("username"),
		FileID:   q.Get("file_id"),
		Limit:    100,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	logs, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// CryptoInfoHandler handles GET /v1/admin/crypto-info.
func (s *Server) CryptoInfoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.keys.Info())
}
