package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/org/geocrypt/pkg/models"
)

// WFHCreateHandler handles POST /v1/wfh/requests. A principal may hold at
// most one pending request; the storage layer enforces it.
func (s *Server) WFHCreateHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	g := &models.WFHGrant{
		ID:          uuid.NewString(),
		Username:    claims.Subject,
		Reason:      strings.TrimSpace(req.Reason),
		Status:      models.GrantPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.store.CreateGrant(r.Context(), g); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// WFHStatusHandler handles GET /v1/wfh/requests: the caller's own request
// history, most recent first.
func (s *Server) WFHStatusHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	grants, err := s.store.ListGrants(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": grants})
}

// WFHListHandler handles GET /v1/admin/wfh: all requests, optionally
// filtered by ?status=.
func (s *Server) WFHListHandler(w http.ResponseWriter, r *http.Request) {
	grants, err := s.store.ListGrants(r.Context(), "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := grants[:0]
		for _, g := range grants {
			if string(g.Status) == status {
				filtered = append(filtered, g)
			}
		}
		grants = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": grants})
}

// WFHDecisionHandler handles POST /v1/admin/wfh/{id}/decision. Approval
// allocates the access window; without one the grant never overrides
// policy.
func (s *Server) WFHDecisionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approve      bool       `json:"approve"`
		AdminComment string     `json:"admin_comment"`
		AccessStart  *time.Time `json:"access_start"`
		AccessEnd    *time.Time `json:"access_end"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g, err := s.store.GetGrant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if g.Status != models.GrantPending {
		writeError(w, http.StatusConflict, "request already decided")
		return
	}

	now := time.Now().UTC()
	g.AdminComment = req.AdminComment
	if req.Approve {
		if req.AccessStart == nil || req.AccessEnd == nil || !req.AccessEnd.After(*req.AccessStart) {
			writeError(w, http.StatusBadRequest, "approval requires a valid access window")
			return
		}
		g.Status = models.GrantApproved
		g.ApprovedAt = &now
		g.AccessStart = req.AccessStart
		g.AccessEnd = req.AccessEnd
	} else {
		g.Status = models.GrantRejected
	}

	if err := s.store.UpdateGrant(r.Context(), g); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
