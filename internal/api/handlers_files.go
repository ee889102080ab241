package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/org/geocrypt/internal/gateway"
	"github.com/org/geocrypt/pkg/models"
)

const maxUploadBytes = 64 << 20 // 64 MiB

// accessRequestFromQuery reads the client's location/network hint from
// query parameters. Absent parameters stay nil; they are meaningful to the
// policy engine.
func accessRequestFromQuery(r *http.Request) (gateway.AccessRequest, error) {
	var req gateway.AccessRequest
	q := r.URL.Query()
	if v := q.Get("latitude"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, errors.New("invalid latitude")
		}
		req.Latitude = &f
	}
	if v := q.Get("longitude"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, errors.New("invalid longitude")
		}
		req.Longitude = &f
	}
	req.SSID = q.Get("wifi_ssid")
	return req, nil
}

// FileUploadHandler handles POST /v1/files (multipart, admin only).
func (s *Server) FileUploadHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	f, err := s.gateway.Upload(r.Context(), claims.Subject, models.Role(claims.Role), header.Filename, data)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// FileListHandler handles GET /v1/files. Every file is annotated with the
// caller's access decision, computed without decrypting anything.
func (s *Server) FileListHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	req, err := accessRequestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listings, err := s.gateway.List(r.Context(), claims.Subject, models.Role(claims.Role), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": listings})
}

// FileAccessHandler handles GET /v1/files/{id}: the decision is audited
// before the first byte of content leaves the server.
func (s *Server) FileAccessHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	req, err := accessRequestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	content, err := s.gateway.Access(r.Context(), claims.Subject, models.Role(claims.Role), chi.URLParam(r, "id"), req)
	if err != nil {
		var denied *gateway.DeniedError
		if errors.As(err, &denied) {
			recordDecision(false)
		}
		writeDomainError(w, err)
		return
	}
	recordDecision(true)

	w.Header().Set("Content-Type", content.MIME)
	w.Header().Set("Content-Disposition", `inline; filename="`+content.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(content.Data) //nolint:errcheck
}

// FileDeleteHandler handles DELETE /v1/files/{id} (admin only).
func (s *Server) FileDeleteHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	if err := s.gateway.Delete(r.Context(), models.Role(claims.Role), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FileStatsHandler handles GET /v1/admin/stats.
func (s *Server) FileStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gateway.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	filesTotal.Set(float64(stats.TotalFiles))
	writeJSON(w, http.StatusOK, stats)
}
