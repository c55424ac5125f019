package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// MeHandler handles GET /v1/users/me
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewAccount(principalFromCtx(r.Context())))
}

// PreferencesHandler handles PUT /v1/users/me/preferences
func (s *Server) PreferencesHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	var req struct {
		Preferences string `json:"preferences"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.accounts.UpdatePreferences(r.Context(), principal, req.Preferences); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAccount(principal))
}

// ChangePasswordHandler handles PUT /v1/users/me/password
func (s *Server) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.accounts.ChangePassword(r.Context(), principal, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuditTrailHandler handles GET /v1/users/me/audit
func (s *Server) AuditTrailHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.auditor.ByAccount(r.Context(), principal.Handle, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// UnlockHandler handles POST /v1/users/{handle}/unlock
func (s *Server) UnlockHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Unlock(r.Context(), chi.URLParam(r, "handle")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
