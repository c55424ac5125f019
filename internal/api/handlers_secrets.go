package api

import (
	"encoding/csv"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/org/passvault/internal/vault"
	"github.com/org/passvault/pkg/models"
)

type secretView struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	SideEmail    string            `json:"side_email,omitempty"`
	SideUsername string            `json:"side_username,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// viewSecret renders a record without its value, encrypted or otherwise.
func viewSecret(rec *models.SecretRecord) secretView {
	return secretView{
		ID:           rec.ID,
		Name:         rec.Name,
		Tags:         rec.Tags,
		Metadata:     rec.Metadata,
		SideEmail:    rec.SideEmail,
		SideUsername: rec.SideUsername,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// SecretCreateHandler handles POST /v1/secrets
func (s *Server) SecretCreateHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	var req struct {
		Name         string            `json:"name"`
		Value        string            `json:"value"`
		Tags         []string          `json:"tags"`
		Metadata     map[string]string `json:"metadata"`
		SideEmail    string            `json:"side_email"`
		SideUsername string            `json:"side_username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	rec, err := s.vault.Create(r.Context(), principal, vault.CreateParams{
		Name:         req.Name,
		Value:        req.Value,
		Tags:         req.Tags,
		Metadata:     req.Metadata,
		SideEmail:    req.SideEmail,
		SideUsername: req.SideUsername,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, viewSecret(rec))
}

// SecretListHandler handles GET /v1/secrets
func (s *Server) SecretListHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	recs, err := s.vault.ListMine(r.Context(), principal)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]secretView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewSecret(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": views})
}

// SecretGetHandler handles GET /v1/secrets/{id}
func (s *Server) SecretGetHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	rec, err := s.vault.Get(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSecret(rec))
}

// SecretUpdateHandler handles PATCH /v1/secrets/{id}. Pointer fields
// distinguish a JSON field that was omitted from one set to its zero
// value; omitted fields are left untouched.
func (s *Server) SecretUpdateHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	var req struct {
		Name         *string           `json:"name"`
		Value        *string           `json:"value"`
		Tags         []string          `json:"tags"`
		Metadata     map[string]string `json:"metadata"`
		SideEmail    *string           `json:"side_email"`
		SideUsername *string           `json:"side_username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil && *req.Name == "" {
		writeError(w, http.StatusBadRequest, "name cannot be empty")
		return
	}

	rec, err := s.vault.Update(r.Context(), principal, chi.URLParam(r, "id"), vault.UpdateParams{
		Name:         req.Name,
		Value:        req.Value,
		Tags:         req.Tags,
		Metadata:     req.Metadata,
		SideEmail:    req.SideEmail,
		SideUsername: req.SideUsername,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSecret(rec))
}

// SecretDeleteHandler handles DELETE /v1/secrets/{id}
func (s *Server) SecretDeleteHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	if err := s.vault.Delete(r.Context(), principal, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SecretValueHandler handles GET /v1/secrets/{id}/value
func (s *Server) SecretValueHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	value, err := s.vault.GetDecryptedValue(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}

type historyView struct {
	ID        string                 `json:"id"`
	Kind      models.ChangeKind      `json:"kind"`
	ActorID   string                 `json:"actor_id"`
	Previous  *models.SecretSnapshot `json:"previous,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// SecretHistoryHandler handles GET /v1/secrets/{id}/history
func (s *Server) SecretHistoryHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	entries, err := s.vault.GetHistory(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]historyView, 0, len(entries))
	for _, e := range entries {
		views = append(views, historyView{
			ID:        e.ID,
			Kind:      e.Kind,
			ActorID:   e.ActorID,
			Previous:  e.Previous,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": views})
}

// SecretShareHandler handles POST /v1/secrets/{id}/share
func (s *Server) SecretShareHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	var req struct {
		Handle     string `json:"handle"`
		Permission string `json:"permission"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Handle == "" {
		writeError(w, http.StatusBadRequest, "handle is required")
		return
	}

	share, err := s.vault.Share(r.Context(), principal, chi.URLParam(r, "id"), req.Handle, req.Permission)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         share.ID,
		"secret_id":  share.SecretID,
		"permission": share.Permission,
		"created_at": share.CreatedAt,
	})
}

// SecretExportHandler handles POST /v1/secrets/export. The account
// password must be re-confirmed in the request body; the response
// streams CSV.
func (s *Server) SecretExportHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFromCtx(r.Context())

	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rows, err := s.vault.ExportAll(r.Context(), principal, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="passvault-export.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write([]string{"name", "username", "email", "value", "tags", "created_at", "updated_at"}) //nolint:errcheck
	for _, row := range rows {
		cw.Write([]string{ //nolint:errcheck
			row.Name,
			row.SideUsername,
			row.SideEmail,
			row.Value,
			strings.Join(row.Tags, ","),
			row.CreatedAt.UTC().Format(time.RFC3339),
			row.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
}
