package api

import (
	"net/http"
)

// HealthHandler handles GET /v1/sys/health. The handler doubles as the
// refresh point for the storage-backed gauges.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	secrets, err := s.store.CountSecrets(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	locked, err := s.store.CountLockedAccounts(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	secretsTotal.Set(float64(secrets))
	lockedAccountsTotal.Set(float64(locked))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": "1.0.0",
	})
}
