// Package api exposes the vault over HTTP.
package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/passvault/internal/account"
	"github.com/org/passvault/internal/audit"
	"github.com/org/passvault/internal/auth"
	"github.com/org/passvault/internal/crypto"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/mail"
	"github.com/org/passvault/internal/otp"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/internal/vault"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
}

// Server is the API server.
type Server struct {
	store    storage.Store
	tokens   *auth.Manager
	accounts *account.Service
	vault    *vault.Vault
	auditor  *audit.Logger
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Store, cipher *crypto.Cipher, sender mail.Sender, tokens *auth.Manager, cfg Config) *Server {
	auditor := audit.NewLogger(store)
	g := guard.New(store)
	codes := otp.NewIssuer(store, sender)

	return &Server{
		store:    store,
		tokens:   tokens,
		accounts: account.NewService(store, g, codes, tokens),
		vault:    vault.New(store, cipher, auditor),
		auditor:  auditor,
		cfg:      cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestLogMiddleware)
	r.Use(metricsMiddleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Post("/v1/auth/register", s.RegisterHandler)
		r.Post("/v1/auth/login", s.LoginHandler)
		r.Post("/v1/auth/verify-email", s.VerifyEmailHandler)
		r.Post("/v1/auth/resend-otp", s.ResendOTPHandler)
		r.Post("/v1/auth/forgot-password", s.ForgotPasswordHandler)
		r.Post("/v1/auth/reset-password", s.ResetPasswordHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.tokens, s.store))

		// Secrets
		r.Post("/v1/secrets", s.SecretCreateHandler)
		r.Get("/v1/secrets", s.SecretListHandler)
		r.Post("/v1/secrets/export", s.SecretExportHandler)
		r.Get("/v1/secrets/{id}", s.SecretGetHandler)
		r.Patch("/v1/secrets/{id}", s.SecretUpdateHandler)
		r.Delete("/v1/secrets/{id}", s.SecretDeleteHandler)
		r.Get("/v1/secrets/{id}/value", s.SecretValueHandler)
		r.Get("/v1/secrets/{id}/history", s.SecretHistoryHandler)
		r.Post("/v1/secrets/{id}/share", s.SecretShareHandler)

		// Account self-service
		r.Get("/v1/users/me", s.MeHandler)
		r.Put("/v1/users/me/preferences", s.PreferencesHandler)
		r.Post("/v1/users/me/password", s.ChangePasswordHandler)
		r.Get("/v1/users/me/audit", s.AuditTrailHandler)

		// Administrative
		r.Post("/v1/users/{handle}/unlock", s.UnlockHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
