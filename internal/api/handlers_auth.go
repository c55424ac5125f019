package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/passvault/internal/account"
	"github.com/org/passvault/internal/otp"
	"github.com/org/passvault/pkg/models"
)

type accountView struct {
	ID            string     `json:"id"`
	Handle        string     `json:"handle"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	Locked        bool       `json:"locked"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	Preferences   string     `json:"preferences,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func viewAccount(a *models.Account) accountView {
	return accountView{
		ID:            a.ID,
		Handle:        a.Handle,
		Email:         a.Email,
		Phone:         a.Phone,
		EmailVerified: a.EmailVerified,
		Locked:        a.Locked,
		LastLoginAt:   a.LastLoginAt,
		Preferences:   a.Preferences,
		CreatedAt:     a.CreatedAt,
	}
}

// RegisterHandler handles POST /v1/auth/register
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle      string `json:"handle"`
		Email       string `json:"email"`
		Phone       string `json:"phone"`
		Password    string `json:"password"`
		Preferences string `json:"preferences"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct, err := s.accounts.Register(r.Context(), account.RegisterParams{
		Handle:      req.Handle,
		Email:       req.Email,
		Phone:       req.Phone,
		Password:    req.Password,
		Preferences: req.Preferences,
	})
	codeSent := true
	var notifyErr *otp.NotifyError
	if errors.As(err, &notifyErr) {
		// The account and its code exist; only the mail failed.
		log.Warn().Err(notifyErr).Str("email", req.Email).Msg("verification mail not sent")
		codeSent = false
	} else if err != nil {
		writeServiceError(w, err)
		return
	}
	otpIssuedTotal.Inc()

	writeJSON(w, http.StatusCreated, map[string]any{
		"account":   viewAccount(acct),
		"code_sent": codeSent,
	})
}

// LoginHandler handles POST /v1/auth/login
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, acct, err := s.accounts.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"account": viewAccount(acct),
	})
}

// VerifyEmailHandler handles POST /v1/auth/verify-email. A valid code
// logs the account in directly.
func (s *Server) VerifyEmailHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, acct, err := s.accounts.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"account": viewAccount(acct),
	})
}

// ResendOTPHandler handles POST /v1/auth/resend-otp
func (s *Server) ResendOTPHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.accounts.ResendOTP(r.Context(), req.Email); err != nil {
		var notifyErr *otp.NotifyError
		if !errors.As(err, &notifyErr) {
			writeServiceError(w, err)
			return
		}
		log.Warn().Err(notifyErr).Str("email", req.Email).Msg("verification mail not sent")
	}
	otpIssuedTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

// ForgotPasswordHandler handles POST /v1/auth/forgot-password. Always
// responds 204 for unknown emails so the endpoint does not reveal which
// addresses are registered.
func (s *Server) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		var notifyErr *otp.NotifyError
		if !errors.As(err, &notifyErr) {
			writeServiceError(w, err)
			return
		}
		log.Warn().Err(notifyErr).Str("email", req.Email).Msg("recovery mail not sent")
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPasswordHandler handles POST /v1/auth/reset-password
func (s *Server) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.accounts.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
