// Package account implements registration, login, email verification, and
// the password recovery flows.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/org/passvault/internal/auth"
	"github.com/org/passvault/internal/core"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/otp"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// Service owns the account lifecycle.
type Service struct {
	store  storage.Store
	guard  *guard.Guard
	codes  *otp.Issuer
	tokens *auth.Manager
	now    func() time.Time
}

// NewService creates an account Service.
func NewService(store storage.Store, g *guard.Guard, codes *otp.Issuer, tokens *auth.Manager) *Service {
	return &Service{store: store, guard: g, codes: codes, tokens: tokens, now: time.Now}
}

// RegisterParams carries a registration request.
type RegisterParams struct {
	Handle      string
	Email       string
	Phone       string
	Password    string
	Preferences string
}

func (p RegisterParams) validate() error {
	if p.Handle == "" || p.Email == "" || p.Password == "" {
		return fmt.Errorf("%w: handle, email, and password are required", core.ErrInvalidInput)
	}
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: malformed email %q", core.ErrInvalidInput, p.Email)
	}
	return nil
}

// Register creates an account and mails it a verification code. An email
// already registered but never verified may register again, replacing the
// abandoned attempt; a verified email may not. A returned *otp.NotifyError
// means the account exists and the code is stored but the mail did not go
// out.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*models.Account, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccountByEmail(ctx, p.Email)
	switch {
	case err == nil:
		if acct.EmailVerified {
			return nil, fmt.Errorf("email %s: %w", p.Email, storage.ErrAlreadyExists)
		}
		// Re-registration of an unverified email reuses the row.
	case errors.Is(err, storage.ErrNotFound):
		acct = nil
	default:
		return nil, err
	}

	taken, err := s.store.AccountExistsByHandle(ctx, p.Handle)
	if err != nil {
		return nil, err
	}
	if taken && (acct == nil || acct.Handle != p.Handle) {
		return nil, fmt.Errorf("handle %s: %w", p.Handle, storage.ErrAlreadyExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	if acct == nil {
		acct = &models.Account{ID: uuid.NewString(), CreatedAt: now}
	}
	acct.Handle = p.Handle
	acct.Email = p.Email
	acct.Phone = p.Phone
	acct.PasswordHash = string(hash)
	acct.Preferences = p.Preferences
	acct.EmailVerified = false
	acct.UpdatedAt = now

	if err := s.store.SaveAccount(ctx, acct); err != nil {
		return nil, err
	}
	if err := s.codes.Generate(ctx, acct.Email); err != nil {
		return acct, err
	}
	return acct, nil
}

// resolveIdentifier finds the account a login identifier refers to. An
// identifier containing "@" is tried as an email, an all-digit identifier
// as a phone number; either way an unmatched identifier falls back to a
// handle lookup, so handles that look like emails or numbers still work.
func (s *Service) resolveIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	var acct *models.Account
	var err error
	switch {
	case strings.Contains(identifier, "@"):
		acct, err = s.store.GetAccountByEmail(ctx, identifier)
	case isAllDigits(identifier):
		acct, err = s.store.GetAccountByPhone(ctx, identifier)
	default:
		return s.store.GetAccountByHandle(ctx, identifier)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return s.store.GetAccountByHandle(ctx, identifier)
	}
	return acct, err
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Login authenticates by email, phone, or handle. The lock check runs
// before the credential check, so a locked account learns nothing about
// whether the password was right. Unknown identifiers and wrong passwords
// are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, identifier, password string) (string, *models.Account, error) {
	acct, err := s.resolveIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, core.ErrInvalidCredential
		}
		return "", nil, err
	}

	locked, _, err := s.guard.IsLocked(ctx, acct)
	if err != nil {
		return "", nil, err
	}
	if locked {
		return "", nil, core.ErrLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		if err := s.guard.OnFailedLogin(ctx, acct); err != nil {
			return "", nil, err
		}
		return "", nil, core.ErrInvalidCredential
	}

	if err := s.guard.OnSuccessfulLogin(ctx, acct); err != nil {
		return "", nil, err
	}
	token, err := s.tokens.Issue(acct)
	if err != nil {
		return "", nil, err
	}
	return token, acct, nil
}

// VerifyEmail consumes a verification code and marks the email verified.
// A valid code logs the account in directly, returning a session token.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (string, *models.Account, error) {
	ok, err := s.codes.Validate(ctx, email, code)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, core.ErrExpiredOrInvalidCode
	}

	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	acct.EmailVerified = true
	acct.UpdatedAt = s.now().UTC()
	if err := s.store.SaveAccount(ctx, acct); err != nil {
		return "", nil, err
	}
	if err := s.guard.OnSuccessfulLogin(ctx, acct); err != nil {
		return "", nil, err
	}
	token, err := s.tokens.Issue(acct)
	if err != nil {
		return "", nil, err
	}
	return token, acct, nil
}

// ResendOTP issues a fresh verification code, superseding any pending one.
// Already-verified emails are refused.
func (s *Service) ResendOTP(ctx context.Context, email string) error {
	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}
	if acct.EmailVerified {
		return fmt.Errorf("email %s already verified: %w", email, storage.ErrAlreadyExists)
	}
	return s.codes.Resend(ctx, acct.Email)
}

// ForgotPassword mails a recovery code. Unknown emails succeed silently so
// the endpoint does not reveal which addresses are registered.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if _, err := s.store.GetAccountByEmail(ctx, email); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.codes.Generate(ctx, email)
}

// ResetPassword consumes a recovery code and replaces the password. A
// successful reset also clears any brute-force lockout, since the caller
// just proved control of the mailbox.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if newPassword == "" {
		return errors.New("new password is required")
	}
	ok, err := s.codes.Validate(ctx, email, code)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrExpiredOrInvalidCode
	}

	acct, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	acct.PasswordHash = string(hash)
	acct.FailedLoginAttempts = 0
	acct.Locked = false
	acct.LockUntil = nil
	acct.UpdatedAt = s.now().UTC()
	return s.store.SaveAccount(ctx, acct)
}

// ChangePassword replaces the password of a logged-in account. The
// current password must verify first.
func (s *Service) ChangePassword(ctx context.Context, principal *models.Account, current, newPassword string) error {
	if newPassword == "" {
		return errors.New("new password is required")
	}
	if bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(current)) != nil {
		return core.ErrInvalidCredential
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	principal.PasswordHash = string(hash)
	principal.UpdatedAt = s.now().UTC()
	return s.store.SaveAccount(ctx, principal)
}

// UpdatePreferences replaces the account's preference blob.
func (s *Service) UpdatePreferences(ctx context.Context, principal *models.Account, preferences string) error {
	principal.Preferences = preferences
	principal.UpdatedAt = s.now().UTC()
	return s.store.SaveAccount(ctx, principal)
}

// Unlock clears a lockout by handle. Administrative surface.
func (s *Service) Unlock(ctx context.Context, handle string) error {
	acct, err := s.store.GetAccountByHandle(ctx, handle)
	if err != nil {
		return err
	}
	return s.guard.Unlock(ctx, acct)
}

// GetByID loads an account.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return s.store.GetAccountByID(ctx, id)
}
