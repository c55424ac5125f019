package account

import (
	"context"
	"errors"
	"testing"

	"github.com/org/passvault/internal/auth"
	"github.com/org/passvault/internal/core"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/otp"
	"github.com/org/passvault/internal/storage"
)

// stubSender records issued codes per email instead of mailing them.
type stubSender struct {
	codes map[string][]string
	fail  bool
}

func newStubSender() *stubSender {
	return &stubSender{codes: map[string][]string{}}
}

func (s *stubSender) Send(_ context.Context, email, code string) error {
	if s.fail {
		return errors.New("smtp unreachable")
	}
	s.codes[email] = append(s.codes[email], code)
	return nil
}

func (s *stubSender) last(email string) string {
	sent := s.codes[email]
	if len(sent) == 0 {
		return ""
	}
	return sent[len(sent)-1]
}

func newTestService(t *testing.T) (*Service, storage.Store, *stubSender) {
	t.Helper()
	store := storage.NewMemoryStore()
	sender := newStubSender()
	svc := NewService(
		store,
		guard.New(store),
		otp.NewIssuer(store, sender),
		auth.NewManager([]byte("test-secret"), auth.DefaultTTL),
	)
	return svc, store, sender
}

func register(t *testing.T, svc *Service, handle, email, password string) {
	t.Helper()
	if _, err := svc.Register(context.Background(), RegisterParams{
		Handle:   handle,
		Email:    email,
		Password: password,
	}); err != nil {
		t.Fatalf("register %s: %v", handle, err)
	}
}

func verify(t *testing.T, svc *Service, sender *stubSender, email string) {
	t.Helper()
	if _, _, err := svc.VerifyEmail(context.Background(), email, sender.last(email)); err != nil {
		t.Fatalf("verify %s: %v", email, err)
	}
}

func TestRegisterSendsCode(t *testing.T) {
	svc, store, sender := newTestService(t)
	ctx := context.Background()

	acct, err := svc.Register(ctx, RegisterParams{
		Handle:   "alice",
		Email:    "alice@example.com",
		Phone:    "15550001111",
		Password: "hunter22",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.EmailVerified {
		t.Error("fresh account already verified")
	}
	if acct.PasswordHash == "hunter22" || acct.PasswordHash == "" {
		t.Error("password stored unhashed")
	}
	if code := sender.last("alice@example.com"); len(code) != 6 {
		t.Errorf("sent code %q, want 6 digits", code)
	}
	if _, err := store.GetAccountByHandle(ctx, "alice"); err != nil {
		t.Errorf("account not persisted: %v", err)
	}
}

func TestRegisterRejectsVerifiedEmail(t *testing.T) {
	svc, _, sender := newTestService(t)
	ctx := context.Background()

	register(t, svc, "alice", "alice@example.com", "pw")
	verify(t, svc, sender, "alice@example.com")

	_, err := svc.Register(ctx, RegisterParams{
		Handle: "alice2", Email: "alice@example.com", Password: "pw",
	})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("re-register verified email: %v, want ErrAlreadyExists", err)
	}
}

func TestRegisterReusesUnverifiedEmail(t *testing.T) {
	svc, store, sender := newTestService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterParams{
		Handle: "alice", Email: "alice@example.com", Password: "old",
	})
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	staleCode := sender.last("alice@example.com")

	second, err := svc.Register(ctx, RegisterParams{
		Handle: "alice-new", Email: "alice@example.com", Password: "new",
	})
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if second.ID != first.ID {
		t.Error("re-registration created a second account for the same email")
	}
	if second.Handle != "alice-new" {
		t.Errorf("handle = %q, want alice-new", second.Handle)
	}
	if _, err := store.GetAccountByHandle(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("stale handle still resolves: %v", err)
	}

	// The first attempt's code was superseded.
	if _, _, err := svc.VerifyEmail(ctx, "alice@example.com", staleCode); !errors.Is(err, core.ErrExpiredOrInvalidCode) {
		t.Errorf("stale code accepted: %v", err)
	}
	verify(t, svc, sender, "alice@example.com")
}

func TestRegisterRejectsTakenHandle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	register(t, svc, "alice", "alice@example.com", "pw")
	_, err := svc.Register(ctx, RegisterParams{
		Handle: "alice", Email: "other@example.com", Password: "pw",
	})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("duplicate handle: %v, want ErrAlreadyExists", err)
	}
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	svc, store, sender := newTestService(t)
	ctx := context.Background()

	sender.fail = true
	_, err := svc.Register(ctx, RegisterParams{
		Handle: "alice", Email: "alice@example.com", Password: "pw",
	})
	var notifyErr *otp.NotifyError
	if !errors.As(err, &notifyErr) {
		t.Fatalf("register with dead mailer: %v, want NotifyError", err)
	}
	if _, err := store.GetAccountByHandle(ctx, "alice"); err != nil {
		t.Errorf("account lost on mail failure: %v", err)
	}

	// The stored code still works once dug out of the store.
	code, err := store.GetLatestOTP(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("latest otp: %v", err)
	}
	if _, _, err := svc.VerifyEmail(ctx, "alice@example.com", code.Code); err != nil {
		t.Errorf("stored code rejected: %v", err)
	}
}

func TestLoginIdentifierResolution(t *testing.T) {
	svc, _, sender := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterParams{
		Handle: "alice", Email: "alice@example.com", Phone: "15550001111", Password: "pw",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	verify(t, svc, sender, "alice@example.com")

	for _, identifier := range []string{"alice@example.com", "15550001111", "alice"} {
		token, acct, err := svc.Login(ctx, identifier, "pw")
		if err != nil {
			t.Errorf("login via %q: %v", identifier, err)
			continue
		}
		if token == "" || acct.Handle != "alice" {
			t.Errorf("login via %q: token=%q handle=%q", identifier, token, acct.Handle)
		}
	}

	if _, _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, core.ErrInvalidCredential) {
		t.Errorf("wrong password: %v, want ErrInvalidCredential", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "pw"); !errors.Is(err, core.ErrInvalidCredential) {
		t.Errorf("unknown identifier: %v, want ErrInvalidCredential", err)
	}
}

func TestLoginHandleFallback(t *testing.T) {
	svc, _, sender := newTestService(t)
	ctx := context.Background()

	// Handles that parse as a phone number or an email still resolve when
	// the email/phone lookup finds nothing.
	if _, err := svc.Register(ctx, RegisterParams{
		Handle: "12345", Email: "digits@example.com", Password: "pw",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	verify(t, svc, sender, "digits@example.com")
	if _, acct, err := svc.Login(ctx, "12345", "pw"); err != nil || acct.Handle != "12345" {
		t.Errorf("login by all-digit handle: acct=%v err=%v", acct, err)
	}

	if _, err := svc.Register(ctx, RegisterParams{
		Handle: "bob@work", Email: "bob@example.com", Password: "pw",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	verify(t, svc, sender, "bob@example.com")
	if _, acct, err := svc.Login(ctx, "bob@work", "pw"); err != nil || acct.Handle != "bob@work" {
		t.Errorf("login by at-sign handle: acct=%v err=%v", acct, err)
	}
}

func TestLoginLockout(t *testing.T) {
	svc, store, sender := newTestService(t)
	ctx := context.Background()

	register(t, svc, "alice", "alice@example.com", "pw")
	verify(t, svc, sender, "alice@example.com")

	for i := 0; i < guard.MaxFailedAttempts; i++ {
		if _, _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, core.ErrInvalidCredential) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// Locked out even with the right password, and without revealing
	// whether the password was right.
	if _, _, err := svc.Login(ctx, "alice", "pw"); !errors.Is(err, core.ErrLocked) {
		t.Fatalf("login while locked: %v, want ErrLocked", err)
	}
	if _, _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, core.ErrLocked) {
		t.Fatalf("bad login while locked: %v, want ErrLocked", err)
	}

	if err := svc.Unlock(ctx, "alice"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("login after unlock: %v", err)
	}

	acct, err := store.GetAccountByHandle(ctx, "alice")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if acct.FailedLoginAttempts != 0 || acct.LastLoginAt == nil {
		t.Errorf("attempts=%d lastLogin=%v after successful login",
			acct.FailedLoginAttempts, acct.LastLoginAt)
	}
}

func TestVerifyEmailLogsIn(t *testing.T) {
	svc, store, sender := newTestService(t)
	ctx := context.Background()

	register(t, svc, "alice", "alice@example.com", "pw")

	token, acct, err := svc.VerifyEmail(ctx, "alice@example.com", sender.last("alice@example.com"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if token == "" {
		t.Error("verification returned no session token")
	}
	if !acct.EmailVerified {
		t.Error("account not marked verified")
	}

	tokens := auth.NewManager([]byte("test-secret"), auth.DefaultTTL)
	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.Subject != acct.ID {
		t.Errorf("token subject = %q, want account id", claims.Subject)
	}

	stored, err := store.GetAccountByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !stored.EmailVerified {
		t.Error("verified flag not persisted")
	}

	// Codes are single use.
	if _, _, err := svc.VerifyEmail(ctx, "alice@example.com", sender.last("alice@example.com")); !errors.Is(err, core.ErrExpiredOrInvalidCode) {
		t.Errorf("code consumed twice: %v", err)
	}
}

func TestResendOTP(t *testing.T) {
	svc, _, sender := newTestService(t)
	ctx := context.Background()

	register(t, svc, "alice", "alice@example.com", "pw")
	if err := svc.ResendOTP(ctx, "alice@example.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if got := len(sender.codes["alice@example.com"]); got != 2 {
		t.Errorf("%d codes sent, want 2", got)
	}

	verify(t, svc, sender, "alice@example.com")
	if err := svc.ResendOTP(ctx, "alice@example.com"); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("resend to verified email: %v, want ErrAlreadyExists", err)
	}
	if err := svc.ResendOTP(ctx, "nobody@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("resend to unknown email: %v, want ErrNotFound", err)
	}
}

func TestPasswordRecovery(t *testing.T) {
	svc, store, sender := newTestService(t)
	ctx := context.Background()

	register(t, svc, "alice", "alice@example.com", "pw")
	verify(t, svc, sender, "alice@example.com")

	// Unknown emails succeed silently.
	if err := svc.ForgotPassword(ctx, "nobody@example.com"); err != nil {
		t.Errorf("forgot password for unknown email: %v", err)
	}
	if len(sender.codes["nobody@example.com"]) != 0 {
		t.Error("code mailed to unregistered address")
	}

	// Lock the account, then recover.
	for i := 0; i < guard.MaxFailedAttempts; i++ {
		svc.Login(ctx, "alice", "wrong")
	}
	if err := svc.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	code := sender.last("alice@example.com")

	if err := svc.ResetPassword(ctx, "alice@example.com", "000000", "newpw"); !errors.Is(err, core.ErrExpiredOrInvalidCode) {
		t.Fatalf("reset with wrong code: %v", err)
	}
	if err := svc.ResetPassword(ctx, "alice@example.com", code, "newpw"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// Reset cleared the lockout; the old password is gone.
	if _, _, err := svc.Login(ctx, "alice", "newpw"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice", "pw"); !errors.Is(err, core.ErrInvalidCredential) {
		t.Errorf("login with old password: %v", err)
	}

	acct, err := store.GetAccountByHandle(ctx, "alice")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if acct.Locked {
		t.Error("lockout survived password reset")
	}
}

func TestChangePassword(t *testing.T) {
	svc, _, sender := newTestService(t)
	ctx := context.Background()

	register(t, svc, "alice", "alice@example.com", "pw")
	verify(t, svc, sender, "alice@example.com")
	_, acct, err := svc.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.ChangePassword(ctx, acct, "wrong", "newpw"); !errors.Is(err, core.ErrInvalidCredential) {
		t.Fatalf("change with wrong current password: %v", err)
	}
	if err := svc.ChangePassword(ctx, acct, "pw", "newpw"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice", "newpw"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
}

func TestUpdatePreferences(t *testing.T) {
	svc, store, sender := newTestService(t)
	ctx := context.Background()

	register(t, svc, "alice", "alice@example.com", "pw")
	verify(t, svc, sender, "alice@example.com")
	_, acct, err := svc.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.UpdatePreferences(ctx, acct, `{"theme":"dark"}`); err != nil {
		t.Fatalf("update preferences: %v", err)
	}
	stored, err := store.GetAccountByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Preferences != `{"theme":"dark"}` {
		t.Errorf("preferences = %q", stored.Preferences)
	}
}
