package otp

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/org/passvault/internal/storage"
)

// captureSender records sent codes; fail makes every send error.
type captureSender struct {
	emails []string
	codes  []string
	fail   bool
}

func (s *captureSender) Send(ctx context.Context, email, code string) error {
	if s.fail {
		return errors.New("smtp unavailable")
	}
	s.emails = append(s.emails, email)
	s.codes = append(s.codes, code)
	return nil
}

func (s *captureSender) last() string {
	if len(s.codes) == 0 {
		return ""
	}
	return s.codes[len(s.codes)-1]
}

func newTestIssuer() (*Issuer, *captureSender, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	sender := &captureSender{}
	return NewIssuer(store, sender), sender, store
}

func TestGenerateProducesSixDigitCode(t *testing.T) {
	issuer, sender, _ := newTestIssuer()
	ctx := context.Background()

	if err := issuer.Generate(ctx, "a@example.com"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(sender.last()) {
		t.Errorf("code %q is not 6 zero-padded digits", sender.last())
	}
}

func TestGenerateSupersedesPriorCode(t *testing.T) {
	issuer, sender, store := newTestIssuer()
	ctx := context.Background()

	if err := issuer.Generate(ctx, "a@example.com"); err != nil {
		t.Fatalf("first Generate failed: %v", err)
	}
	first := sender.last()

	if err := issuer.Generate(ctx, "a@example.com"); err != nil {
		t.Fatalf("second Generate failed: %v", err)
	}
	second := sender.last()

	// Exactly one active code remains, and it is the second one.
	latest, err := store.GetLatestOTP(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetLatestOTP failed: %v", err)
	}
	if latest.Code != second {
		t.Errorf("latest stored code = %q, want %q", latest.Code, second)
	}

	if first != second {
		ok, err := issuer.Validate(ctx, "a@example.com", first)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if ok {
			t.Error("superseded code validated successfully")
		}
	}

	ok, err := issuer.Validate(ctx, "a@example.com", second)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !ok {
		t.Error("current code failed to validate")
	}
}

func TestValidateConsumesCodeOnce(t *testing.T) {
	issuer, sender, _ := newTestIssuer()
	ctx := context.Background()

	issuer.Generate(ctx, "a@example.com") //nolint:errcheck
	code := sender.last()

	ok, err := issuer.Validate(ctx, "a@example.com", code)
	if err != nil || !ok {
		t.Fatalf("first Validate = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = issuer.Validate(ctx, "a@example.com", code)
	if err != nil {
		t.Fatalf("second Validate failed: %v", err)
	}
	if ok {
		t.Error("code validated twice")
	}
}

func TestValidateWrongCodeOrEmail(t *testing.T) {
	issuer, sender, _ := newTestIssuer()
	ctx := context.Background()

	issuer.Generate(ctx, "a@example.com") //nolint:errcheck
	code := sender.last()

	if ok, _ := issuer.Validate(ctx, "a@example.com", "000000x"); ok {
		t.Error("malformed code validated")
	}
	if ok, _ := issuer.Validate(ctx, "b@example.com", code); ok {
		t.Error("code validated against the wrong email")
	}
}

func TestValidateAfterExpiry(t *testing.T) {
	issuer, sender, _ := newTestIssuer()
	ctx := context.Background()

	issuer.Generate(ctx, "a@example.com") //nolint:errcheck
	code := sender.last()

	// First validation attempt, already past expiry.
	issuer.now = func() time.Time { return time.Now().Add(CodeTTL + time.Second) }
	ok, err := issuer.Validate(ctx, "a@example.com", code)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if ok {
		t.Error("expired code validated")
	}
}

func TestValidateAtExactExpiry(t *testing.T) {
	issuer, sender, _ := newTestIssuer()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }
	issuer.Generate(ctx, "a@example.com") //nolint:errcheck
	code := sender.last()

	// now == expiry must already fail.
	issuer.now = func() time.Time { return base.Add(CodeTTL) }
	if ok, _ := issuer.Validate(ctx, "a@example.com", code); ok {
		t.Error("code validated at exact expiry instant")
	}
}

func TestNotifyFailureKeepsCode(t *testing.T) {
	store := storage.NewMemoryStore()
	sender := &captureSender{fail: true}
	issuer := NewIssuer(store, sender)
	ctx := context.Background()

	err := issuer.Generate(ctx, "a@example.com")
	var notifyErr *NotifyError
	if !errors.As(err, &notifyErr) {
		t.Fatalf("Generate = %v, want *NotifyError", err)
	}

	// The code row must still exist and be usable.
	latest, err := store.GetLatestOTP(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("code not persisted after notify failure: %v", err)
	}
	ok, err := issuer.Validate(ctx, "a@example.com", latest.Code)
	if err != nil || !ok {
		t.Errorf("Validate = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestResendReplaces(t *testing.T) {
	issuer, sender, _ := newTestIssuer()
	ctx := context.Background()

	issuer.Generate(ctx, "a@example.com") //nolint:errcheck
	if err := issuer.Resend(ctx, "a@example.com"); err != nil {
		t.Fatalf("Resend failed: %v", err)
	}
	if len(sender.codes) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sender.codes))
	}
}
