// Package otp implements issuance and validation of short-lived one-time
// codes bound to an email address. A code survives for five minutes, is
// consumed by at most one successful validation, and is superseded
// whenever a new code is generated for the same email.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/org/passvault/internal/mail"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// CodeTTL is the validity window of an issued code.
const CodeTTL = 5 * time.Minute

// codeSpace bounds the uniform code draw: [000000, 999999].
const codeSpace = 1_000_000

// NotifyError reports that a code was generated and persisted but the
// notification could not be delivered. The code remains valid.
type NotifyError struct {
	Err error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("code stored but notification failed: %v", e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// Issuer generates, persists, and validates one-time codes.
type Issuer struct {
	store  storage.Store
	sender mail.Sender
	now    func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(store storage.Store, sender mail.Sender) *Issuer {
	return &Issuer{store: store, sender: sender, now: time.Now}
}

// Generate replaces any existing codes for the email with a fresh
// uniformly random 6-digit code expiring in five minutes, then notifies
// the address. A notification failure is returned as *NotifyError; the
// stored code is never rolled back.
func (i *Issuer) Generate(ctx context.Context, email string) error {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return fmt.Errorf("drawing code: %w", err)
	}
	now := i.now().UTC()
	code := &models.OTPCode{
		ID:        uuid.NewString(),
		Email:     email,
		Code:      fmt.Sprintf("%06d", n.Int64()),
		CreatedAt: now,
		ExpiresAt: now.Add(CodeTTL),
	}
	if err := i.store.ReplaceOTP(ctx, code); err != nil {
		return fmt.Errorf("storing code: %w", err)
	}
	if err := i.sender.Send(ctx, email, code.Code); err != nil {
		return &NotifyError{Err: err}
	}
	return nil
}

// Validate consumes the code matching email and code exactly. It returns
// false for an unknown or already-verified code and for a code at or past
// its expiry; the caller cannot tell which. On success the code is marked
// verified and cannot be consumed again.
func (i *Issuer) Validate(ctx context.Context, email, code string) (bool, error) {
	stored, err := i.store.GetActiveOTP(ctx, email, code)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stored.Expired(i.now()) {
		return false, nil
	}
	if err := i.store.MarkOTPVerified(ctx, stored.ID); err != nil {
		return false, err
	}
	return true, nil
}

// Resend is a full replace: the prior code is discarded, not extended.
func (i *Issuer) Resend(ctx context.Context, email string) error {
	return i.Generate(ctx, email)
}
