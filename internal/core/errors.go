// Package core holds the business-rule error taxonomy shared across the
// vault, guard, OTP, and account services. Storage-level sentinels
// (not-found, already-exists) live in internal/storage; tamper detection
// lives in internal/crypto.
package core

import "errors"

// ErrPermissionDenied is returned when an account operates on a record it
// does not own.
var ErrPermissionDenied = errors.New("permission denied")

// ErrInvalidCredential is returned on a password mismatch: at login, at
// export confirmation, or at change-password.
var ErrInvalidCredential = errors.New("invalid credential")

// ErrLocked is returned when login is attempted against a locked account.
var ErrLocked = errors.New("account is locked")

// ErrExpiredOrInvalidCode is returned when OTP validation fails. Expiry
// and wrong-code are deliberately collapsed into one signal so callers
// cannot tell which caused the rejection.
var ErrExpiredOrInvalidCode = errors.New("expired or invalid code")

// ErrInvalidInput is returned when a request fails field validation
// before it reaches storage.
var ErrInvalidInput = errors.New("invalid input")
