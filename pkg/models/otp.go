package models

import "time"

// OTPCode is a short-lived one-time code bound to an email address.
// At most one active (unverified, unexpired) code exists per email.
type OTPCode struct {
	ID        string
	Email     string
	Code      string // 6 digits, zero-padded
	Verified  bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the code is past its validity window.
func (o *OTPCode) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
