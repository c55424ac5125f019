package models

import "time"

// Account is a registered vault user.
type Account struct {
	ID                  string
	Handle              string
	Email               string
	Phone               string // optional; unique when set
	PasswordHash        string
	EmailVerified       bool
	FailedLoginAttempts int
	Locked              bool
	LockUntil           *time.Time
	LastLoginAt         *time.Time
	Preferences         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LockExpired reports whether a held lock has passed its deadline.
// A locked account always carries a non-nil LockUntil.
func (a *Account) LockExpired(now time.Time) bool {
	return a.Locked && a.LockUntil != nil && a.LockUntil.Before(now)
}
