// Package guard enforces the per-account brute-force lockout: five failed
// logins lock an account for an hour. A lock expires lazily, observed and
// cleared by the next IsLocked call rather than by a background sweep.
package guard

import (
	"context"
	"time"

	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// MaxFailedAttempts is the failure count at which an account locks.
const MaxFailedAttempts = 5

// LockDuration is how long a lock holds once set.
const LockDuration = time.Hour

// Guard tracks failed authentication attempts and enforces lockout.
//
// The read-modify-write of the failure counter is intentionally not
// serialized against concurrent logins for the same account; a lost
// update undercounts attempts and nothing worse.
type Guard struct {
	store storage.Store
	now   func() time.Time
}

// New creates a Guard.
func New(store storage.Store) *Guard {
	return &Guard{store: store, now: time.Now}
}

// OnFailedLogin increments the account's failure counter, locking the
// account for LockDuration when it reaches MaxFailedAttempts. Calls
// against an already-locked account are no-ops: the deadline never
// extends.
func (g *Guard) OnFailedLogin(ctx context.Context, account *models.Account) error {
	if account.Locked {
		return nil
	}
	account.FailedLoginAttempts++
	if account.FailedLoginAttempts >= MaxFailedAttempts {
		until := g.now().Add(LockDuration)
		account.Locked = true
		account.LockUntil = &until
	}
	return g.store.SaveAccount(ctx, account)
}

// OnSuccessfulLogin clears the counter and any lock, and stamps the
// last-login time. Callers must have checked IsLocked and verified the
// credential before reaching this.
func (g *Guard) OnSuccessfulLogin(ctx context.Context, account *models.Account) error {
	account.FailedLoginAttempts = 0
	account.Locked = false
	account.LockUntil = nil
	now := g.now()
	account.LastLoginAt = &now
	return g.store.SaveAccount(ctx, account)
}

// IsLocked reports whether the account is currently locked. An expired
// lock is cleared in place — counter reset, lock removed, account saved —
// and transitioned reports that this read mutated state. Not a pure
// query.
func (g *Guard) IsLocked(ctx context.Context, account *models.Account) (locked, transitioned bool, err error) {
	if !account.Locked {
		return false, false, nil
	}
	if account.LockExpired(g.now()) {
		account.Locked = false
		account.LockUntil = nil
		account.FailedLoginAttempts = 0
		if err := g.store.SaveAccount(ctx, account); err != nil {
			return true, false, err
		}
		return false, true, nil
	}
	return true, false, nil
}

// Unlock is the administrative override: it unconditionally clears the
// lock and the counter.
func (g *Guard) Unlock(ctx context.Context, account *models.Account) error {
	account.Locked = false
	account.LockUntil = nil
	account.FailedLoginAttempts = 0
	return g.store.SaveAccount(ctx, account)
}
