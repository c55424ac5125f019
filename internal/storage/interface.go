package storage

import (
	"context"
	"errors"

	"github.com/org/passvault/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a unique constraint is violated.
var ErrAlreadyExists = errors.New("already exists")

// Store defines the persistence interface for PassVault.
//
// CreateSecret, UpdateSecret, and DeleteSecret are composite mutations:
// each must apply its record write, history write, and audit write as one
// atomic transaction. ReplaceOTP must run its delete and insert in one
// transaction as well, so concurrent calls leave at most one active code.
type Store interface {
	// Accounts
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error)
	AccountExistsByHandle(ctx context.Context, handle string) (bool, error)
	SaveAccount(ctx context.Context, account *models.Account) error

	// Secrets
	GetSecret(ctx context.Context, id string) (*models.SecretRecord, error)
	ListSecretsByOwner(ctx context.Context, ownerID string) ([]*models.SecretRecord, error)
	CreateSecret(ctx context.Context, rec *models.SecretRecord, hist *models.SecretHistoryEntry, entry *models.AuditLogEntry) error
	UpdateSecret(ctx context.Context, rec *models.SecretRecord, hist *models.SecretHistoryEntry, entry *models.AuditLogEntry) error
	// DeleteSecret removes the record's history entries first, then the
	// record itself, then writes the audit entry.
	DeleteSecret(ctx context.Context, id string, entry *models.AuditLogEntry) error

	// History, ordered most-recent-first.
	ListSecretHistory(ctx context.Context, secretID string) ([]*models.SecretHistoryEntry, error)

	// OTP codes
	ReplaceOTP(ctx context.Context, code *models.OTPCode) error
	GetActiveOTP(ctx context.Context, email, code string) (*models.OTPCode, error)
	GetLatestOTP(ctx context.Context, email string) (*models.OTPCode, error)
	MarkOTPVerified(ctx context.Context, id string) error

	// Shares (stub relation; grants nothing)
	SaveSecretShare(ctx context.Context, share *models.SecretShare) error

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error
	ListAuditByHandle(ctx context.Context, handle string, limit int) ([]*models.AuditLogEntry, error)

	// Metrics helpers
	CountSecrets(ctx context.Context) (int64, error)
	CountLockedAccounts(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}
