// Package vault implements the secret lifecycle: encrypted storage,
// ownership enforcement, and the append-only change history that every
// mutation leaves behind.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/passvault/internal/audit"
	"github.com/org/passvault/internal/core"
	"github.com/org/passvault/internal/crypto"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

const resourceSecret = "secret"

// decryptFailedPlaceholder stands in for a prior value that can no longer
// be decrypted, so the history write never blocks the mutation itself.
const decryptFailedPlaceholder = "[unrecoverable: decryption failed]"

// Vault owns all reads and writes of secret records. Every operation takes
// the authenticated principal and refuses to touch records owned by
// anyone else.
type Vault struct {
	store   storage.Store
	cipher  *crypto.Cipher
	auditor *audit.Logger
	now     func() time.Time
}

// New creates a Vault.
func New(store storage.Store, cipher *crypto.Cipher, auditor *audit.Logger) *Vault {
	return &Vault{store: store, cipher: cipher, auditor: auditor, now: time.Now}
}

// CreateParams carries the fields of a new secret. Value is plaintext and
// is encrypted before it touches storage.
type CreateParams struct {
	Name         string
	Value        string
	Tags         []string
	Metadata     map[string]string
	SideEmail    string
	SideUsername string
}

// UpdateParams is a partial update. Nil pointer and nil map/slice fields
// are left untouched; non-nil fields overwrite, including empty maps and
// slices, which clear the stored value.
type UpdateParams struct {
	Name         *string
	Value        *string
	SideEmail    *string
	SideUsername *string
	Tags         []string
	Metadata     map[string]string
}

// resolveOwned loads a record and enforces ownership. A record owned by
// someone else is a permission error, not a not-found, matching the
// authorization model everywhere else in the service.
func (v *Vault) resolveOwned(ctx context.Context, principal *models.Account, id string) (*models.SecretRecord, error) {
	rec, err := v.store.GetSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != principal.ID {
		return nil, core.ErrPermissionDenied
	}
	return rec, nil
}

// snapshot captures a record's current state for a history entry. The
// prior value is stored decrypted; a record that no longer decrypts gets
// a placeholder instead of blocking the mutation.
func (v *Vault) snapshot(rec *models.SecretRecord) *models.SecretSnapshot {
	value := decryptFailedPlaceholder
	plain, err := v.cipher.Decrypt(rec.EncryptedValue)
	if err != nil {
		log.Warn().Str("secret_id", rec.ID).Msg("snapshot: prior value does not decrypt")
	} else {
		value = string(plain)
	}
	return &models.SecretSnapshot{
		Name:         rec.Name,
		Value:        value,
		SideEmail:    rec.SideEmail,
		SideUsername: rec.SideUsername,
		Tags:         rec.Tags,
		Metadata:     rec.Metadata,
	}
}

// Create encrypts and stores a new secret. The record, its CREATE history
// entry, and the audit entry land in one transaction.
func (v *Vault) Create(ctx context.Context, principal *models.Account, p CreateParams) (*models.SecretRecord, error) {
	blob, err := v.cipher.Encrypt([]byte(p.Value))
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}
	now := v.now().UTC()
	rec := &models.SecretRecord{
		ID:             uuid.NewString(),
		OwnerID:        principal.ID,
		Name:           p.Name,
		EncryptedValue: blob,
		Tags:           p.Tags,
		Metadata:       p.Metadata,
		SideEmail:      p.SideEmail,
		SideUsername:   p.SideUsername,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	hist := &models.SecretHistoryEntry{
		ID:        uuid.NewString(),
		SecretID:  rec.ID,
		ActorID:   principal.ID,
		Kind:      models.ChangeCreate,
		CreatedAt: now,
	}
	entry := audit.Entry(principal.Handle, models.ActionCreate, resourceSecret, rec.ID, "name="+rec.Name)
	if err := v.store.CreateSecret(ctx, rec, hist, entry); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies a partial update. The pre-mutation state, prior value
// decrypted, is snapshotted into an UPDATE history entry first.
func (v *Vault) Update(ctx context.Context, principal *models.Account, id string, p UpdateParams) (*models.SecretRecord, error) {
	rec, err := v.resolveOwned(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	hist := &models.SecretHistoryEntry{
		ID:        uuid.NewString(),
		SecretID:  rec.ID,
		ActorID:   principal.ID,
		Kind:      models.ChangeUpdate,
		Previous:  v.snapshot(rec),
		CreatedAt: v.now().UTC(),
	}

	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Value != nil {
		blob, err := v.cipher.Encrypt([]byte(*p.Value))
		if err != nil {
			return nil, fmt.Errorf("encrypt secret: %w", err)
		}
		rec.EncryptedValue = blob
	}
	if p.SideEmail != nil {
		rec.SideEmail = *p.SideEmail
	}
	if p.SideUsername != nil {
		rec.SideUsername = *p.SideUsername
	}
	if p.Tags != nil {
		rec.Tags = p.Tags
	}
	if p.Metadata != nil {
		rec.Metadata = p.Metadata
	}
	rec.UpdatedAt = v.now().UTC()

	entry := audit.Entry(principal.Handle, models.ActionUpdate, resourceSecret, rec.ID, "name="+rec.Name)
	if err := v.store.UpdateSecret(ctx, rec, hist, entry); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a secret together with its entire history.
func (v *Vault) Delete(ctx context.Context, principal *models.Account, id string) error {
	rec, err := v.resolveOwned(ctx, principal, id)
	if err != nil {
		return err
	}
	entry := audit.Entry(principal.Handle, models.ActionDelete, resourceSecret, rec.ID, "name="+rec.Name)
	return v.store.DeleteSecret(ctx, rec.ID, entry)
}

// Get returns a single owned record. The value stays encrypted.
func (v *Vault) Get(ctx context.Context, principal *models.Account, id string) (*models.SecretRecord, error) {
	return v.resolveOwned(ctx, principal, id)
}

// ListMine returns all of the principal's records, values still encrypted.
func (v *Vault) ListMine(ctx context.Context, principal *models.Account) ([]*models.SecretRecord, error) {
	return v.store.ListSecretsByOwner(ctx, principal.ID)
}

// GetDecryptedValue reveals one secret's plaintext. Every reveal is
// audited.
func (v *Vault) GetDecryptedValue(ctx context.Context, principal *models.Account, id string) (string, error) {
	rec, err := v.resolveOwned(ctx, principal, id)
	if err != nil {
		return "", err
	}
	plain, err := v.cipher.Decrypt(rec.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("decrypt secret %s: %w", rec.ID, err)
	}
	v.auditor.Record(ctx, principal.Handle, models.ActionRead, resourceSecret, rec.ID, "name="+rec.Name)
	return string(plain), nil
}

// GetHistory returns a secret's change history, most recent first.
func (v *Vault) GetHistory(ctx context.Context, principal *models.Account, id string) ([]*models.SecretHistoryEntry, error) {
	if _, err := v.resolveOwned(ctx, principal, id); err != nil {
		return nil, err
	}
	return v.store.ListSecretHistory(ctx, id)
}

// Share records an intent to share a secret with another account. The
// share grants no access anywhere yet; only the relation and the audit
// trail are written.
func (v *Vault) Share(ctx context.Context, principal *models.Account, id, targetHandle, permission string) (*models.SecretShare, error) {
	rec, err := v.resolveOwned(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	switch permission {
	case "":
		permission = "READ"
	case "READ", "WRITE":
	default:
		return nil, fmt.Errorf("%w: share permission %q", core.ErrInvalidInput, permission)
	}
	target, err := v.store.GetAccountByHandle(ctx, targetHandle)
	if err != nil {
		return nil, err
	}
	share := &models.SecretShare{
		ID:           uuid.NewString(),
		SecretID:     rec.ID,
		SharedWithID: target.ID,
		Permission:   permission,
		CreatedAt:    v.now().UTC(),
	}
	if err := v.store.SaveSecretShare(ctx, share); err != nil {
		return nil, err
	}
	v.auditor.Record(ctx, principal.Handle, models.ActionShare, resourceSecret, rec.ID,
		fmt.Sprintf("shared with %s (%s)", target.Handle, permission))
	return share, nil
}
