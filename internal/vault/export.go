package vault

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/org/passvault/internal/core"
	"github.com/org/passvault/pkg/models"
)

// ExportRow is one decrypted secret in a full-vault export.
type ExportRow struct {
	Name         string
	SideUsername string
	SideEmail    string
	Value        string
	Tags         []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExportAll decrypts every secret the principal owns. The caller must
// re-confirm the account password; a Bearer token alone is not enough to
// bulk-reveal a vault. Records that fail to decrypt are skipped and
// logged rather than failing the whole export.
func (v *Vault) ExportAll(ctx context.Context, principal *models.Account, confirmationPassword string) ([]ExportRow, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(confirmationPassword)); err != nil {
		return nil, core.ErrInvalidCredential
	}
	recs, err := v.store.ListSecretsByOwner(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	rows := make([]ExportRow, 0, len(recs))
	for _, rec := range recs {
		plain, err := v.cipher.Decrypt(rec.EncryptedValue)
		if err != nil {
			log.Warn().Str("secret_id", rec.ID).Msg("export: record does not decrypt, skipping")
			continue
		}
		rows = append(rows, ExportRow{
			Name:         rec.Name,
			SideUsername: rec.SideUsername,
			SideEmail:    rec.SideEmail,
			Value:        string(plain),
			Tags:         rec.Tags,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		})
	}
	v.auditor.Record(ctx, principal.Handle, models.ActionExport, resourceSecret, "", "full vault export")
	return rows, nil
}
