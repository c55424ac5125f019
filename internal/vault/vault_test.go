package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/org/passvault/internal/audit"
	"github.com/org/passvault/internal/core"
	"github.com/org/passvault/internal/crypto"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

func newTestVault(t *testing.T) (*Vault, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	key := make([]byte, crypto.KeySize)
	copy(key, "0123456789abcdef0123456789abcdef")
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return New(store, cipher, audit.NewLogger(store)), store
}

func newVaultAccount(t *testing.T, store storage.Store, handle, password string) *models.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	acct := &models.Account{
		ID:           uuid.NewString(),
		Handle:       handle,
		Email:        handle + "@example.com",
		PasswordHash: string(hash),
	}
	if err := store.SaveAccount(context.Background(), acct); err != nil {
		t.Fatalf("save account: %v", err)
	}
	return acct
}

func TestCreateAndReveal(t *testing.T) {
	v, store := newTestVault(t)
	owner := newVaultAccount(t, store, "alice", "pw")
	ctx := context.Background()

	rec, err := v.Create(ctx, owner, CreateParams{
		Name:         "github",
		Value:        "s3cr3t",
		Tags:         []string{"work", "code"},
		SideUsername: "alice-dev",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.EncryptedValue == "s3cr3t" || rec.EncryptedValue == "" {
		t.Fatalf("value not encrypted at rest: %q", rec.EncryptedValue)
	}

	got, err := v.Get(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "github" || got.SideUsername != "alice-dev" {
		t.Errorf("got name=%q side=%q", got.Name, got.SideUsername)
	}

	plain, err := v.GetDecryptedValue(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if plain != "s3cr3t" {
		t.Errorf("revealed %q, want s3cr3t", plain)
	}

	// Reveals are audited.
	trail, err := store.ListAuditByHandle(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	var sawRead bool
	for _, e := range trail {
		if e.Action == models.ActionRead && e.ResourceID == rec.ID {
			sawRead = true
		}
		if e.Detail == "s3cr3t" {
			t.Error("plaintext value leaked into audit detail")
		}
	}
	if !sawRead {
		t.Error("reveal produced no READ audit entry")
	}
}

func TestUpdateCapturesPriorValueInHistory(t *testing.T) {
	v, store := newTestVault(t)
	owner := newVaultAccount(t, store, "alice", "pw")
	ctx := context.Background()

	rec, err := v.Create(ctx, owner, CreateParams{Name: "github", Value: "s3cr3t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newValue := "newpass"
	if _, err := v.Update(ctx, owner, rec.ID, UpdateParams{Value: &newValue}); err != nil {
		t.Fatalf("update: %v", err)
	}

	plain, err := v.GetDecryptedValue(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if plain != "newpass" {
		t.Errorf("revealed %q after update, want newpass", plain)
	}

	hist, err := v.GetHistory(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	// Most recent first: the UPDATE, then the CREATE.
	if hist[0].Kind != models.ChangeUpdate {
		t.Errorf("hist[0].Kind = %s, want UPDATE", hist[0].Kind)
	}
	if hist[0].Previous == nil || hist[0].Previous.Value != "s3cr3t" {
		t.Errorf("UPDATE entry prior state = %+v, want value s3cr3t", hist[0].Previous)
	}
	if hist[1].Kind != models.ChangeCreate || hist[1].Previous != nil {
		t.Errorf("CREATE entry = kind %s previous %+v, want CREATE with nil previous",
			hist[1].Kind, hist[1].Previous)
	}
}

func TestPartialUpdateSemantics(t *testing.T) {
	v, store := newTestVault(t)
	owner := newVaultAccount(t, store, "alice", "pw")
	ctx := context.Background()

	rec, err := v.Create(ctx, owner, CreateParams{
		Name:     "github",
		Value:    "s3cr3t",
		Tags:     []string{"work"},
		Metadata: map[string]string{"env": "prod"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Omitted fields stay; a present empty slice clears.
	name := "github-2"
	got, err := v.Update(ctx, owner, rec.ID, UpdateParams{
		Name: &name,
		Tags: []string{},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "github-2" {
		t.Errorf("name = %q", got.Name)
	}
	if len(got.Tags) != 0 {
		t.Errorf("tags = %v, want cleared", got.Tags)
	}
	if got.Metadata["env"] != "prod" {
		t.Errorf("metadata = %v, want untouched", got.Metadata)
	}
	plain, err := v.GetDecryptedValue(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if plain != "s3cr3t" {
		t.Errorf("value changed by unrelated update: %q", plain)
	}
}

func TestDeleteRemovesHistory(t *testing.T) {
	v, store := newTestVault(t)
	owner := newVaultAccount(t, store, "alice", "pw")
	ctx := context.Background()

	rec, err := v.Create(ctx, owner, CreateParams{Name: "github", Value: "s3cr3t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	val := "x"
	if _, err := v.Update(ctx, owner, rec.ID, UpdateParams{Value: &val}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := v.Delete(ctx, owner, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.GetSecret(ctx, rec.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("get after delete: %v, want ErrNotFound", err)
	}
	hist, err := store.ListSecretHistory(ctx, rec.ID)
	if err != nil {
		t.Fatalf("history after delete: %v", err)
	}
	if len(hist) != 0 {
		t.Errorf("%d orphaned history entries after delete", len(hist))
	}
}

func TestOwnershipEnforced(t *testing.T) {
	v, store := newTestVault(t)
	owner := newVaultAccount(t, store, "alice", "pw")
	intruder := newVaultAccount(t, store, "bob", "pw")
	ctx := context.Background()

	rec, err := v.Create(ctx, owner, CreateParams{Name: "github", Value: "s3cr3t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	name := "stolen"
	cases := []struct {
		op  string
		err error
	}{
		{"get", func() error { _, err := v.Get(ctx, intruder, rec.ID); return err }()},
		{"reveal", func() error { _, err := v.GetDecryptedValue(ctx, intruder, rec.ID); return err }()},
		{"update", func() error { _, err := v.Update(ctx, intruder, rec.ID, UpdateParams{Name: &name}); return err }()},
		{"history", func() error { _, err := v.GetHistory(ctx, intruder, rec.ID); return err }()},
		{"delete", v.Delete(ctx, intruder, rec.ID)},
		{"share", func() error { _, err := v.Share(ctx, intruder, rec.ID, "alice", "READ"); return err }()},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, core.ErrPermissionDenied) {
			t.Errorf("%s as non-owner: %v, want ErrPermissionDenied", tc.op, tc.err)
		}
	}

	// The record survived the intrusion attempts untouched.
	got, err := v.Get(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("get as owner: %v", err)
	}
	if got.Name != "github" {
		t.Errorf("name = %q after denied update", got.Name)
	}
}

func TestListMineIsScoped(t *testing.T) {
	v, store := newTestVault(t)
	alice := newVaultAccount(t, store, "alice", "pw")
	bob := newVaultAccount(t, store, "bob", "pw")
	ctx := context.Background()

	if _, err := v.Create(ctx, alice, CreateParams{Name: "a1", Value: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := v.Create(ctx, alice, CreateParams{Name: "a2", Value: "y"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := v.Create(ctx, bob, CreateParams{Name: "b1", Value: "z"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	mine, err := v.ListMine(ctx, alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("alice sees %d records, want 2", len(mine))
	}
	for _, rec := range mine {
		if rec.OwnerID != alice.ID {
			t.Errorf("foreign record %q in list", rec.Name)
		}
	}
}

func TestExportRequiresPassword(t *testing.T) {
	v, store := newTestVault(t)
	owner := newVaultAccount(t, store, "alice", "correct-horse")
	ctx := context.Background()

	if _, err := v.Create(ctx, owner, CreateParams{Name: "github", Value: "s3cr3t"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := v.ExportAll(ctx, owner, "wrong"); !errors.Is(err, core.ErrInvalidCredential) {
		t.Fatalf("export with wrong password: %v, want ErrInvalidCredential", err)
	}

	rows, err := v.ExportAll(ctx, owner, "correct-horse")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "github" || rows[0].Value != "s3cr3t" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestExportSkipsCorruptedRecords(t *testing.T) {
	v, store := newTestVault(t)
	owner := newVaultAccount(t, store, "alice", "pw")
	ctx := context.Background()

	good, err := v.Create(ctx, owner, CreateParams{Name: "good", Value: "ok"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = good

	// Plant a record whose blob no longer decrypts.
	bad := &models.SecretRecord{
		ID:             uuid.NewString(),
		OwnerID:        owner.ID,
		Name:           "bad",
		EncryptedValue: "bm90IGEgcmVhbCBibG9iIGF0IGFsbCwgc29ycnk=",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	hist := &models.SecretHistoryEntry{
		ID: uuid.NewString(), SecretID: bad.ID, ActorID: owner.ID,
		Kind: models.ChangeCreate, CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateSecret(ctx, bad, hist, audit.Entry(owner.Handle, models.ActionCreate, "secret", bad.ID, "")); err != nil {
		t.Fatalf("plant corrupted record: %v", err)
	}

	rows, err := v.ExportAll(ctx, owner, "pw")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "good" {
		t.Errorf("rows = %+v, want only the intact record", rows)
	}
}

func TestUpdateDegradesUnreadableSnapshot(t *testing.T) {
	v, store := newTestVault(t)
	owner := newVaultAccount(t, store, "alice", "pw")
	ctx := context.Background()

	// A record whose stored blob no longer decrypts can still be updated;
	// the history snapshot carries a placeholder instead of the old value.
	bad := &models.SecretRecord{
		ID:             uuid.NewString(),
		OwnerID:        owner.ID,
		Name:           "bad",
		EncryptedValue: "bm90IGEgcmVhbCBibG9iIGF0IGFsbCwgc29ycnk=",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	hist := &models.SecretHistoryEntry{
		ID: uuid.NewString(), SecretID: bad.ID, ActorID: owner.ID,
		Kind: models.ChangeCreate, CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateSecret(ctx, bad, hist, audit.Entry(owner.Handle, models.ActionCreate, "secret", bad.ID, "")); err != nil {
		t.Fatalf("plant corrupted record: %v", err)
	}

	fresh := "recovered"
	if _, err := v.Update(ctx, owner, bad.ID, UpdateParams{Value: &fresh}); err != nil {
		t.Fatalf("update over corrupted blob: %v", err)
	}

	entries, err := v.GetHistory(ctx, owner, bad.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != models.ChangeUpdate {
		t.Fatalf("history = %+v, want UPDATE then CREATE", entries)
	}
	if entries[0].Previous == nil || entries[0].Previous.Value != decryptFailedPlaceholder {
		t.Errorf("UPDATE snapshot = %+v, want placeholder value", entries[0].Previous)
	}

	// The new value took and decrypts normally.
	plain, err := v.GetDecryptedValue(ctx, owner, bad.ID)
	if err != nil {
		t.Fatalf("reveal after repair: %v", err)
	}
	if plain != "recovered" {
		t.Errorf("revealed %q, want recovered", plain)
	}
}

func TestShareIsRecordedButGrantsNothing(t *testing.T) {
	v, store := newTestVault(t)
	owner := newVaultAccount(t, store, "alice", "pw")
	friend := newVaultAccount(t, store, "bob", "pw")
	ctx := context.Background()

	rec, err := v.Create(ctx, owner, CreateParams{Name: "github", Value: "s3cr3t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	share, err := v.Share(ctx, owner, rec.ID, friend.Handle, "")
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if share.SharedWithID != friend.ID || share.Permission != "READ" {
		t.Errorf("share = %+v", share)
	}

	if _, err := v.Share(ctx, owner, rec.ID, friend.Handle, "ADMIN"); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("invalid permission: %v, want ErrInvalidInput", err)
	}
	if _, err := v.Share(ctx, owner, rec.ID, "nobody", "READ"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("share with unknown handle: %v, want ErrNotFound", err)
	}

	// The share is an intent record only.
	if _, err := v.GetDecryptedValue(ctx, friend, rec.ID); !errors.Is(err, core.ErrPermissionDenied) {
		t.Errorf("shared-with account revealed the value: %v", err)
	}
}
