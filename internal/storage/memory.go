package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/org/passvault/pkg/models"
)

// MemoryStore is an in-process Store used for dev mode and tests. All
// methods copy on the way in and out, so callers must Save to persist a
// mutation, matching the database-backed behavior.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	secrets  map[string]*models.SecretRecord
	history  map[string][]*models.SecretHistoryEntry // secret ID → entries, insertion order
	otps     map[string][]*models.OTPCode            // email → codes, insertion order
	shares   []*models.SecretShare
	audit    []*models.AuditLogEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]*models.Account{},
		secrets:  map[string]*models.SecretRecord{},
		history:  map[string][]*models.SecretHistoryEntry{},
		otps:     map[string][]*models.OTPCode{},
	}
}

func (m *MemoryStore) Close() {}

// --- Accounts ---

func (m *MemoryStore) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		return cloneAccount(a), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetAccountByHandle(ctx context.Context, handle string) (*models.Account, error) {
	return m.findAccount(func(a *models.Account) bool { return a.Handle == handle })
}

func (m *MemoryStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return m.findAccount(func(a *models.Account) bool { return a.Email == email })
}

func (m *MemoryStore) GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	return m.findAccount(func(a *models.Account) bool { return a.Phone != "" && a.Phone == phone })
}

func (m *MemoryStore) findAccount(match func(*models.Account) bool) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if match(a) {
			return cloneAccount(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) AccountExistsByHandle(ctx context.Context, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Handle == handle {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SaveAccount(ctx context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.accounts {
		if other.ID == account.ID {
			continue
		}
		if other.Handle == account.Handle || other.Email == account.Email ||
			(account.Phone != "" && other.Phone == account.Phone) {
			return ErrAlreadyExists
		}
	}
	m.accounts[account.ID] = cloneAccount(account)
	return nil
}

// --- Secrets ---

func (m *MemoryStore) GetSecret(ctx context.Context, id string) (*models.SecretRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.secrets[id]; ok {
		return cloneSecret(rec), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListSecretsByOwner(ctx context.Context, ownerID string) ([]*models.SecretRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []*models.SecretRecord
	for _, rec := range m.secrets {
		if rec.OwnerID == ownerID {
			records = append(records, cloneSecret(rec))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func (m *MemoryStore) CreateSecret(ctx context.Context, rec *models.SecretRecord, hist *models.SecretHistoryEntry, entry *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[rec.ID] = cloneSecret(rec)
	m.history[rec.ID] = append(m.history[rec.ID], cloneHistory(hist))
	m.audit = append(m.audit, cloneAudit(entry))
	return nil
}

func (m *MemoryStore) UpdateSecret(ctx context.Context, rec *models.SecretRecord, hist *models.SecretHistoryEntry, entry *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[rec.ID]; !ok {
		return ErrNotFound
	}
	m.secrets[rec.ID] = cloneSecret(rec)
	m.history[rec.ID] = append(m.history[rec.ID], cloneHistory(hist))
	m.audit = append(m.audit, cloneAudit(entry))
	return nil
}

func (m *MemoryStore) DeleteSecret(ctx context.Context, id string, entry *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[id]; !ok {
		return ErrNotFound
	}
	delete(m.history, id)
	delete(m.secrets, id)
	m.audit = append(m.audit, cloneAudit(entry))
	return nil
}

// --- History ---

func (m *MemoryStore) ListSecretHistory(ctx context.Context, secretID string) ([]*models.SecretHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[secretID]
	// Most recent first.
	out := make([]*models.SecretHistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, cloneHistory(entries[i]))
	}
	return out, nil
}

// --- OTP codes ---

func (m *MemoryStore) ReplaceOTP(ctx context.Context, code *models.OTPCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps[code.Email] = []*models.OTPCode{cloneOTP(code)}
	return nil
}

func (m *MemoryStore) GetActiveOTP(ctx context.Context, email, code string) (*models.OTPCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.otps[email] {
		if o.Code == code && !o.Verified {
			return cloneOTP(o), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetLatestOTP(ctx context.Context, email string) (*models.OTPCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.otps[email]
	if len(codes) == 0 {
		return nil, ErrNotFound
	}
	return cloneOTP(codes[len(codes)-1]), nil
}

func (m *MemoryStore) MarkOTPVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, codes := range m.otps {
		for _, o := range codes {
			if o.ID == id {
				o.Verified = true
				return nil
			}
		}
	}
	return ErrNotFound
}

// --- Shares ---

func (m *MemoryStore) SaveSecretShare(ctx context.Context, share *models.SecretShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *share
	m.shares = append(m.shares, &s)
	return nil
}

// --- Audit ---

func (m *MemoryStore) WriteAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, cloneAudit(entry))
	return nil
}

func (m *MemoryStore) ListAuditByHandle(ctx context.Context, handle string, limit int) ([]*models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var entries []*models.AuditLogEntry
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		if m.audit[i].Handle == handle {
			entries = append(entries, cloneAudit(m.audit[i]))
		}
	}
	return entries, nil
}

// --- Metrics ---

func (m *MemoryStore) CountSecrets(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.secrets)), nil
}

func (m *MemoryStore) CountLockedAccounts(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, a := range m.accounts {
		if a.Locked {
			count++
		}
	}
	return count, nil
}

// --- clone helpers ---

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func cloneSecret(rec *models.SecretRecord) *models.SecretRecord {
	c := *rec
	c.Tags = append([]string(nil), rec.Tags...)
	if rec.Metadata != nil {
		c.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneHistory(h *models.SecretHistoryEntry) *models.SecretHistoryEntry {
	c := *h
	if h.Previous != nil {
		snap := *h.Previous
		snap.Tags = append([]string(nil), h.Previous.Tags...)
		if h.Previous.Metadata != nil {
			snap.Metadata = make(map[string]string, len(h.Previous.Metadata))
			for k, v := range h.Previous.Metadata {
				snap.Metadata[k] = v
			}
		}
		c.Previous = &snap
	}
	return &c
}

func cloneOTP(o *models.OTPCode) *models.OTPCode {
	c := *o
	return &c
}

func cloneAudit(e *models.AuditLogEntry) *models.AuditLogEntry {
	c := *e
	return &c
}
