package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/passvault/pkg/models"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// --- Accounts ---

const accountColumns = `id, handle, email, phone, password_hash, email_verified,
	failed_login_attempts, locked, lock_until, last_login_at, preferences,
	created_at, updated_at`

func (p *PostgresStore) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1::uuid`, id)
	return scanAccount(row)
}

func (p *PostgresStore) GetAccountByHandle(ctx context.Context, handle string) (*models.Account, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE handle = $1`, handle)
	return scanAccount(row)
}

func (p *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

func (p *PostgresStore) GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, phone)
	return scanAccount(row)
}

func (p *PostgresStore) AccountExistsByHandle(ctx context.Context, handle string) (bool, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE handle = $1`, handle).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *PostgresStore) SaveAccount(ctx context.Context, a *models.Account) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO accounts (id, handle, email, phone, password_hash, email_verified,
		                       failed_login_attempts, locked, lock_until, last_login_at,
		                       preferences, created_at, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET handle = EXCLUDED.handle,
		     email = EXCLUDED.email,
		     phone = EXCLUDED.phone,
		     password_hash = EXCLUDED.password_hash,
		     email_verified = EXCLUDED.email_verified,
		     failed_login_attempts = EXCLUDED.failed_login_attempts,
		     locked = EXCLUDED.locked,
		     lock_until = EXCLUDED.lock_until,
		     last_login_at = EXCLUDED.last_login_at,
		     preferences = EXCLUDED.preferences,
		     updated_at = NOW()`,
		a.ID, a.Handle, a.Email, nullableStr(a.Phone), a.PasswordHash, a.EmailVerified,
		a.FailedLoginAttempts, a.Locked, a.LockUntil, a.LastLoginAt,
		a.Preferences, a.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	var phone *string
	err := row.Scan(&a.ID, &a.Handle, &a.Email, &phone, &a.PasswordHash, &a.EmailVerified,
		&a.FailedLoginAttempts, &a.Locked, &a.LockUntil, &a.LastLoginAt, &a.Preferences,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if phone != nil {
		a.Phone = *phone
	}
	return &a, nil
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Secrets ---

const secretColumns = `id, owner_id, name, encrypted_value, tags, metadata,
	side_email, side_username, created_at, updated_at`

func (p *PostgresStore) GetSecret(ctx context.Context, id string) (*models.SecretRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+secretColumns+` FROM secrets WHERE id = $1::uuid`, id)
	return scanSecret(row)
}

func (p *PostgresStore) ListSecretsByOwner(ctx context.Context, ownerID string) ([]*models.SecretRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+secretColumns+` FROM secrets WHERE owner_id = $1::uuid`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.SecretRecord
	for rows.Next() {
		rec, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanSecret(row pgx.Row) (*models.SecretRecord, error) {
	var rec models.SecretRecord
	var metaJSON []byte
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &rec.EncryptedValue, &rec.Tags,
		&metaJSON, &rec.SideEmail, &rec.SideUsername, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decoding secret metadata: %w", err)
	}
	return &rec, nil
}

func (p *PostgresStore) CreateSecret(ctx context.Context, rec *models.SecretRecord, hist *models.SecretHistoryEntry, entry *models.AuditLogEntry) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		if err := insertSecret(ctx, tx, rec); err != nil {
			return fmt.Errorf("inserting secret: %w", err)
		}
		if err := insertHistory(ctx, tx, hist); err != nil {
			return fmt.Errorf("inserting history entry: %w", err)
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (p *PostgresStore) UpdateSecret(ctx context.Context, rec *models.SecretRecord, hist *models.SecretHistoryEntry, entry *models.AuditLogEntry) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		metaJSON, err := json.Marshal(rec.Metadata)
		if err != nil {
			return err
		}
		ct, err := tx.Exec(ctx,
			`UPDATE secrets
			 SET name = $2, encrypted_value = $3, tags = $4, metadata = $5,
			     side_email = $6, side_username = $7, updated_at = $8
			 WHERE id = $1::uuid`,
			rec.ID, rec.Name, rec.EncryptedValue, rec.Tags, metaJSON,
			rec.SideEmail, rec.SideUsername, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("updating secret: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrNotFound
		}
		if err := insertHistory(ctx, tx, hist); err != nil {
			return fmt.Errorf("inserting history entry: %w", err)
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (p *PostgresStore) DeleteSecret(ctx context.Context, id string, entry *models.AuditLogEntry) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		// History rows first, so the record delete never dangles.
		if _, err := tx.Exec(ctx,
			`DELETE FROM secret_history WHERE secret_id = $1::uuid`, id); err != nil {
			return fmt.Errorf("deleting history entries: %w", err)
		}
		ct, err := tx.Exec(ctx, `DELETE FROM secrets WHERE id = $1::uuid`, id)
		if err != nil {
			return fmt.Errorf("deleting secret: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrNotFound
		}
		return insertAudit(ctx, tx, entry)
	})
}

func insertSecret(ctx context.Context, tx pgx.Tx, rec *models.SecretRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO secrets (id, owner_id, name, encrypted_value, tags, metadata,
		                      side_email, side_username, created_at, updated_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.OwnerID, rec.Name, rec.EncryptedValue, rec.Tags, metaJSON,
		rec.SideEmail, rec.SideUsername, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func insertHistory(ctx context.Context, tx pgx.Tx, hist *models.SecretHistoryEntry) error {
	var prevJSON []byte
	if hist.Previous != nil {
		var err error
		prevJSON, err = json.Marshal(hist.Previous)
		if err != nil {
			return err
		}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO secret_history (id, secret_id, actor_id, change_kind, previous_state, created_at)
		 VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6)`,
		hist.ID, hist.SecretID, hist.ActorID, string(hist.Kind), prevJSON, hist.CreatedAt)
	return err
}

func insertAudit(ctx context.Context, tx pgx.Tx, entry *models.AuditLogEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO audit_log (id, handle, action, resource_type, resource_id, detail, timestamp)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Handle, string(entry.Action), entry.ResourceType,
		entry.ResourceID, entry.Detail, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- History ---

func (p *PostgresStore) ListSecretHistory(ctx context.Context, secretID string) ([]*models.SecretHistoryEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, secret_id, actor_id, change_kind, previous_state, created_at
		 FROM secret_history WHERE secret_id = $1::uuid
		 ORDER BY created_at DESC`,
		secretID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.SecretHistoryEntry
	for rows.Next() {
		var h models.SecretHistoryEntry
		var kind string
		var prevJSON []byte
		if err := rows.Scan(&h.ID, &h.SecretID, &h.ActorID, &kind, &prevJSON, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Kind = models.ChangeKind(kind)
		if len(prevJSON) > 0 {
			if err := json.Unmarshal(prevJSON, &h.Previous); err != nil {
				return nil, fmt.Errorf("decoding history snapshot: %w", err)
			}
		}
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}

// --- OTP codes ---

func (p *PostgresStore) ReplaceOTP(ctx context.Context, code *models.OTPCode) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM otp_codes WHERE email = $1`, code.Email); err != nil {
			return fmt.Errorf("deleting prior codes: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO otp_codes (id, email, code, verified, created_at, expires_at)
			 VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
			code.ID, code.Email, code.Code, code.Verified, code.CreatedAt, code.ExpiresAt)
		return err
	})
}

func (p *PostgresStore) GetActiveOTP(ctx context.Context, email, code string) (*models.OTPCode, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, email, code, verified, created_at, expires_at
		 FROM otp_codes WHERE email = $1 AND code = $2 AND verified = FALSE`,
		email, code)
	return scanOTP(row)
}

func (p *PostgresStore) GetLatestOTP(ctx context.Context, email string) (*models.OTPCode, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, email, code, verified, created_at, expires_at
		 FROM otp_codes WHERE email = $1
		 ORDER BY created_at DESC LIMIT 1`,
		email)
	return scanOTP(row)
}

func scanOTP(row pgx.Row) (*models.OTPCode, error) {
	var o models.OTPCode
	err := row.Scan(&o.ID, &o.Email, &o.Code, &o.Verified, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (p *PostgresStore) MarkOTPVerified(ctx context.Context, id string) error {
	ct, err := p.pool.Exec(ctx,
		`UPDATE otp_codes SET verified = TRUE WHERE id = $1::uuid`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Shares ---

func (p *PostgresStore) SaveSecretShare(ctx context.Context, share *models.SecretShare) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO secret_shares (id, secret_id, shared_with, permission, created_at)
		 VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5)`,
		share.ID, share.SecretID, share.SharedWithID, share.Permission, share.CreatedAt)
	return err
}

// --- Audit ---

func (p *PostgresStore) WriteAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		return insertAudit(ctx, tx, entry)
	})
}

func (p *PostgresStore) ListAuditByHandle(ctx context.Context, handle string, limit int) ([]*models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, handle, action, resource_type, resource_id, detail, timestamp
		 FROM audit_log WHERE handle = $1
		 ORDER BY timestamp DESC LIMIT $2`,
		handle, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var action string
		if err := rows.Scan(&e.ID, &e.Handle, &action, &e.ResourceType, &e.ResourceID,
			&e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = models.AuditAction(action)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Metrics ---

func (p *PostgresStore) CountSecrets(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM secrets`).Scan(&count)
	return count, err
}

func (p *PostgresStore) CountLockedAccounts(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE locked = TRUE AND lock_until > NOW()`).Scan(&count)
	return count, err
}
