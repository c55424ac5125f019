package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// Logger writes append-only audit entries.
type Logger struct {
	store storage.Store
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.Store) *Logger {
	return &Logger{store: store}
}

// Entry builds a ready-to-persist audit entry. Secret values must NEVER
// be passed in detail — only metadata.
func Entry(handle string, action models.AuditAction, resourceType, resourceID, detail string) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		ID:           uuid.NewString(),
		Handle:       handle,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Detail:       detail,
		Timestamp:    time.Now().UTC(),
	}
}

// Record writes an entry outside of any mutation transaction (reads,
// exports). Fire and forget — audit failures do not break request flow.
func (l *Logger) Record(ctx context.Context, handle string, action models.AuditAction, resourceType, resourceID, detail string) {
	_ = l.store.WriteAuditEntry(ctx, Entry(handle, action, resourceType, resourceID, detail))
}

// ByAccount retrieves an account's audit trail, most recent first.
func (l *Logger) ByAccount(ctx context.Context, handle string, limit int) ([]*models.AuditLogEntry, error) {
	return l.store.ListAuditByHandle(ctx, handle, limit)
}
