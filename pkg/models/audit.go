package models

import "time"

// AuditAction tags an audit log entry.
type AuditAction string

const (
	ActionCreate AuditAction = "CREATE"
	ActionRead   AuditAction = "READ"
	ActionUpdate AuditAction = "UPDATE"
	ActionDelete AuditAction = "DELETE"
	ActionShare  AuditAction = "SHARE"
	ActionExport AuditAction = "EXPORT"
)

// AuditLogEntry is a write-only, append-only record of an action taken by
// an account. Secret values must NEVER be placed in Detail.
type AuditLogEntry struct {
	ID           string      `json:"id"`
	Handle       string      `json:"handle"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id"`
	Detail       string      `json:"detail,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}
