package models

import "time"

// SecretRecord is a single named secret owned by exactly one account.
// EncryptedValue holds base64(nonce ‖ ciphertext ‖ tag) and is never
// plaintext at rest.
type SecretRecord struct {
	ID             string
	OwnerID        string
	Name           string
	EncryptedValue string
	Tags           []string // ordered, duplicates allowed
	Metadata       map[string]string
	SideEmail      string // descriptive only, not used for auth
	SideUsername   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChangeKind classifies a history entry.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "CREATE"
	ChangeUpdate ChangeKind = "UPDATE"
)

// SecretSnapshot is the pre-mutation state captured into a history entry.
// Value holds the decrypted prior value in plaintext; that is a deliberate
// product behavior, debatable as it is, and must not be silently redacted.
type SecretSnapshot struct {
	Name         string            `json:"name"`
	Value        string            `json:"value"`
	SideEmail    string            `json:"side_email,omitempty"`
	SideUsername string            `json:"side_username,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SecretHistoryEntry is an immutable record of one mutation. Entries are
// only ever created, or bulk-deleted together with their parent record.
type SecretHistoryEntry struct {
	ID        string
	SecretID  string
	ActorID   string
	Kind      ChangeKind
	Previous  *SecretSnapshot // nil for CREATE
	CreatedAt time.Time
}

// SecretShare records an intent to share a secret with another account.
// It grants no read or write capability anywhere; the relation is a stub.
type SecretShare struct {
	ID           string
	SecretID     string
	SharedWithID string
	Permission   string // "READ" or "WRITE"
	CreatedAt    time.Time
}
