package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                    string
	Email                 string
	DisplayName           string
	PasswordHash          string
	Plan                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Document is the canonical unit of user content. The derived fields are
// recomputed on every content write and never edited independently.
type Document struct {
	ID             string
	OwnerID        string
	Title          string
	Content        json.RawMessage
	DerivedText    string
	WordCount      int
	CharacterCount int
	PageCount      int
	SizeBytes      int64
	Archived       bool

	// Semantic index sync state. Nil until the first successful sync;
	// left untouched on transient sync failure.
	IndexRemoteID    *string
	IndexFingerprint *string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastEditedAt time.Time
}

// QuotaAccount holds per-owner ceilings and running totals. Totals are only
// ever mutated through atomic relative adjustments.
type QuotaAccount struct {
	OwnerID               string
	Plan                  string
	MaxDocuments          int
	MaxDocumentSizeBytes  int64
	MaxDocumentPages      int
	CurrentDocumentCount  int
	TotalStorageUsedBytes int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// QuotaTotals is a point-in-time view of an account's running counters.
type QuotaTotals struct {
	DocumentCount    int
	StorageUsedBytes int64
}

// DocumentVersion is an immutable snapshot appended on manual saves.
type DocumentVersion struct {
	ID             string
	DocumentID     string
	Content        json.RawMessage
	DerivedText    string
	WordCount      int
	CharacterCount int
	PageCount      int
	SizeBytes      int64
	Manual         bool
	CreatedAt      time.Time
}
