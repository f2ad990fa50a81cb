// Package quota gates document mutations against per-owner ceilings and
// keeps the running usage totals accurate.
//
// Admission checks are advisory pre-flight gates, not transactional locks:
// two writers for the same owner can both pass a check and commit, briefly
// overshooting a ceiling. That race window is a deliberate availability
// tradeoff; the commit operations themselves are atomic relative adjustments
// and stay correct under concurrency.
package quota

import (
	"context"
	"fmt"
	"log"

	"inkwell/api/internal/plan"
	"inkwell/api/internal/richtext"
	"inkwell/api/internal/store"
)

type accountStore interface {
	EnsureQuotaAccount(ctx context.Context, ownerID string, defaults store.QuotaDefaults) error
	GetQuotaAccount(ctx context.Context, ownerID string) (store.QuotaAccount, error)
	ApplyQuotaDelta(ctx context.Context, ownerID string, docDelta int, byteDelta int64) (store.QuotaTotals, store.QuotaTotals, error)
}

type Ledger struct {
	store accountStore
}

func NewLedger(store accountStore) *Ledger {
	return &Ledger{store: store}
}

// Admission is the result of a pre-flight quota check. Violations lists
// every breached ceiling, not just the first.
type Admission struct {
	Allowed    bool
	Violations []string
}

// Usage is the owner-facing view of ceilings and running totals.
type Usage struct {
	MaxDocuments           int   `json:"maxDocuments"`
	MaxDocumentSizeBytes   int64 `json:"maxDocumentSizeBytes"`
	MaxDocumentPages       int   `json:"maxDocumentPages"`
	CurrentDocumentCount   int   `json:"currentDocumentCount"`
	TotalStorageUsedBytes  int64 `json:"totalStorageUsedBytes"`
	DocumentLimitRemaining int   `json:"documentLimitRemaining"`
}

// EnsureAccount lazily creates the owner's quota account with the ceilings
// of their plan. Safe to call concurrently for the same owner.
func (l *Ledger) EnsureAccount(ctx context.Context, ownerID string, p plan.Plan) error {
	limits := plan.LimitsFor(p)
	return l.store.EnsureQuotaAccount(ctx, ownerID, store.QuotaDefaults{
		Plan:                 string(p),
		MaxDocuments:         limits.MaxDocuments,
		MaxDocumentSizeBytes: limits.MaxDocumentSizeBytes,
		MaxDocumentPages:     limits.MaxDocumentPages,
	})
}

// CheckCreation admits a new document only when the owner has a free
// document slot and the proposed content fits the per-document ceilings.
func (l *Ledger) CheckCreation(ctx context.Context, ownerID string, proposed richtext.Metrics) (Admission, error) {
	account, err := l.store.GetQuotaAccount(ctx, ownerID)
	if err != nil {
		return Admission{}, fmt.Errorf("load quota account: %w", err)
	}

	var violations []string
	if account.CurrentDocumentCount >= account.MaxDocuments {
		violations = append(violations, fmt.Sprintf(
			"document limit reached (%d of %d documents used)",
			account.CurrentDocumentCount, account.MaxDocuments))
	}
	violations = append(violations, perDocumentViolations(account, proposed)...)

	return Admission{Allowed: len(violations) == 0, Violations: violations}, nil
}

// CheckUpdate applies the per-document ceilings only: an existing document
// is not a new slot, so the document-count ceiling is not consulted.
func (l *Ledger) CheckUpdate(ctx context.Context, ownerID string, proposed richtext.Metrics) (Admission, error) {
	account, err := l.store.GetQuotaAccount(ctx, ownerID)
	if err != nil {
		return Admission{}, fmt.Errorf("load quota account: %w", err)
	}
	violations := perDocumentViolations(account, proposed)
	return Admission{Allowed: len(violations) == 0, Violations: violations}, nil
}

func perDocumentViolations(account store.QuotaAccount, proposed richtext.Metrics) []string {
	var violations []string
	if proposed.SizeBytes > account.MaxDocumentSizeBytes {
		violations = append(violations, fmt.Sprintf(
			"document size %d bytes exceeds the %d byte limit",
			proposed.SizeBytes, account.MaxDocumentSizeBytes))
	}
	if proposed.PageCount > account.MaxDocumentPages {
		violations = append(violations, fmt.Sprintf(
			"document length %d pages exceeds the %d page limit",
			proposed.PageCount, account.MaxDocumentPages))
	}
	return violations
}

// CommitCreation records a committed create: one slot, sizeBytes of storage.
// Call only after the canonical document row is durable.
func (l *Ledger) CommitCreation(ctx context.Context, ownerID string, sizeBytes int64) error {
	return l.apply(ctx, ownerID, 1, sizeBytes)
}

// CommitUpdate adjusts storage by the size delta of a committed content write.
func (l *Ledger) CommitUpdate(ctx context.Context, ownerID string, oldSizeBytes, newSizeBytes int64) error {
	return l.apply(ctx, ownerID, 0, newSizeBytes-oldSizeBytes)
}

// CommitDeletion releases a document slot and its storage.
func (l *Ledger) CommitDeletion(ctx context.Context, ownerID string, sizeBytes int64) error {
	return l.apply(ctx, ownerID, -1, -sizeBytes)
}

func (l *Ledger) apply(ctx context.Context, ownerID string, docDelta int, byteDelta int64) error {
	prev, _, err := l.store.ApplyQuotaDelta(ctx, ownerID, docDelta, byteDelta)
	if err != nil {
		return err
	}

	// The zero clamp should never fire in normal operation; when it does,
	// accounting upstream has drifted and needs manual reconciliation.
	if prev.DocumentCount+docDelta < 0 {
		log.Printf("quota: document count clamped at 0 for owner %s (was %d, delta %d)",
			ownerID, prev.DocumentCount, docDelta)
	}
	if prev.StorageUsedBytes+byteDelta < 0 {
		log.Printf("quota: storage total clamped at 0 for owner %s (was %d, delta %d)",
			ownerID, prev.StorageUsedBytes, byteDelta)
	}
	return nil
}

// Usage reports ceilings and totals for the owner, creating the account
// with plan defaults when missing.
func (l *Ledger) Usage(ctx context.Context, ownerID string, p plan.Plan) (Usage, error) {
	if err := l.EnsureAccount(ctx, ownerID, p); err != nil {
		return Usage{}, err
	}
	account, err := l.store.GetQuotaAccount(ctx, ownerID)
	if err != nil {
		return Usage{}, fmt.Errorf("load quota account: %w", err)
	}

	remaining := account.MaxDocuments - account.CurrentDocumentCount
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		MaxDocuments:           account.MaxDocuments,
		MaxDocumentSizeBytes:   account.MaxDocumentSizeBytes,
		MaxDocumentPages:       account.MaxDocumentPages,
		CurrentDocumentCount:   account.CurrentDocumentCount,
		TotalStorageUsedBytes:  account.TotalStorageUsedBytes,
		DocumentLimitRemaining: remaining,
	}, nil
}
