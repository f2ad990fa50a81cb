package search

import (
	"context"
	"fmt"
	"log"

	"inkwell/api/internal/richtext"
	"inkwell/api/internal/store"
)

// SyncStatus classifies the outcome of one reconcile attempt.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncSkipped SyncStatus = "skipped"
	SyncFailed  SyncStatus = "failed"
	SyncDeleted SyncStatus = "deleted"
)

// Skip reasons reported in Outcome.Reason.
const (
	SkipFeatureDisabled   = "feature-disabled"
	SkipDocumentArchived  = "document-archived"
	SkipBelowMinimumWords = "below-minimum-word-count"
	SkipContentUnchanged  = "content-unchanged"
)

// Outcome reports what one reconcile attempt did. Failures are carried as
// data; Reconcile never panics into the caller.
type Outcome struct {
	DocumentID string     `json:"documentId"`
	Status     SyncStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	RemoteID   string     `json:"remoteId,omitempty"`
	Err        error      `json:"-"`
}

type documentSource interface {
	GetDocumentAnyState(ctx context.Context, id, ownerID string) (store.Document, error)
	SetDocumentSyncState(ctx context.Context, id, remoteID, fingerprint string) error
	ClearDocumentSyncState(ctx context.Context, id string) error
}

// Reconciler pushes document content into the semantic index with
// fingerprint-based change detection. There is no per-document lock:
// concurrent reconciles of unchanged content are tolerated as redundant
// idempotent upserts keyed by the stable remote id.
type Reconciler struct {
	source   documentSource
	indexer  Indexer
	minWords int
}

// NewReconciler creates a reconciler. indexer may be nil when the semantic
// index integration is not configured; every reconcile then reports a
// feature-disabled skip.
func NewReconciler(source documentSource, indexer Indexer, minWords int) *Reconciler {
	return &Reconciler{source: source, indexer: indexer, minWords: minWords}
}

// Enabled reports whether the integration is configured at all.
func (r *Reconciler) Enabled() bool {
	return r.indexer != nil
}

// Reconcile brings the index up to date for one document. Archived
// documents are skipped; use ReconcileArchived to force-sync one.
func (r *Reconciler) Reconcile(ctx context.Context, documentID, ownerID string) Outcome {
	return r.reconcile(ctx, documentID, ownerID, false)
}

// ReconcileArchived syncs a document even when it is archived, for callers
// that explicitly want archived content searchable.
func (r *Reconciler) ReconcileArchived(ctx context.Context, documentID, ownerID string) Outcome {
	return r.reconcile(ctx, documentID, ownerID, true)
}

func (r *Reconciler) reconcile(ctx context.Context, documentID, ownerID string, includeArchived bool) Outcome {
	if r.indexer == nil {
		return Outcome{DocumentID: documentID, Status: SyncSkipped, Reason: SkipFeatureDisabled}
	}

	doc, err := r.source.GetDocumentAnyState(ctx, documentID, ownerID)
	if err != nil {
		return r.failure(documentID, fmt.Errorf("load document: %w", err))
	}
	if doc.Archived && !includeArchived {
		return Outcome{DocumentID: documentID, Status: SyncSkipped, Reason: SkipDocumentArchived}
	}
	if doc.WordCount < r.minWords {
		return Outcome{DocumentID: documentID, Status: SyncSkipped, Reason: SkipBelowMinimumWords}
	}

	fingerprint := syncFingerprint(doc.Title, doc.DerivedText)
	if doc.IndexRemoteID != nil && doc.IndexFingerprint != nil && *doc.IndexFingerprint == fingerprint {
		return Outcome{DocumentID: documentID, Status: SyncSkipped, Reason: SkipContentUnchanged, RemoteID: *doc.IndexRemoteID}
	}

	remoteID := StableKey(doc.ID)
	if err := r.indexer.UpsertDocument(DocumentRecord{
		RemoteID: remoteID,
		OwnerID:  doc.OwnerID,
		Title:    doc.Title,
		Body:     doc.DerivedText,
	}); err != nil {
		// Previous remote id and fingerprint stay untouched: stale but valid.
		return r.failure(documentID, fmt.Errorf("upsert: %w", err))
	}

	if err := r.source.SetDocumentSyncState(ctx, doc.ID, remoteID, fingerprint); err != nil {
		// The remote write landed; the next reconcile will redo the upsert
		// and converge on the same stable key.
		return r.failure(documentID, fmt.Errorf("record sync state: %w", err))
	}

	return Outcome{DocumentID: documentID, Status: SyncSynced, RemoteID: remoteID}
}

// ReconcileMany processes each id independently; one failure never aborts
// the rest.
func (r *Reconciler) ReconcileMany(ctx context.Context, documentIDs []string, ownerID string) []Outcome {
	outcomes := make([]Outcome, 0, len(documentIDs))
	for _, id := range documentIDs {
		outcomes = append(outcomes, r.Reconcile(ctx, id, ownerID))
	}
	return outcomes
}

// HandleArchive removes an archived document from the index, best effort.
// Failures are reported in the Outcome for logging but must never surface
// to the caller of archive.
func (r *Reconciler) HandleArchive(ctx context.Context, documentID, ownerID string) Outcome {
	if r.indexer == nil {
		return Outcome{DocumentID: documentID, Status: SyncSkipped, Reason: SkipFeatureDisabled}
	}

	doc, err := r.source.GetDocumentAnyState(ctx, documentID, ownerID)
	if err != nil {
		return r.failure(documentID, fmt.Errorf("load document: %w", err))
	}
	if doc.IndexRemoteID == nil {
		return Outcome{DocumentID: documentID, Status: SyncSkipped, Reason: "never-synced"}
	}

	if err := r.indexer.DeleteDocument(*doc.IndexRemoteID); err != nil {
		// Leave the sync fields as-is; a later archive pass can retry.
		return r.failure(documentID, fmt.Errorf("delete: %w", err))
	}
	if err := r.source.ClearDocumentSyncState(ctx, doc.ID); err != nil {
		return r.failure(documentID, fmt.Errorf("clear sync state: %w", err))
	}
	return Outcome{DocumentID: documentID, Status: SyncDeleted}
}

// syncFingerprint covers everything the index record carries, so a rename
// without a content change still resyncs. The NUL separator keeps
// title/body boundaries unambiguous.
func syncFingerprint(title, derivedText string) string {
	return richtext.Fingerprint(title + "\x00" + derivedText)
}

func (r *Reconciler) failure(documentID string, err error) Outcome {
	log.Printf("search: reconcile %s: %v", documentID, err)
	return Outcome{DocumentID: documentID, Status: SyncFailed, Err: err}
}
