package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"inkwell/api/internal/store"
)

type fakeSource struct {
	docs map[string]*store.Document
}

func newFakeSource(docs ...*store.Document) *fakeSource {
	f := &fakeSource{docs: make(map[string]*store.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeSource) GetDocumentAnyState(_ context.Context, id, ownerID string) (store.Document, error) {
	doc, ok := f.docs[id]
	if !ok || doc.OwnerID != ownerID {
		return store.Document{}, sql.ErrNoRows
	}
	return *doc, nil
}

func (f *fakeSource) SetDocumentSyncState(_ context.Context, id, remoteID, fingerprint string) error {
	doc, ok := f.docs[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.IndexRemoteID = &remoteID
	doc.IndexFingerprint = &fingerprint
	return nil
}

func (f *fakeSource) ClearDocumentSyncState(_ context.Context, id string) error {
	doc, ok := f.docs[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.IndexRemoteID = nil
	doc.IndexFingerprint = nil
	return nil
}

type fakeIndexer struct {
	upserts []DocumentRecord
	deletes []string
	failing bool
}

func (f *fakeIndexer) UpsertDocument(rec DocumentRecord) error {
	if f.failing {
		return errors.New("index unavailable")
	}
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeIndexer) DeleteDocument(remoteID string) error {
	if f.failing {
		return errors.New("index unavailable")
	}
	f.deletes = append(f.deletes, remoteID)
	return nil
}

func (f *fakeIndexer) Healthy() bool { return !f.failing }

func testDoc(id, owner, text string) *store.Document {
	return &store.Document{
		ID:          id,
		OwnerID:     owner,
		Title:       "Test",
		Content:     json.RawMessage(`{"type":"doc"}`),
		DerivedText: text,
		WordCount:   len([]rune(text))/4 + 1,
	}
}

func TestReconcileFirstSync(t *testing.T) {
	doc := testDoc("doc_1", "owner_1", "hello from the editor")
	source := newFakeSource(doc)
	indexer := &fakeIndexer{}
	r := NewReconciler(source, indexer, 0)

	outcome := r.Reconcile(context.Background(), "doc_1", "owner_1")
	if outcome.Status != SyncSynced {
		t.Fatalf("status = %s (%s), want synced", outcome.Status, outcome.Reason)
	}
	if outcome.RemoteID != StableKey("doc_1") {
		t.Errorf("remote id = %q, want stable key", outcome.RemoteID)
	}
	if doc.IndexRemoteID == nil || *doc.IndexRemoteID != StableKey("doc_1") {
		t.Error("remote id not recorded on the document")
	}
	if doc.IndexFingerprint == nil || *doc.IndexFingerprint != syncFingerprint(doc.Title, doc.DerivedText) {
		t.Error("fingerprint not recorded on the document")
	}
}

func TestReconcileIdempotentOnUnchangedContent(t *testing.T) {
	doc := testDoc("doc_1", "owner_1", "unchanged body")
	source := newFakeSource(doc)
	indexer := &fakeIndexer{}
	r := NewReconciler(source, indexer, 0)
	ctx := context.Background()

	first := r.Reconcile(ctx, "doc_1", "owner_1")
	second := r.Reconcile(ctx, "doc_1", "owner_1")

	if first.Status != SyncSynced {
		t.Fatalf("first status = %s, want synced", first.Status)
	}
	if second.Status != SyncSkipped || second.Reason != SkipContentUnchanged {
		t.Fatalf("second status = %s (%s), want skipped/content-unchanged", second.Status, second.Reason)
	}
	if len(indexer.upserts) != 1 {
		t.Errorf("upsert count = %d, want exactly 1", len(indexer.upserts))
	}
}

func TestReconcileResyncsOnChange(t *testing.T) {
	doc := testDoc("doc_1", "owner_1", "first body")
	source := newFakeSource(doc)
	indexer := &fakeIndexer{}
	r := NewReconciler(source, indexer, 0)
	ctx := context.Background()

	r.Reconcile(ctx, "doc_1", "owner_1")
	doc.DerivedText = "second body"

	outcome := r.Reconcile(ctx, "doc_1", "owner_1")
	if outcome.Status != SyncSynced {
		t.Fatalf("status = %s, want synced after content change", outcome.Status)
	}
	if len(indexer.upserts) != 2 {
		t.Errorf("upsert count = %d, want 2", len(indexer.upserts))
	}
	// Both upserts target the same stable key: no duplicate remote records.
	if indexer.upserts[0].RemoteID != indexer.upserts[1].RemoteID {
		t.Error("resync used a different remote id")
	}
	if *doc.IndexFingerprint != syncFingerprint("Test", "second body") {
		t.Error("fingerprint not advanced after resync")
	}
}

func TestReconcileResyncsOnTitleRename(t *testing.T) {
	doc := testDoc("doc_1", "owner_1", "stable body")
	source := newFakeSource(doc)
	indexer := &fakeIndexer{}
	r := NewReconciler(source, indexer, 0)
	ctx := context.Background()

	r.Reconcile(ctx, "doc_1", "owner_1")
	doc.Title = "Renamed"

	outcome := r.Reconcile(ctx, "doc_1", "owner_1")
	if outcome.Status != SyncSynced {
		t.Fatalf("status = %s (%s), want synced after rename", outcome.Status, outcome.Reason)
	}
	if len(indexer.upserts) != 2 {
		t.Fatalf("upsert count = %d, want 2", len(indexer.upserts))
	}
	if indexer.upserts[1].Title != "Renamed" {
		t.Errorf("indexed title = %q, want Renamed", indexer.upserts[1].Title)
	}
	if indexer.upserts[0].RemoteID != indexer.upserts[1].RemoteID {
		t.Error("rename resync used a different remote id")
	}
}

func TestReconcileFailureLeavesStateUntouched(t *testing.T) {
	doc := testDoc("doc_1", "owner_1", "old body")
	remoteID := StableKey("doc_1")
	oldPrint := syncFingerprint("Test", "old body")
	doc.IndexRemoteID = &remoteID
	doc.IndexFingerprint = &oldPrint
	doc.DerivedText = "new body"

	source := newFakeSource(doc)
	indexer := &fakeIndexer{failing: true}
	r := NewReconciler(source, indexer, 0)

	outcome := r.Reconcile(context.Background(), "doc_1", "owner_1")
	if outcome.Status != SyncFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if outcome.Err == nil {
		t.Error("failure outcome missing its error")
	}
	if doc.IndexRemoteID == nil || *doc.IndexRemoteID != remoteID {
		t.Error("remote id nulled out on transient failure")
	}
	if doc.IndexFingerprint == nil || *doc.IndexFingerprint != oldPrint {
		t.Error("fingerprint changed on transient failure")
	}
}

func TestReconcileSkipReasons(t *testing.T) {
	archived := testDoc("doc_a", "owner_1", "archived text")
	archived.Archived = true
	short := testDoc("doc_s", "owner_1", "tiny")
	short.WordCount = 1

	source := newFakeSource(archived, short)
	indexer := &fakeIndexer{}

	t.Run("feature disabled", func(t *testing.T) {
		r := NewReconciler(source, nil, 0)
		outcome := r.Reconcile(context.Background(), "doc_a", "owner_1")
		if outcome.Status != SyncSkipped || outcome.Reason != SkipFeatureDisabled {
			t.Errorf("outcome = %s (%s), want skipped/feature-disabled", outcome.Status, outcome.Reason)
		}
	})

	t.Run("archived", func(t *testing.T) {
		r := NewReconciler(source, indexer, 0)
		outcome := r.Reconcile(context.Background(), "doc_a", "owner_1")
		if outcome.Status != SyncSkipped || outcome.Reason != SkipDocumentArchived {
			t.Errorf("outcome = %s (%s), want skipped/document-archived", outcome.Status, outcome.Reason)
		}
	})

	t.Run("archived with explicit request", func(t *testing.T) {
		r := NewReconciler(source, indexer, 0)
		outcome := r.ReconcileArchived(context.Background(), "doc_a", "owner_1")
		if outcome.Status != SyncSynced {
			t.Errorf("outcome = %s (%s), want synced when explicitly requested", outcome.Status, outcome.Reason)
		}
	})

	t.Run("below minimum words", func(t *testing.T) {
		r := NewReconciler(source, indexer, 5)
		outcome := r.Reconcile(context.Background(), "doc_s", "owner_1")
		if outcome.Status != SyncSkipped || outcome.Reason != SkipBelowMinimumWords {
			t.Errorf("outcome = %s (%s), want skipped/below-minimum-word-count", outcome.Status, outcome.Reason)
		}
	})
}

func TestReconcileManyIsolatesFailures(t *testing.T) {
	good := testDoc("doc_ok", "owner_1", "fine")
	source := newFakeSource(good)
	indexer := &fakeIndexer{}
	r := NewReconciler(source, indexer, 0)

	outcomes := r.ReconcileMany(context.Background(), []string{"doc_missing", "doc_ok"}, "owner_1")
	if len(outcomes) != 2 {
		t.Fatalf("outcome count = %d, want 2", len(outcomes))
	}
	if outcomes[0].Status != SyncFailed {
		t.Errorf("missing document outcome = %s, want failed", outcomes[0].Status)
	}
	if outcomes[1].Status != SyncSynced {
		t.Errorf("good document outcome = %s, want synced despite sibling failure", outcomes[1].Status)
	}
}

func TestHandleArchiveDeletesAndClears(t *testing.T) {
	doc := testDoc("doc_1", "owner_1", "body")
	remoteID := StableKey("doc_1")
	print := syncFingerprint("Test", "body")
	doc.IndexRemoteID = &remoteID
	doc.IndexFingerprint = &print
	doc.Archived = true

	source := newFakeSource(doc)
	indexer := &fakeIndexer{}
	r := NewReconciler(source, indexer, 0)

	outcome := r.HandleArchive(context.Background(), "doc_1", "owner_1")
	if outcome.Status != SyncDeleted {
		t.Fatalf("status = %s, want deleted", outcome.Status)
	}
	if len(indexer.deletes) != 1 || indexer.deletes[0] != remoteID {
		t.Errorf("deletes = %v, want [%s]", indexer.deletes, remoteID)
	}
	if doc.IndexRemoteID != nil {
		t.Error("remote id not cleared after delete")
	}
}

func TestHandleArchiveFailureLeavesFields(t *testing.T) {
	doc := testDoc("doc_1", "owner_1", "body")
	remoteID := StableKey("doc_1")
	doc.IndexRemoteID = &remoteID
	doc.Archived = true

	source := newFakeSource(doc)
	indexer := &fakeIndexer{failing: true}
	r := NewReconciler(source, indexer, 0)

	outcome := r.HandleArchive(context.Background(), "doc_1", "owner_1")
	if outcome.Status != SyncFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if doc.IndexRemoteID == nil {
		t.Error("remote id cleared despite delete failure")
	}
}

func TestHandleArchiveNeverSynced(t *testing.T) {
	doc := testDoc("doc_1", "owner_1", "body")
	doc.Archived = true
	source := newFakeSource(doc)
	r := NewReconciler(source, &fakeIndexer{}, 0)

	outcome := r.HandleArchive(context.Background(), "doc_1", "owner_1")
	if outcome.Status != SyncSkipped {
		t.Errorf("status = %s, want skipped for never-synced document", outcome.Status)
	}
}
