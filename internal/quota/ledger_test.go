package quota

import (
	"context"
	"strings"
	"testing"

	"inkwell/api/internal/plan"
	"inkwell/api/internal/richtext"
	"inkwell/api/internal/store"
)

// fakeAccountStore keeps one in-memory account and applies deltas with the
// same zero clamp the SQL layer uses.
type fakeAccountStore struct {
	account     store.QuotaAccount
	ensureCalls int
}

func newFakeAccountStore() *fakeAccountStore {
	limits := plan.LimitsFor(plan.PlanFree)
	return &fakeAccountStore{account: store.QuotaAccount{
		OwnerID:              "owner_1",
		Plan:                 "free",
		MaxDocuments:         limits.MaxDocuments,
		MaxDocumentSizeBytes: limits.MaxDocumentSizeBytes,
		MaxDocumentPages:     limits.MaxDocumentPages,
	}}
}

func (f *fakeAccountStore) EnsureQuotaAccount(_ context.Context, _ string, _ store.QuotaDefaults) error {
	f.ensureCalls++
	return nil
}

func (f *fakeAccountStore) GetQuotaAccount(_ context.Context, _ string) (store.QuotaAccount, error) {
	return f.account, nil
}

func (f *fakeAccountStore) ApplyQuotaDelta(_ context.Context, _ string, docDelta int, byteDelta int64) (store.QuotaTotals, store.QuotaTotals, error) {
	prev := store.QuotaTotals{
		DocumentCount:    f.account.CurrentDocumentCount,
		StorageUsedBytes: f.account.TotalStorageUsedBytes,
	}
	f.account.CurrentDocumentCount = max(0, f.account.CurrentDocumentCount+docDelta)
	f.account.TotalStorageUsedBytes = max(0, f.account.TotalStorageUsedBytes+byteDelta)
	next := store.QuotaTotals{
		DocumentCount:    f.account.CurrentDocumentCount,
		StorageUsedBytes: f.account.TotalStorageUsedBytes,
	}
	return prev, next, nil
}

func TestCheckCreationDocumentCountCeiling(t *testing.T) {
	fake := newFakeAccountStore()
	fake.account.CurrentDocumentCount = fake.account.MaxDocuments
	ledger := NewLedger(fake)

	adm, err := ledger.CheckCreation(context.Background(), "owner_1", richtext.Metrics{SizeBytes: 10, PageCount: 1})
	if err != nil {
		t.Fatalf("CheckCreation: %v", err)
	}
	if adm.Allowed {
		t.Fatal("creation admitted at document-count ceiling")
	}
	if len(adm.Violations) != 1 || !strings.Contains(adm.Violations[0], "document limit") {
		t.Errorf("violations = %v, want a document limit violation", adm.Violations)
	}
}

func TestCheckCreationReportsAllViolations(t *testing.T) {
	fake := newFakeAccountStore()
	fake.account.CurrentDocumentCount = fake.account.MaxDocuments
	ledger := NewLedger(fake)

	proposed := richtext.Metrics{
		SizeBytes: fake.account.MaxDocumentSizeBytes + 1,
		PageCount: fake.account.MaxDocumentPages + 1,
	}
	adm, err := ledger.CheckCreation(context.Background(), "owner_1", proposed)
	if err != nil {
		t.Fatalf("CheckCreation: %v", err)
	}
	if len(adm.Violations) != 3 {
		t.Errorf("violations = %v, want all three ceilings reported", adm.Violations)
	}
}

func TestCheckUpdateIgnoresDocumentCount(t *testing.T) {
	fake := newFakeAccountStore()
	fake.account.CurrentDocumentCount = fake.account.MaxDocuments
	ledger := NewLedger(fake)

	adm, err := ledger.CheckUpdate(context.Background(), "owner_1", richtext.Metrics{SizeBytes: 10, PageCount: 1})
	if err != nil {
		t.Fatalf("CheckUpdate: %v", err)
	}
	if !adm.Allowed {
		t.Errorf("update rejected at document-count ceiling: %v", adm.Violations)
	}
}

func TestCheckUpdateSizeCeiling(t *testing.T) {
	fake := newFakeAccountStore()
	ledger := NewLedger(fake)

	adm, err := ledger.CheckUpdate(context.Background(), "owner_1", richtext.Metrics{
		SizeBytes: fake.account.MaxDocumentSizeBytes + 1,
		PageCount: 1,
	})
	if err != nil {
		t.Fatalf("CheckUpdate: %v", err)
	}
	if adm.Allowed {
		t.Fatal("oversized update admitted")
	}
	if len(adm.Violations) != 1 || !strings.Contains(adm.Violations[0], "size") {
		t.Errorf("violations = %v, want a size violation", adm.Violations)
	}
}

func TestCommitLifecycleTotals(t *testing.T) {
	fake := newFakeAccountStore()
	ledger := NewLedger(fake)
	ctx := context.Background()

	if err := ledger.CommitCreation(ctx, "owner_1", 100); err != nil {
		t.Fatalf("CommitCreation: %v", err)
	}
	if err := ledger.CommitUpdate(ctx, "owner_1", 100, 250); err != nil {
		t.Fatalf("CommitUpdate: %v", err)
	}
	if fake.account.CurrentDocumentCount != 1 || fake.account.TotalStorageUsedBytes != 250 {
		t.Errorf("totals = %d docs / %d bytes, want 1/250",
			fake.account.CurrentDocumentCount, fake.account.TotalStorageUsedBytes)
	}

	if err := ledger.CommitDeletion(ctx, "owner_1", 250); err != nil {
		t.Fatalf("CommitDeletion: %v", err)
	}
	if fake.account.CurrentDocumentCount != 0 || fake.account.TotalStorageUsedBytes != 0 {
		t.Errorf("totals after deletion = %d docs / %d bytes, want 0/0",
			fake.account.CurrentDocumentCount, fake.account.TotalStorageUsedBytes)
	}
}

func TestCommitDeletionNeverGoesNegative(t *testing.T) {
	fake := newFakeAccountStore()
	ledger := NewLedger(fake)
	ctx := context.Background()

	// Delete more than was ever created; the clamp must hold the floor.
	for range 3 {
		if err := ledger.CommitDeletion(ctx, "owner_1", 500); err != nil {
			t.Fatalf("CommitDeletion: %v", err)
		}
	}
	if fake.account.CurrentDocumentCount != 0 {
		t.Errorf("document count = %d, want 0", fake.account.CurrentDocumentCount)
	}
	if fake.account.TotalStorageUsedBytes != 0 {
		t.Errorf("storage total = %d, want 0", fake.account.TotalStorageUsedBytes)
	}
}

func TestUsageRemaining(t *testing.T) {
	fake := newFakeAccountStore()
	fake.account.CurrentDocumentCount = 4
	fake.account.TotalStorageUsedBytes = 2048
	ledger := NewLedger(fake)

	usage, err := ledger.Usage(context.Background(), "owner_1", plan.PlanFree)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if fake.ensureCalls != 1 {
		t.Errorf("ensure calls = %d, want lazily ensured once", fake.ensureCalls)
	}
	if usage.DocumentLimitRemaining != 6 {
		t.Errorf("remaining = %d, want 6", usage.DocumentLimitRemaining)
	}
	if usage.TotalStorageUsedBytes != 2048 {
		t.Errorf("storage = %d, want 2048", usage.TotalStorageUsedBytes)
	}
}
