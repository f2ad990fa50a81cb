package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestRecordAndHistory(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	content := Content{
		Title:       "Notes",
		Doc:         json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"hello"}]}]}`),
		DerivedText: "hello",
	}

	first, err := svc.Record("doc-1", content, "Avery", "Initial save")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	content.DerivedText = "hello again"
	second, err := svc.Record("doc-1", content, "Avery", "Manual save")
	if err != nil {
		t.Fatalf("Record() second error = %v", err)
	}
	if second.Hash == first.Hash {
		t.Fatal("expected distinct commit hashes")
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Hash != second.Hash {
		t.Fatalf("history not newest-first: %+v", history)
	}
}

func TestContentAtRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	content := Content{
		Title:       "Notes",
		Doc:         json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"original"}]}]}`),
		DerivedText: "original",
	}
	entry, err := svc.Record("doc-1", content, "Avery", "Initial save")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := svc.ContentAt("doc-1", entry.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if got.Title != "Notes" || got.DerivedText != "original" {
		t.Fatalf("unexpected content: %+v", got)
	}
	if len(got.Doc) == 0 {
		t.Fatal("expected persisted doc JSON")
	}
}

func TestHistoryOnMissingRepo(t *testing.T) {
	svc := New(t.TempDir())
	history, err := svc.History("doc-unknown", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history length = %d, want 0", len(history))
	}
}

func TestConcurrentRecordSameDocument(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	base := Content{Title: "Notes", DerivedText: "seed"}
	if _, err := svc.Record("doc-1", base, "Avery", "Initial save"); err != nil {
		t.Fatalf("Record() seed error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := base
			next.DerivedText = fmt.Sprintf("revision-%02d", idx)
			if _, err := svc.Record("doc-1", next, "Avery", fmt.Sprintf("Save %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("Record() concurrent error = %v", err)
		}
	}

	history, err := svc.History("doc-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) < writers+1 {
		t.Fatalf("expected at least %d commits, got %d", writers+1, len(history))
	}

	head, err := svc.ContentAt("doc-1", history[0].Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if !strings.HasPrefix(head.DerivedText, "revision-") {
		t.Fatalf("unexpected head content after concurrent saves: %+v", head)
	}
}
