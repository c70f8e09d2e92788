package indexer

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newMemIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestBleveIndex_IndexAndSearch(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "a1", Type: "article", Title: "Go concurrency patterns", Body: "channels and goroutines", UpdatedAt: time.Now()},
		{ID: "a2", Type: "article", Title: "Cooking pasta", Body: "boil water, add salt"},
	}
	for _, d := range docs {
		if err := idx.Index(ctx, d); err != nil {
			t.Fatalf("Index(%s) failed: %v", d.ID, err)
		}
	}

	n, err := idx.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	hits, err := idx.Search(ctx, "goroutines", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a1" {
		t.Fatalf("expected single hit a1, got %+v", hits)
	}
	if hits[0].Title != "Go concurrency patterns" || hits[0].Type != "article" {
		t.Errorf("stored fields not returned: %+v", hits[0])
	}
}

func TestBleveIndex_ReplaceAndDelete(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	idx.Index(ctx, Document{ID: "a1", Title: "first draft"})
	idx.Index(ctx, Document{ID: "a1", Title: "final version"})

	if hits, _ := idx.Search(ctx, "draft", 10); len(hits) != 0 {
		t.Errorf("replaced document still matches old title: %+v", hits)
	}
	if hits, _ := idx.Search(ctx, "final", 10); len(hits) != 1 {
		t.Errorf("expected replaced document to match, got %+v", hits)
	}

	if err := idx.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := idx.Delete(ctx, "a1"); err != nil {
		t.Errorf("Delete of missing document should succeed, got %v", err)
	}
	if n, _ := idx.Count(); n != 0 {
		t.Errorf("Count = %d after delete, want 0", n)
	}
}

func TestBleveIndex_CanceledContext(t *testing.T) {
	idx := newMemIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := idx.Index(ctx, Document{ID: "a1"}); err != context.Canceled {
		t.Errorf("Index: expected context.Canceled, got %v", err)
	}
	if err := idx.Delete(ctx, "a1"); err != context.Canceled {
		t.Errorf("Delete: expected context.Canceled, got %v", err)
	}
}

func TestBleveIndex_PersistsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.bleve")
	ctx := context.Background()

	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("NewBleveIndex failed: %v", err)
	}
	if err := idx.Index(ctx, Document{ID: "a1", Title: "persisted"}); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	idx.Close()

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	hits, err := reopened.Search(ctx, "persisted", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected document to survive reopen, got %+v", hits)
	}
}
