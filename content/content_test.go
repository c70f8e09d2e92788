package content

import (
	"context"
	"testing"

	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := state.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return NewStore(s)
}

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := &Item{ItemID: "post/1", Type: "article", Title: "Hello", Body: "World"}
	if err := store.Put(ctx, item); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if item.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt stamped")
	}

	got, err := store.Get(ctx, "post/1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Hello" || got.Body != "World" || got.Type != "article" {
		t.Errorf("unexpected item %+v", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Put(ctx, &Item{ItemID: "a", Type: "note"})
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND after delete, got %v", err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestStore_InvalidID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, &Item{}); !errors.Is(err, errors.ErrCodeInvalidArgument) {
		t.Errorf("Put: expected INVALID_ARGUMENT, got %v", err)
	}
	if _, err := store.Get(ctx, ""); !errors.Is(err, errors.ErrCodeInvalidArgument) {
		t.Errorf("Get: expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestItem_NilSafe(t *testing.T) {
	var item *Item
	if item.ID() != "" || item.ContentType() != "" {
		t.Error("nil item should report empty identity")
	}
}
