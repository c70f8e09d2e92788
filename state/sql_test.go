package state

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newSQLStore(t *testing.T) (*SQLStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, db
}

func TestSQLStore_PutGet(t *testing.T) {
	s, _ := newSQLStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "content.item.a"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	rev, err := s.Put(ctx, "content.item.a", []byte(`{"id":"a"}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "content.item.a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Value) != `{"id":"a"}` || got.Revision != rev {
		t.Errorf("unexpected entry %+v", got)
	}

	rev2, _ := s.Put(ctx, "content.item.a", []byte("v2"))
	if rev2 <= rev {
		t.Errorf("revision did not advance: %d -> %d", rev, rev2)
	}
}

func TestSQLStore_CompareAndSwap(t *testing.T) {
	s, _ := newSQLStore(t)
	ctx := context.Background()

	rev, err := s.Create(ctx, "k", []byte("v1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "k", []byte("again")); err != ErrKeyExists {
		t.Errorf("expected ErrKeyExists, got %v", err)
	}

	newRev, err := s.Update(ctx, "k", []byte("v2"), rev)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := s.Update(ctx, "k", []byte("v3"), rev); err != ErrRevisionMismatch {
		t.Errorf("stale Update: expected ErrRevisionMismatch, got %v", err)
	}
	if _, err := s.Update(ctx, "missing", []byte("v"), 1); err != ErrRevisionMismatch {
		t.Errorf("missing Update: expected ErrRevisionMismatch, got %v", err)
	}

	if err := s.DeleteRevision(ctx, "k", rev); err != ErrRevisionMismatch {
		t.Errorf("stale DeleteRevision: expected ErrRevisionMismatch, got %v", err)
	}
	if err := s.DeleteRevision(ctx, "k", newRev); err != nil {
		t.Fatalf("DeleteRevision: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLStore_DeleteBumpsRevision(t *testing.T) {
	s, _ := newSQLStore(t)
	ctx := context.Background()

	r1, _ := s.Put(ctx, "a", []byte("1"))
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
	r2, _ := s.Put(ctx, "a", []byte("2"))
	if r2 != r1+2 {
		t.Errorf("expected delete to consume a revision: %d then %d", r1, r2)
	}
}

func TestSQLStore_Keys(t *testing.T) {
	s, _ := newSQLStore(t)
	ctx := context.Background()

	s.Put(ctx, "content.item.b", nil)
	s.Put(ctx, "content.item.a", nil)
	s.Put(ctx, "indexer.watermark.default", nil)

	keys, err := s.Keys(ctx, "content.item.")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "content.item.a" {
		t.Errorf("Keys = %v", keys)
	}
	all, _ := s.Keys(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 keys, got %v", all)
	}
}

func TestSQLStore_Watch(t *testing.T) {
	s, _ := newSQLStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, "content.")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	s.Put(ctx, "other", []byte("x"))
	s.Put(ctx, "content.item.a", []byte("x"))
	s.Delete(ctx, "content.item.a")

	for _, want := range []Operation{OpPut, OpDelete} {
		select {
		case e := <-ch:
			if e.Key != "content.item.a" || e.Operation != want {
				t.Errorf("got %s %v, want content.item.a %v", e.Key, e.Operation, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %v", want)
		}
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch not closed on cancel")
	}
}

func TestSQLStore_Closed(t *testing.T) {
	s, db := newSQLStore(t)
	ctx := context.Background()

	s.Close()
	if _, err := s.Get(ctx, "k"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	other, err := NewSQLStore(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	db.Close()
	if _, err := other.Put(ctx, "k", nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for closed database, got %v", err)
	}
}

func TestSQLStore_ConcurrentCreate(t *testing.T) {
	s, _ := newSQLStore(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Create(ctx, "once", []byte("x")); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one Create to win, got %d", wins.Load())
	}
}
