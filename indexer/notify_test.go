package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/vinayprograms/indexkit/bus"
	"github.com/vinayprograms/indexkit/indexing"
	"github.com/vinayprograms/indexkit/state"
	"github.com/vinayprograms/indexkit/taskstore"
)

func TestBusNotifier_PublishesTask(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sub, err := b.Subscribe(DefaultSubject)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	store := state.NewMemoryStore()
	defer store.Close()
	log := indexing.New(taskstore.NewKVRepository(store),
		indexing.WithNotifier(NewBusNotifier(b, "")))

	recorded, err := log.RecordUpdate(context.Background(), indexing.Ref("a1", "article"))
	if err != nil {
		t.Fatalf("RecordUpdate: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		task, err := DecodeTask(msg)
		if err != nil {
			t.Fatalf("DecodeTask: %v", err)
		}
		if task.ID != recorded.ID || task.ContentItemID != "a1" || task.Action != indexing.ActionUpdate {
			t.Errorf("announced %+v, recorded %+v", task, recorded)
		}
		if !task.CreatedAt.Equal(recorded.CreatedAt) {
			t.Errorf("created_at = %v, want %v", task.CreatedAt, recorded.CreatedAt)
		}
	case <-time.After(time.Second):
		t.Fatal("no announcement")
	}
}

func TestDecodeTask_Invalid(t *testing.T) {
	if _, err := DecodeTask(&bus.Message{Data: []byte("not json")}); err == nil {
		t.Error("expected decode error")
	}
}

func TestWakeOn_CoalescesAndCloses(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe(DefaultSubject)
	ctx, cancel := context.WithCancel(context.Background())

	wake := WakeOn(ctx, sub)
	for i := 0; i < 5; i++ {
		b.Publish(DefaultSubject, []byte("{}"))
	}

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("no wake signal")
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-wake:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("wake channel not closed after cancel")
		}
	}
}

func TestWakeOn_ClosesWhenSubscriptionEnds(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	sub, _ := b.Subscribe(DefaultSubject)

	wake := WakeOn(context.Background(), sub)
	b.Close()

	select {
	case _, ok := <-wake:
		if ok {
			// Drain a pending signal, then expect closure.
			if _, ok := <-wake; ok {
				t.Error("expected closed wake channel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("wake channel not closed")
	}
}

func TestWakeOnWatch(t *testing.T) {
	store := state.NewMemoryStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake, err := WakeOnWatch(ctx, store, taskstore.KeyPrefix)
	if err != nil {
		t.Fatalf("WakeOnWatch: %v", err)
	}

	log := indexing.New(taskstore.NewKVRepository(store))
	if _, err := log.RecordUpdate(ctx, indexing.Ref("a1", "article")); err != nil {
		t.Fatalf("RecordUpdate: %v", err)
	}

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("task write did not wake")
	}
}

func TestWakeOnWatch_ClosedStore(t *testing.T) {
	store := state.NewMemoryStore()
	store.Close()

	if _, err := WakeOnWatch(context.Background(), store, ""); err != state.ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
