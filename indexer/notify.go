package indexer

import (
	"context"
	"encoding/json"

	"github.com/vinayprograms/indexkit/bus"
	"github.com/vinayprograms/indexkit/indexing"
	"github.com/vinayprograms/indexkit/state"
)

// DefaultSubject is the subject recorded tasks are announced on.
const DefaultSubject = "indexkit.tasks"

// BusNotifier announces recorded tasks on a message bus.
// It implements indexing.Notifier.
type BusNotifier struct {
	bus     bus.MessageBus
	subject string
}

// NewBusNotifier creates a notifier publishing to subject.
func NewBusNotifier(b bus.MessageBus, subject string) *BusNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &BusNotifier{bus: b, subject: subject}
}

// Notify publishes task as JSON.
func (n *BusNotifier) Notify(ctx context.Context, task indexing.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return n.bus.Publish(n.subject, data)
}

// DecodeTask parses a task announced by BusNotifier.
func DecodeTask(msg *bus.Message) (indexing.Task, error) {
	var task indexing.Task
	err := json.Unmarshal(msg.Data, &task)
	return task, err
}

// WakeOn turns a subscription into a wake channel for WithWake.
// Bursts collapse into a single pending wake. The channel closes when the
// subscription ends or ctx is done.
func WakeOn(ctx context.Context, sub bus.Subscription) <-chan struct{} {
	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Messages():
				if !ok {
					return
				}
				signal(wake)
			}
		}
	}()
	return wake
}

// WakeOnWatch turns state store changes under prefix into a wake channel,
// for deployments where writers and the indexer share a KV bucket.
func WakeOnWatch(ctx context.Context, store state.StateStore, prefix string) (<-chan struct{}, error) {
	updates, err := store.Watch(ctx, prefix)
	if err != nil {
		return nil, err
	}
	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		for entry := range updates {
			if entry.Operation == state.OpPut {
				signal(wake)
			}
		}
	}()
	return wake, nil
}

func signal(wake chan struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}
