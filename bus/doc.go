// Package bus provides the message bus indexkit uses to announce recorded
// indexing tasks.
//
// Announcements are hints. The task log stays the source of truth: an
// indexer that misses a message still finds the task on its next poll.
//
// # Available Implementations
//
//   - NATSBus: NATS core pub/sub
//   - MemoryBus: in-memory implementation for testing and single-process use
//
// # Usage
//
//	sub, _ := b.Subscribe("indexkit.tasks")
//	go func() {
//	    for msg := range sub.Messages() {
//	        // wake the indexer
//	    }
//	}()
//
//	b.Publish("indexkit.tasks", data)
package bus
