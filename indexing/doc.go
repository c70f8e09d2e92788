// Package indexing provides the indexing task log: a deduplicated, time-ordered
// record of content changes that a search indexer consumes to keep its index
// in sync with the content store.
//
// # Write path
//
// RecordUpdate and RecordDelete collapse every pending task for a content item
// and append exactly one new task, inside a single Repository transaction
// scoped to that item. At most one task is pending per content item, and it
// always carries the latest intent.
//
// # Read path
//
// GetTasks returns a snapshot of pending tasks created strictly after a
// watermark, ordered by creation time. Consumers poll, apply the batch,
// advance their watermark and Acknowledge what they applied. Acknowledge is
// keyed by task id, so a task superseded while the consumer was working on it
// is never removed by mistake.
//
// # Usage
//
//	repo := taskstore.NewKVRepository(state.NewMemoryStore())
//	log := indexing.New(repo, indexing.WithLogger(logger))
//
//	task, err := log.RecordUpdate(ctx, item)
//
//	tasks, err := log.GetTasks(ctx, &watermark)
//	for _, t := range tasks {
//	    apply(t)
//	    log.Acknowledge(ctx, t)
//	}
package indexing
