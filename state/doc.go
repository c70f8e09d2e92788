// Package state provides the revisioned key-value store that backs indexkit's
// task repository, content store and indexer checkpoints.
//
// Every mutation produces a new revision that is monotonic across the whole
// store. Revision-checked writes (Create, Update, DeleteRevision) give callers
// compare-and-swap semantics on a single key, which is what the task
// repository builds its per-content-item transactions on.
//
// # Backends
//
//   - NATSStore: NATS JetStream KV (production)
//   - SQLStore: tables in a SQL database (shares the SQLite task database)
//   - MemoryStore: in-process maps (tests, single-process use)
//
// # Usage
//
//	conn, _ := nats.Connect(nats.DefaultURL)
//	store, _ := state.NewNATSStore(state.NATSStoreConfig{
//	    Conn:   conn,
//	    Bucket: "indexkit",
//	})
//
//	rev, _ := store.Create(ctx, "indexing.item.abc", data)
//	_, err := store.Update(ctx, "indexing.item.abc", newData, rev)
//	if err == state.ErrRevisionMismatch {
//	    // someone else wrote first; re-read and retry
//	}
//
//	ch, _ := store.Watch(ctx, "indexing.item.")
//	for entry := range ch {
//	    fmt.Println(entry.Key, entry.Operation)
//	}
package state
