// Package indexer consumes the indexing task log and keeps a bleve search
// index in sync with the content store.
//
// A Poller reads pending tasks after its watermark, applies them in order to
// an Index, acknowledges what it applied, and persists the watermark through a
// Checkpoint. The watermark only moves past a timestamp once every task at or
// before it was applied, so a failed task is retried on the next poll.
//
// # Usage
//
//	idx, _ := indexer.NewBleveIndex("data/search.bleve")
//	p := indexer.NewPoller(taskLog, idx, indexer.NewContentSource(contents),
//	    indexer.NewStateCheckpoint(store, "search"),
//	    indexer.DefaultConfig(),
//	    indexer.WithLogger(logger))
//
//	go p.Run(ctx)
package indexer
