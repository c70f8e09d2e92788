package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/state"
)

const watermarkPrefix = "indexer.watermark."

// Checkpoint persists an indexer's watermark.
type Checkpoint interface {
	// Load returns the saved watermark. ok is false if none was saved.
	Load(ctx context.Context) (watermark time.Time, ok bool, err error)

	// Save stores watermark.
	Save(ctx context.Context, watermark time.Time) error
}

// StateCheckpoint keeps the watermark in a state store.
type StateCheckpoint struct {
	store state.StateStore
	key   string
}

// NewStateCheckpoint creates a checkpoint for the indexer called name.
func NewStateCheckpoint(store state.StateStore, name string) *StateCheckpoint {
	return &StateCheckpoint{store: store, key: watermarkPrefix + name}
}

// Load returns the saved watermark.
func (c *StateCheckpoint) Load(ctx context.Context) (time.Time, bool, error) {
	entry, err := c.store.Get(ctx, c.key)
	if err == state.ErrNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.WrapWithCode(err, errors.ErrCodeRepository, "checkpoint: load watermark")
	}
	wm, err := time.Parse(time.RFC3339Nano, string(entry.Value))
	if err != nil {
		return time.Time{}, false, errors.Corruption("checkpoint: invalid watermark "+string(entry.Value), errors.WithCause(err))
	}
	return wm, true, nil
}

// Save stores watermark as RFC3339 with nanoseconds.
func (c *StateCheckpoint) Save(ctx context.Context, watermark time.Time) error {
	value := []byte(watermark.UTC().Format(time.RFC3339Nano))
	if _, err := c.store.Put(ctx, c.key, value); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeRepository, "checkpoint: save watermark")
	}
	return nil
}

// MemoryCheckpoint keeps the watermark in memory.
type MemoryCheckpoint struct {
	mu        sync.Mutex
	watermark time.Time
	ok        bool
}

// Load returns the saved watermark.
func (c *MemoryCheckpoint) Load(ctx context.Context) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark, c.ok, nil
}

// Save stores watermark.
func (c *MemoryCheckpoint) Save(ctx context.Context, watermark time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watermark = watermark
	c.ok = true
	return nil
}
