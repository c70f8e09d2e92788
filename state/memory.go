package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Revisions come from one counter,
// so they are monotonic across keys like the other backends.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	rev     uint64
	closed  bool
	hub     *watchHub
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		hub:     newWatchHub(),
	}
}

// begin validates key and takes the lock for a read or a write.
func (s *MemoryStore) begin(ctx context.Context, key string, write bool) (unlock func(), err error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if write {
		s.mu.Lock()
		unlock = s.mu.Unlock
	} else {
		s.mu.RLock()
		unlock = s.mu.RUnlock
	}
	if s.closed {
		unlock()
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

// Get retrieves the entry for key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	unlock, err := s.begin(ctx, key, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

// Put stores value under key and returns the new revision.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	unlock, err := s.begin(ctx, key, true)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return s.apply(key, value, OpPut), nil
}

// Create stores value only if key is absent.
func (s *MemoryStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	unlock, err := s.begin(ctx, key, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if _, exists := s.entries[key]; exists {
		return 0, ErrKeyExists
	}
	return s.apply(key, value, OpPut), nil
}

// Update stores value if key is still at revision.
func (s *MemoryStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	unlock, err := s.begin(ctx, key, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if e, ok := s.entries[key]; !ok || e.Revision != revision {
		return 0, ErrRevisionMismatch
	}
	return s.apply(key, value, OpPut), nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	unlock, err := s.begin(ctx, key, true)
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.entries[key]; ok {
		s.apply(key, nil, OpDelete)
	}
	return nil
}

// DeleteRevision removes key if it is still at revision.
func (s *MemoryStore) DeleteRevision(ctx context.Context, key string, revision uint64) error {
	unlock, err := s.begin(ctx, key, true)
	if err != nil {
		return err
	}
	defer unlock()

	if e, ok := s.entries[key]; !ok || e.Revision != revision {
		return ErrRevisionMismatch
	}
	s.apply(key, nil, OpDelete)
	return nil
}

// apply records one change under a new revision and tells watchers.
// s.mu must be held for writing.
func (s *MemoryStore) apply(key string, value []byte, op Operation) uint64 {
	s.rev++
	e := Entry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Revision:  s.rev,
		Operation: op,
		Created:   time.Now(),
	}
	if op == OpDelete {
		delete(s.entries, key)
	} else {
		s.entries[key] = e
	}
	s.hub.publish(e)
	return s.rev
}

// Keys returns matching keys in sorted order.
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch delivers later changes under prefix. A watcher whose buffer is full
// misses changes.
func (s *MemoryStore) Watch(ctx context.Context, prefix string) (<-chan *Entry, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return s.hub.watch(ctx, prefix)
}

// Close ends every watch. Later calls return nil.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.close()
	return nil
}
