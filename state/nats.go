package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore keeps entries in a JetStream KV bucket. KV revisions are stream
// sequence numbers, which makes them monotonic across the whole bucket, and
// expected-revision writes give compare-and-swap for the task repository.
type NATSStore struct {
	js      jetstream.JetStream
	kv      jetstream.KeyValue
	timeout time.Duration
	closed  atomic.Bool
}

// NATSStoreConfig describes the bucket. Conn is required and stays owned by
// the caller.
type NATSStoreConfig struct {
	Conn   *nats.Conn
	Bucket string

	// History is how many revisions the bucket keeps per key.
	History int

	MaxValueSize int32

	// Memory selects memory storage instead of file storage.
	Memory bool

	// Timeout bounds calls whose context has no deadline.
	Timeout time.Duration
}

// DefaultNATSStoreConfig keeps one revision per key on disk.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "indexkit",
		History:      1,
		MaxValueSize: 1 << 20,
		Timeout:      5 * time.Second,
	}
}

// NewNATSStore creates the bucket if it is missing, or updates its settings.
func NewNATSStore(cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats store: connection required")
	}
	def := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = def.Bucket
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("nats store: jetstream: %w", err)
	}

	kvCfg := jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		Description:  "indexkit task log state",
		History:      uint8(cfg.History),
		MaxValueSize: cfg.MaxValueSize,
		Storage:      jetstream.FileStorage,
	}
	if cfg.Memory {
		kvCfg.Storage = jetstream.MemoryStorage
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Timeout)
	defer cancel()
	kv, err := js.CreateOrUpdateKeyValue(ctx, kvCfg)
	if err != nil {
		return nil, fmt.Errorf("nats store: bucket %s: %w", cfg.Bucket, wrapErr("create", err))
	}

	return &NATSStore{js: js, kv: kv, timeout: cfg.Timeout}, nil
}

// call runs fn under the store timeout after checking key and the closed
// flag. An empty key skips validation for bucket-wide calls.
func (s *NATSStore) call(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key != "" {
		if err := ValidateKey(key); err != nil {
			return err
		}
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return fn(ctx)
}

// Get retrieves the entry for key.
func (s *NATSStore) Get(ctx context.Context, key string) (*Entry, error) {
	var out *Entry
	err := s.call(ctx, key, func(ctx context.Context) error {
		kve, err := s.kv.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			return ErrNotFound
		case err != nil:
			return wrapErr("get", err)
		}
		out = entryFromNATS(kve)
		return nil
	})
	return out, err
}

// Put stores value under key and returns the new revision.
func (s *NATSStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	var rev uint64
	err := s.call(ctx, key, func(ctx context.Context) (err error) {
		rev, err = s.kv.Put(ctx, key, value)
		return wrapErr("put", err)
	})
	return rev, err
}

// Create succeeds when key is absent, including after a delete.
func (s *NATSStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	var rev uint64
	err := s.call(ctx, key, func(ctx context.Context) (err error) {
		rev, err = s.kv.Create(ctx, key, value)
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
			return ErrKeyExists
		}
		return wrapErr("create", err)
	})
	return rev, err
}

// Update stores value if key is still at revision.
func (s *NATSStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	var rev uint64
	err := s.call(ctx, key, func(ctx context.Context) (err error) {
		rev, err = s.kv.Update(ctx, key, value, revision)
		if isWrongLastSequence(err) {
			return ErrRevisionMismatch
		}
		return wrapErr("update", err)
	})
	return rev, err
}

// Delete leaves a delete marker, so watchers see OpDelete.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	return s.call(ctx, key, func(ctx context.Context) error {
		err := s.kv.Delete(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return wrapErr("delete", err)
	})
}

// DeleteRevision removes key if it is still at revision.
func (s *NATSStore) DeleteRevision(ctx context.Context, key string, revision uint64) error {
	return s.call(ctx, key, func(ctx context.Context) error {
		err := s.kv.Delete(ctx, key, jetstream.LastRevision(revision))
		if isWrongLastSequence(err) || errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrRevisionMismatch
		}
		return wrapErr("delete", err)
	})
}

// Keys lists live keys under prefix. JetStream has no server-side prefix
// listing for partial tokens, so filtering happens here.
func (s *NATSStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.call(ctx, "", func(ctx context.Context) error {
		lister, err := s.kv.ListKeys(ctx)
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		if err != nil {
			return wrapErr("list keys", err)
		}
		defer lister.Stop()
		for key := range lister.Keys() {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	return keys, err
}

// Watch delivers changes under prefix made after the call.
func (s *NATSStore) Watch(ctx context.Context, prefix string) (<-chan *Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	// A prefix ending on a token boundary can use a subject filter.
	// Anything else watches the bucket and filters here.
	var (
		kw  jetstream.KeyWatcher
		err error
	)
	if strings.HasSuffix(prefix, ".") {
		kw, err = s.kv.Watch(ctx, prefix+">", jetstream.UpdatesOnly())
	} else {
		kw, err = s.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	}
	if err != nil {
		return nil, wrapErr("watch", err)
	}

	out := make(chan *Entry, 64)
	go s.forward(ctx, kw, prefix, out)
	return out, nil
}

func (s *NATSStore) forward(ctx context.Context, kw jetstream.KeyWatcher, prefix string, out chan<- *Entry) {
	defer close(out)
	defer kw.Stop()

	for !s.closed.Load() {
		select {
		case <-ctx.Done():
			return
		case kve, ok := <-kw.Updates():
			if !ok {
				return
			}
			// nil marks the end of initial values, which UpdatesOnly skips.
			if kve == nil || !strings.HasPrefix(kve.Key(), prefix) {
				continue
			}
			select {
			case out <- entryFromNATS(kve):
			default:
			}
		}
	}
}

// Close stops the store. The connection stays open.
func (s *NATSStore) Close() error {
	s.closed.Store(true)
	return nil
}

func entryFromNATS(kve jetstream.KeyValueEntry) *Entry {
	return &Entry{
		Key:       kve.Key(),
		Value:     kve.Value(),
		Revision:  kve.Revision(),
		Operation: opFromNATS(kve.Operation()),
		Created:   kve.Created(),
	}
}

func opFromNATS(op jetstream.KeyValueOp) Operation {
	if op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
		return OpDelete
	}
	return OpPut
}

// wrapErr prefixes err with op and tags connection failures with
// ErrUnavailable. A nil err stays nil.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrTimeout) {
		return fmt.Errorf("kv %s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("kv %s: %w", op, err)
}

// isWrongLastSequence reports JetStream rejecting an expected-revision write.
func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
