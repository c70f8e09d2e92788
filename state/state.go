package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound         = errors.New("key not found")
	ErrClosed           = errors.New("store closed")
	ErrInvalidKey       = errors.New("invalid key")
	ErrKeyExists        = errors.New("key already exists")
	ErrRevisionMismatch = errors.New("revision mismatch")
	ErrUnavailable      = errors.New("store unavailable")
)

// Operation represents the type of change to a key.
type Operation int

const (
	// OpPut indicates a key was created or updated.
	OpPut Operation = iota
	// OpDelete indicates a key was deleted.
	OpDelete
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Entry is a key-value pair with its revision metadata.
type Entry struct {
	Key   string
	Value []byte

	// Revision is monotonic across the store.
	Revision uint64

	Operation Operation

	// Created is when this revision was written.
	Created time.Time
}

// StateStore is a revisioned key-value store.
type StateStore interface {
	// Get returns the current entry for key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put writes value unconditionally and returns the new revision.
	Put(ctx context.Context, key string, value []byte) (uint64, error)

	// Create writes value only if key does not exist.
	// Returns ErrKeyExists otherwise.
	Create(ctx context.Context, key string, value []byte) (uint64, error)

	// Update writes value only if the current revision of key equals revision.
	// Returns ErrRevisionMismatch otherwise, including when the key is gone.
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)

	// Delete removes a key. Returns nil if the key does not exist.
	Delete(ctx context.Context, key string) error

	// DeleteRevision removes key only if its current revision equals revision.
	// Returns ErrRevisionMismatch otherwise.
	DeleteRevision(ctx context.Context, key string, revision uint64) error

	// Keys returns all keys starting with prefix. An empty prefix matches all keys.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Watch streams changes to keys starting with prefix until ctx is done
	// or the store closes.
	Watch(ctx context.Context, prefix string) (<-chan *Entry, error)

	// Close shuts down the store and releases resources.
	Close() error
}

// ValidateKey checks that key is usable by every backend.
// Keys are dot-separated tokens of [-/_=a-zA-Z0-9].
func ValidateKey(key string) error {
	if key == "" || len(key) > 1024 {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '/', r == '_', r == '=', r == '.':
		default:
			return ErrInvalidKey
		}
	}
	return nil
}
