package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS state_entries (
    key        TEXT    PRIMARY KEY,
    value      BLOB,
    revision   INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS state_revision (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    revision INTEGER NOT NULL
);

INSERT OR IGNORE INTO state_revision (id, revision) VALUES (1, 0);
`

// SQLStore implements StateStore on a SQL database, for deployments that keep
// tasks in SQLite and want content and checkpoints in the same file.
// Watch only sees writes made through this SQLStore.
type SQLStore struct {
	db     *sql.DB
	closed atomic.Bool
	hub    *watchHub
}

// NewSQLStore creates the state tables in db if needed.
// The caller owns db; Close does not close it.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		return nil, fmt.Errorf("apply state schema: %w", err)
	}
	return &SQLStore{db: db, hub: newWatchHub()}, nil
}

func (s *SQLStore) check(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Get retrieves the current entry for key.
func (s *SQLStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := s.check(ctx, key); err != nil {
		return nil, err
	}

	var (
		value   []byte
		rev     uint64
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, revision, created_at FROM state_entries WHERE key = ?`, key,
	).Scan(&value, &rev, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapSQLErr("get", err)
	}

	return &Entry{
		Key:       key,
		Value:     value,
		Revision:  rev,
		Operation: OpPut,
		Created:   time.Unix(0, created),
	}, nil
}

// Put stores a value unconditionally.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.write(ctx, key, value, func(tx *sql.Tx) error { return nil })
}

// Create stores a value only if the key is absent.
func (s *SQLStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.write(ctx, key, value, func(tx *sql.Tx) error {
		_, err := currentRevision(ctx, tx, key)
		switch {
		case err == nil:
			return ErrKeyExists
		case errors.Is(err, sql.ErrNoRows):
			return nil
		default:
			return err
		}
	})
}

// Update stores a value only if the key is at the given revision.
func (s *SQLStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return s.write(ctx, key, value, func(tx *sql.Tx) error {
		return expectRevision(ctx, tx, key, revision)
	})
}

// write runs precondition and the upsert in one transaction.
func (s *SQLStore) write(ctx context.Context, key string, value []byte, precondition func(*sql.Tx) error) (uint64, error) {
	if err := s.check(ctx, key); err != nil {
		return 0, err
	}

	var rev uint64
	now := time.Now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := precondition(tx); err != nil {
			return err
		}
		var err error
		if rev, err = nextRevision(ctx, tx); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO state_entries (key, value, revision, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				value = excluded.value,
				revision = excluded.revision,
				created_at = excluded.created_at`,
			key, value, rev, now.UnixNano())
		return err
	})
	if err != nil {
		return 0, err
	}

	s.hub.publish(Entry{Key: key, Value: value, Revision: rev, Operation: OpPut, Created: now})
	return rev, nil
}

// Delete removes a key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.remove(ctx, key, func(tx *sql.Tx) (bool, error) {
		_, err := currentRevision(ctx, tx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return err == nil, err
	})
}

// DeleteRevision removes a key only if it is at the given revision.
func (s *SQLStore) DeleteRevision(ctx context.Context, key string, revision uint64) error {
	return s.remove(ctx, key, func(tx *sql.Tx) (bool, error) {
		if err := expectRevision(ctx, tx, key, revision); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (s *SQLStore) remove(ctx context.Context, key string, precondition func(*sql.Tx) (bool, error)) error {
	if err := s.check(ctx, key); err != nil {
		return err
	}

	var (
		rev     uint64
		removed bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if removed, err = precondition(tx); err != nil || !removed {
			return err
		}
		if rev, err = nextRevision(ctx, tx); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM state_entries WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return err
	}

	if removed {
		s.hub.publish(Entry{Key: key, Revision: rev, Operation: OpDelete, Created: time.Now()})
	}
	return nil
}

// Keys returns all keys with the given prefix.
func (s *SQLStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM state_entries WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, wrapSQLErr("keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, wrapSQLErr("keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLErr("keys", err)
	}
	return keys, nil
}

// Watch streams changes made through this store to keys with the given prefix.
func (s *SQLStore) Watch(ctx context.Context, prefix string) (<-chan *Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.hub.watch(ctx, prefix)
}

// Close releases watchers. The database stays open.
func (s *SQLStore) Close() error {
	s.closed.Store(true)
	s.hub.close()
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLErr("begin", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		switch err {
		case ErrKeyExists, ErrRevisionMismatch:
			return err
		}
		return wrapSQLErr("write", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapSQLErr("commit", err)
	}
	return nil
}

func currentRevision(ctx context.Context, tx *sql.Tx, key string) (uint64, error) {
	var rev uint64
	err := tx.QueryRowContext(ctx, `SELECT revision FROM state_entries WHERE key = ?`, key).Scan(&rev)
	return rev, err
}

func expectRevision(ctx context.Context, tx *sql.Tx, key string, revision uint64) error {
	rev, err := currentRevision(ctx, tx, key)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && rev != revision) {
		return ErrRevisionMismatch
	}
	return err
}

func nextRevision(ctx context.Context, tx *sql.Tx) (uint64, error) {
	if _, err := tx.ExecContext(ctx, `UPDATE state_revision SET revision = revision + 1 WHERE id = 1`); err != nil {
		return 0, err
	}
	var rev uint64
	err := tx.QueryRowContext(ctx, `SELECT revision FROM state_revision WHERE id = 1`).Scan(&rev)
	return rev, err
}

// wrapSQLErr annotates err with op and marks a closed database with
// ErrUnavailable.
func wrapSQLErr(op string, err error) error {
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("sql %s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("sql %s: %w", op, err)
}
