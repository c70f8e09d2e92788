package taskstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/indexing"
	"github.com/vinayprograms/indexkit/state"
)

// KeyPrefix is the state key prefix for pending tasks.
const KeyPrefix = "indexing.item."

// record is the stored form of a task. Seq is the entry revision.
type record struct {
	ID            string    `json:"id"`
	ContentItemID string    `json:"content_item_id"`
	ContentType   string    `json:"content_type,omitempty"`
	Action        string    `json:"action"`
	CreatedAt     time.Time `json:"created_at"`
}

// KVRepository stores pending tasks in a revisioned key-value store.
type KVRepository struct {
	store       state.StateStore
	maxAttempts int
	backoff     time.Duration
	idGen       func() string
}

// KVOption configures a KVRepository.
type KVOption func(*KVRepository)

// WithMaxAttempts bounds how often a conflicting transaction is retried.
func WithMaxAttempts(n int) KVOption {
	return func(r *KVRepository) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between conflicting attempts.
func WithBackoff(d time.Duration) KVOption {
	return func(r *KVRepository) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

// WithIDGenerator sets a custom task ID generator.
func WithIDGenerator(gen func() string) KVOption {
	return func(r *KVRepository) {
		if gen != nil {
			r.idGen = gen
		}
	}
}

// NewKVRepository creates a repository over store.
func NewKVRepository(store state.StateStore, opts ...KVOption) *KVRepository {
	r := &KVRepository{
		store:       store,
		maxAttempts: 16,
		backoff:     2 * time.Millisecond,
		idGen:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ItemKey returns the state key holding the task for contentItemID.
// Ids are base64url encoded so any string maps to a valid key.
func ItemKey(contentItemID string) string {
	return KeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(contentItemID))
}

// Create inserts task in its own transaction.
func (r *KVRepository) Create(ctx context.Context, task *indexing.Task) error {
	return r.Transact(ctx, task.ContentItemID, func(s indexing.Store) error {
		return s.Create(ctx, task)
	})
}

// Delete removes task in its own transaction.
func (r *KVRepository) Delete(ctx context.Context, task indexing.Task) error {
	return r.Transact(ctx, task.ContentItemID, func(s indexing.Store) error {
		return s.Delete(ctx, task)
	})
}

// Fetch returns tasks matching q.
func (r *KVRepository) Fetch(ctx context.Context, q indexing.Query) ([]indexing.Task, error) {
	if q.Kind == indexing.QueryContentItem {
		task, _, err := r.load(ctx, q.ContentItemID)
		if err != nil || task == nil {
			return nil, err
		}
		return []indexing.Task{*task}, nil
	}

	keys, err := r.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, storeError(err, "kv: list tasks")
	}

	var tasks []indexing.Task
	for _, key := range keys {
		entry, err := r.store.Get(ctx, key)
		if err == state.ErrNotFound {
			continue // removed since listing
		}
		if err != nil {
			return nil, storeError(err, "kv: get task")
		}
		task, err := decode(entry)
		if err != nil {
			return nil, err
		}
		if q.Match(task) {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// load returns the pending task for contentItemID and its revision.
// A nil task means nothing is pending.
func (r *KVRepository) load(ctx context.Context, contentItemID string) (*indexing.Task, uint64, error) {
	entry, err := r.store.Get(ctx, ItemKey(contentItemID))
	if err == state.ErrNotFound {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, storeError(err, "kv: get task")
	}
	task, err := decode(entry)
	if err != nil {
		return nil, 0, err
	}
	return &task, entry.Revision, nil
}

// Transact runs fn against a snapshot of contentItemID's pending task and
// commits the result with one revision-checked write. If another writer got
// there first the snapshot is reloaded and fn runs again.
func (r *KVRepository) Transact(ctx context.Context, contentItemID string, fn func(indexing.Store) error) error {
	if contentItemID == "" {
		return errors.InvalidArgument("content item id is required")
	}

	for attempt := 1; ; attempt++ {
		current, rev, err := r.load(ctx, contentItemID)
		if err != nil {
			return err
		}

		tx := &kvTx{
			repo:     r,
			itemID:   contentItemID,
			original: current,
			view:     current,
		}
		if err := fn(tx); err != nil {
			return err
		}

		err = tx.commit(ctx, rev)
		if err == nil {
			return nil
		}
		if err != state.ErrKeyExists && err != state.ErrRevisionMismatch {
			return storeError(err, "kv: commit task")
		}
		if attempt >= r.maxAttempts {
			return errors.Conflict("kv: too many concurrent writers",
				errors.WithContentItemID(contentItemID),
				errors.WithCause(err))
		}
		if err := r.wait(ctx, attempt); err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeCanceled, "kv: transaction aborted",
				errors.WithContentItemID(contentItemID))
		}
	}
}

func (r *KVRepository) wait(ctx context.Context, attempt int) error {
	if r.backoff == 0 {
		return ctx.Err()
	}
	d := r.backoff * time.Duration(attempt)
	if d > 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// kvTx buffers one content item's changes until commit.
type kvTx struct {
	repo     *KVRepository
	itemID   string
	original *indexing.Task
	view     *indexing.Task
	created  *indexing.Task
}

func (tx *kvTx) Create(ctx context.Context, task *indexing.Task) error {
	if task.ContentItemID != tx.itemID {
		return errors.InvalidArgument("task is outside the transaction's content item",
			errors.WithContentItemID(task.ContentItemID))
	}
	if tx.view != nil {
		return errors.Conflict("content item already has a pending task",
			errors.WithContentItemID(tx.itemID),
			errors.WithTaskID(tx.view.ID))
	}
	if !task.Action.Valid() {
		return errors.InvalidArgument("invalid action: "+task.Action.String(),
			errors.WithContentItemID(tx.itemID))
	}

	task.ID = tx.repo.idGen()
	stored := *task
	tx.view = &stored
	tx.created = task
	return nil
}

func (tx *kvTx) Delete(ctx context.Context, task indexing.Task) error {
	if task.ContentItemID != tx.itemID {
		return errors.InvalidArgument("task is outside the transaction's content item",
			errors.WithContentItemID(task.ContentItemID))
	}
	if tx.view != nil && tx.view.ID == task.ID {
		tx.view = nil
		if tx.created != nil && tx.created.ID == task.ID {
			tx.created = nil
		}
	}
	return nil
}

// Fetch sees the transaction's own pending changes for its content item and
// committed state for everything else.
func (tx *kvTx) Fetch(ctx context.Context, q indexing.Query) ([]indexing.Task, error) {
	if q.Kind == indexing.QueryContentItem && q.ContentItemID == tx.itemID {
		if tx.view == nil {
			return nil, nil
		}
		return []indexing.Task{*tx.view}, nil
	}

	committed, err := tx.repo.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	tasks := committed[:0]
	for _, t := range committed {
		if t.ContentItemID != tx.itemID {
			tasks = append(tasks, t)
		}
	}
	if tx.view != nil && q.Match(*tx.view) {
		tasks = append(tasks, *tx.view)
	}
	return tasks, nil
}

func (tx *kvTx) commit(ctx context.Context, rev uint64) error {
	store := tx.repo.store
	key := ItemKey(tx.itemID)

	switch {
	case tx.view == tx.original:
		return nil

	case tx.view == nil:
		return store.DeleteRevision(ctx, key, rev)

	default:
		data, err := encode(*tx.view)
		if err != nil {
			return err
		}
		var newRev uint64
		if tx.original == nil {
			newRev, err = store.Create(ctx, key, data)
		} else {
			newRev, err = store.Update(ctx, key, data, rev)
		}
		if err != nil {
			return err
		}
		if tx.created != nil {
			tx.created.Seq = newRev
		}
		return nil
	}
}

func encode(task indexing.Task) ([]byte, error) {
	data, err := json.Marshal(record{
		ID:            task.ID,
		ContentItemID: task.ContentItemID,
		ContentType:   task.ContentType,
		Action:        task.Action.String(),
		CreatedAt:     task.CreatedAt.UTC(),
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "kv: encode task",
			errors.WithContentItemID(task.ContentItemID))
	}
	return data, nil
}

func decode(entry *state.Entry) (indexing.Task, error) {
	var rec record
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return indexing.Task{}, errors.Corruption("kv: undecodable task at "+entry.Key, errors.WithCause(err))
	}
	return indexing.Task{
		ID:            rec.ID,
		ContentItemID: rec.ContentItemID,
		ContentType:   rec.ContentType,
		Action:        indexing.Action(rec.Action),
		CreatedAt:     rec.CreatedAt,
		Seq:           entry.Revision,
	}, nil
}

// storeError converts a state store failure to a coded repository error.
func storeError(err error, msg string) error {
	switch {
	case stderrors.Is(err, state.ErrClosed), stderrors.Is(err, state.ErrUnavailable):
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, msg)
	case stderrors.Is(err, state.ErrInvalidKey):
		return errors.WrapWithCode(err, errors.ErrCodeInvalidArgument, msg)
	default:
		return errors.WrapWithCode(err, errors.ErrCodeRepository, msg)
	}
}
