package taskstore

import (
	"context"
	"database/sql"
	_ "embed"
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/indexing"
)

//go:embed schema.sql
var schemaSQL string

const taskColumns = "seq, id, content_item_id, content_type, action, created_at"

// created_at holds Unix nanoseconds, which covers years 1678 to 2262.
var (
	minCreatedAt = time.Unix(0, math.MinInt64).UTC()
	maxCreatedAt = time.Unix(0, math.MaxInt64).UTC()
)

// querier is the part of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLRepository stores pending tasks in a SQLite table.
type SQLRepository struct {
	db    *sql.DB
	idGen func() string
}

// SQLOption configures a SQLRepository.
type SQLOption func(*SQLRepository)

// WithSQLIDGenerator sets a custom task ID generator.
func WithSQLIDGenerator(gen func() string) SQLOption {
	return func(r *SQLRepository) {
		if gen != nil {
			r.idGen = gen
		}
	}
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. An empty path or ":memory:" opens a private in-memory database.
func OpenSQLite(path string, opts ...SQLOption) (*SQLRepository, error) {
	dsn := ":memory:"
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers in-process and keeps an in-memory
	// database alive for the repository's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo, err := NewSQLRepository(context.Background(), db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLRepository applies the schema to db and returns a repository over it.
func NewSQLRepository(ctx context.Context, db *sql.DB, opts ...SQLOption) (*SQLRepository, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	r := &SQLRepository{db: db, idGen: uuid.NewString}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DB returns the underlying database handle.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// Close closes the database.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) store(q querier, itemID string) *sqlStore {
	return &sqlStore{q: q, idGen: r.idGen, itemID: itemID}
}

// Create inserts task.
func (r *SQLRepository) Create(ctx context.Context, task *indexing.Task) error {
	return r.store(r.db, "").Create(ctx, task)
}

// Delete removes task by id.
func (r *SQLRepository) Delete(ctx context.Context, task indexing.Task) error {
	return r.store(r.db, "").Delete(ctx, task)
}

// Fetch returns tasks matching q.
func (r *SQLRepository) Fetch(ctx context.Context, q indexing.Query) ([]indexing.Task, error) {
	return r.store(r.db, "").Fetch(ctx, q)
}

// Transact runs fn inside one database transaction.
func (r *SQLRepository) Transact(ctx context.Context, contentItemID string, fn func(indexing.Store) error) error {
	if contentItemID == "" {
		return errors.InvalidArgument("content item id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return sqlError(err, "sqlite: begin transaction")
	}
	defer tx.Rollback()

	if err := fn(r.store(tx, contentItemID)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return sqlError(err, "sqlite: commit transaction")
	}
	return nil
}

// sqlStore runs task statements against a database or a transaction.
// A non-empty itemID restricts writes to that content item.
type sqlStore struct {
	q      querier
	idGen  func() string
	itemID string
}

func (s *sqlStore) inScope(contentItemID string) error {
	if s.itemID != "" && contentItemID != s.itemID {
		return errors.InvalidArgument("task is outside the transaction's content item",
			errors.WithContentItemID(contentItemID))
	}
	return nil
}

func (s *sqlStore) Create(ctx context.Context, task *indexing.Task) error {
	if err := s.inScope(task.ContentItemID); err != nil {
		return err
	}
	if task.ContentItemID == "" {
		return errors.InvalidArgument("content item id is required")
	}
	if !task.Action.Valid() {
		return errors.InvalidArgument("invalid action: "+task.Action.String(),
			errors.WithContentItemID(task.ContentItemID))
	}

	if task.CreatedAt.Before(minCreatedAt) || task.CreatedAt.After(maxCreatedAt) {
		return errors.InvalidArgument("created_at out of range: "+task.CreatedAt.UTC().Format(time.RFC3339),
			errors.WithContentItemID(task.ContentItemID))
	}

	id := s.idGen()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO indexing_tasks (id, content_item_id, content_type, action, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, task.ContentItemID, task.ContentType, task.Action.String(), task.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return sqlError(err, "sqlite: insert task", errors.WithContentItemID(task.ContentItemID))
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return sqlError(err, "sqlite: insert task", errors.WithContentItemID(task.ContentItemID))
	}

	task.ID = id
	task.Seq = uint64(seq)
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, task indexing.Task) error {
	if err := s.inScope(task.ContentItemID); err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM indexing_tasks WHERE id = ?`, task.ID); err != nil {
		return sqlError(err, "sqlite: delete task", errors.WithTaskID(task.ID))
	}
	return nil
}

func (s *sqlStore) Fetch(ctx context.Context, q indexing.Query) ([]indexing.Task, error) {
	var (
		query string
		args  []any
	)
	switch q.Kind {
	case indexing.QueryAll:
		query = `SELECT ` + taskColumns + ` FROM indexing_tasks ORDER BY created_at, seq`
	case indexing.QueryContentItem:
		query = `SELECT ` + taskColumns + ` FROM indexing_tasks WHERE content_item_id = ? ORDER BY created_at, seq`
		args = append(args, q.ContentItemID)
	case indexing.QueryCreatedAfter:
		// Every stored row is after a watermark below the range.
		if q.After.Before(minCreatedAt) {
			query = `SELECT ` + taskColumns + ` FROM indexing_tasks ORDER BY created_at, seq`
			break
		}
		after := int64(math.MaxInt64)
		if q.After.Before(maxCreatedAt) {
			after = q.After.UTC().UnixNano()
		}
		query = `SELECT ` + taskColumns + ` FROM indexing_tasks WHERE created_at > ? ORDER BY created_at, seq`
		args = append(args, after)
	default:
		return nil, errors.InvalidArgument("unsupported query: " + q.Kind.String())
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqlError(err, "sqlite: query tasks")
	}
	defer rows.Close()

	var tasks []indexing.Task
	for rows.Next() {
		var (
			t         indexing.Task
			seq       int64
			action    string
			createdAt int64
		)
		if err := rows.Scan(&seq, &t.ID, &t.ContentItemID, &t.ContentType, &action, &createdAt); err != nil {
			return nil, sqlError(err, "sqlite: scan task")
		}
		t.Seq = uint64(seq)
		t.Action = indexing.Action(action)
		t.CreatedAt = time.Unix(0, createdAt).UTC()
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlError(err, "sqlite: iterate tasks")
	}
	return tasks, nil
}

// sqlError converts a database failure to a coded repository error.
// Constraint violations become CONFLICT. Busy or locked databases are
// UNAVAILABLE.
func sqlError(err error, msg string, opts ...errors.Option) error {
	var se *sqlite.Error
	if stderrors.As(err, &se) {
		// Extended result codes carry the primary code in the low byte.
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return errors.WrapWithCode(err, errors.ErrCodeConflict, msg, opts...)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errors.WrapWithCode(err, errors.ErrCodeUnavailable, msg, opts...)
		}
	}
	if stderrors.Is(err, sql.ErrConnDone) {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, msg, opts...)
	}
	return errors.WrapWithCode(err, errors.ErrCodeRepository, msg, opts...)
}
