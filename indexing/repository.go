package indexing

import (
	"context"
	"time"
)

// QueryKind selects one of the fixed predicate shapes a repository supports.
type QueryKind int

const (
	// QueryAll matches every task.
	QueryAll QueryKind = iota

	// QueryContentItem matches tasks referencing one content item.
	QueryContentItem

	// QueryCreatedAfter matches tasks created strictly after a timestamp.
	QueryCreatedAfter
)

// String returns the query kind name.
func (k QueryKind) String() string {
	switch k {
	case QueryAll:
		return "all"
	case QueryContentItem:
		return "content_item"
	case QueryCreatedAfter:
		return "created_after"
	default:
		return "unknown"
	}
}

// Query is a repository fetch predicate.
type Query struct {
	Kind          QueryKind
	ContentItemID string
	After         time.Time
}

// AllTasks matches every pending task.
func AllTasks() Query {
	return Query{Kind: QueryAll}
}

// ForContentItem matches tasks referencing id.
func ForContentItem(id string) Query {
	return Query{Kind: QueryContentItem, ContentItemID: id}
}

// CreatedAfter matches tasks with CreatedAt strictly after t.
func CreatedAfter(t time.Time) Query {
	return Query{Kind: QueryCreatedAfter, After: t}
}

// Match reports whether task satisfies q.
// Repositories that cannot push a predicate down filter with Match.
func (q Query) Match(task Task) bool {
	switch q.Kind {
	case QueryAll:
		return true
	case QueryContentItem:
		return task.ContentItemID == q.ContentItemID
	case QueryCreatedAfter:
		return task.CreatedAt.After(q.After)
	default:
		return false
	}
}

// Store is the record-level task storage contract.
type Store interface {
	// Create inserts task, assigning its ID and Seq.
	Create(ctx context.Context, task *Task) error

	// Delete removes the task with task.ID. A missing task is not an error.
	Delete(ctx context.Context, task Task) error

	// Fetch returns the tasks matching q, in no particular order.
	Fetch(ctx context.Context, q Query) ([]Task, error)
}

// Repository is a transactional task store.
type Repository interface {
	Store

	// Transact runs fn as one atomic unit over the tasks of a single content
	// item. Either every operation fn performed through the given Store is
	// applied or none is. Concurrent transactions on the same content item
	// never interleave. Errors returned by fn are returned unchanged.
	Transact(ctx context.Context, contentItemID string, fn func(Store) error) error
}
