package indexing

import (
	"reflect"
	"time"

	"github.com/vinayprograms/indexkit/errors"
)

// Action is what the indexer must do for a content item.
type Action string

const (
	// ActionUpdate means (re)index the item's current content.
	ActionUpdate Action = "update"

	// ActionDelete means remove the item from the index.
	ActionDelete Action = "delete"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionUpdate || a == ActionDelete
}

// ParseAction converts s to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", errors.InvalidArgument("unknown action: " + s)
	}
	return a, nil
}

// Task is a pending index change for one content item.
// Tasks are immutable once created.
type Task struct {
	// ID is assigned by the repository on creation.
	ID string `json:"id"`

	// ContentItemID identifies the changed content item.
	ContentItemID string `json:"content_item_id"`

	// ContentType is the type of the content item.
	ContentType string `json:"content_type,omitempty"`

	Action Action `json:"action"`

	// CreatedAt orders tasks for readers.
	CreatedAt time.Time `json:"created_at"`

	// Seq is the repository insertion sequence. It only breaks ties
	// between equal CreatedAt values.
	Seq uint64 `json:"seq"`
}

// Before reports whether t sorts before other.
func (t Task) Before(other Task) bool {
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.Before(other.CreatedAt)
	}
	return t.Seq < other.Seq
}

// ContentItem is the read-only view of a content item the task log needs.
type ContentItem interface {
	// ID returns the item's stable identity.
	ID() string

	// ContentType returns the item's type name.
	ContentType() string
}

// validateItem rejects absent items, including typed nil pointers.
func validateItem(item ContentItem) error {
	if isNil(item) {
		return errors.InvalidArgument("content item is required")
	}
	if item.ID() == "" {
		return errors.InvalidArgument("content item id is required")
	}
	return nil
}

func isNil(item ContentItem) bool {
	if item == nil {
		return true
	}
	v := reflect.ValueOf(item)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// ItemRef is a ContentItem built from bare identity, for callers that only
// hold the id (for example a purge handler or the CLI).
type ItemRef struct {
	ItemID   string
	ItemType string
}

// Ref returns an ItemRef for id.
func Ref(id, contentType string) ItemRef {
	return ItemRef{ItemID: id, ItemType: contentType}
}

// ID returns the item id.
func (r ItemRef) ID() string { return r.ItemID }

// ContentType returns the item type.
func (r ItemRef) ContentType() string { return r.ItemType }
