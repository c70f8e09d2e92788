// Package content is a small content store used by the CLI and as the
// indexer's document source. Items are kept as JSON in a state.StateStore.
package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/state"
)

const keyPrefix = "content.item."

// Item is a piece of content that can be indexed.
type Item struct {
	ItemID    string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ID returns the item's identity. Safe on a nil item.
func (i *Item) ID() string {
	if i == nil {
		return ""
	}
	return i.ItemID
}

// ContentType returns the item's type. Safe on a nil item.
func (i *Item) ContentType() string {
	if i == nil {
		return ""
	}
	return i.Type
}

// Store keeps content items in a state store.
type Store struct {
	state state.StateStore
	now   func() time.Time
}

// NewStore creates a content store over s.
func NewStore(s state.StateStore) *Store {
	return &Store{
		state: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func itemKey(id string) string {
	return keyPrefix + base64.RawURLEncoding.EncodeToString([]byte(id))
}

// Put stores item, stamping UpdatedAt.
func (s *Store) Put(ctx context.Context, item *Item) error {
	if item.ID() == "" {
		return errors.InvalidArgument("content item id is required")
	}
	item.UpdatedAt = s.now()

	data, err := json.Marshal(item)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInternal, "content: encode item",
			errors.WithContentItemID(item.ItemID))
	}
	if _, err := s.state.Put(ctx, itemKey(item.ItemID), data); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeRepository, "content: put item",
			errors.WithContentItemID(item.ItemID))
	}
	return nil
}

// Get returns the item with id, or a NOT_FOUND error.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	if id == "" {
		return nil, errors.InvalidArgument("content item id is required")
	}

	entry, err := s.state.Get(ctx, itemKey(id))
	if err == state.ErrNotFound {
		return nil, errors.NotFound("content item not found", errors.WithContentItemID(id))
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeRepository, "content: get item",
			errors.WithContentItemID(id))
	}

	var item Item
	if err := json.Unmarshal(entry.Value, &item); err != nil {
		return nil, errors.Corruption("content: undecodable item",
			errors.WithContentItemID(id), errors.WithCause(err))
	}
	return &item, nil
}

// Delete removes the item with id. Deleting a missing item is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.InvalidArgument("content item id is required")
	}
	if err := s.state.Delete(ctx, itemKey(id)); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeRepository, "content: delete item",
			errors.WithContentItemID(id))
	}
	return nil
}
