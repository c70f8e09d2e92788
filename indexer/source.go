package indexer

import (
	"context"

	"github.com/vinayprograms/indexkit/content"
)

// Source loads the current content of an item for indexing.
// It returns a NOT_FOUND coded error when the item no longer exists.
type Source interface {
	Load(ctx context.Context, contentItemID string) (Document, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, contentItemID string) (Document, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context, contentItemID string) (Document, error) {
	return f(ctx, contentItemID)
}

// ContentSource reads documents from a content.Store.
type ContentSource struct {
	store *content.Store
}

// NewContentSource creates a Source over store.
func NewContentSource(store *content.Store) *ContentSource {
	return &ContentSource{store: store}
}

// Load returns the document for contentItemID.
func (s *ContentSource) Load(ctx context.Context, contentItemID string) (Document, error) {
	item, err := s.store.Get(ctx, contentItemID)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:        item.ItemID,
		Type:      item.Type,
		Title:     item.Title,
		Body:      item.Body,
		UpdatedAt: item.UpdatedAt,
	}, nil
}
