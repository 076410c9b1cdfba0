// Package index defines the indexed document store the service builds on.
//
// The engine behind it is deliberately opaque: callers get keyed documents,
// prefix queries with cursor pagination, and prefix deletes. Cursors are
// opaque tokens owned by the implementation; callers must never parse them.
package index

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document or index does not exist.
var ErrNotFound = errors.New("index: not found")

// ErrBadCursor is returned when a pagination cursor is not one the
// implementation handed out.
var ErrBadCursor = errors.New("index: invalid cursor")

// Doc is one stored document.
type Doc struct {
	ID     string
	Source []byte
}

// Page is one page of a prefix listing, sorted by document ID.
// Next is "" on the last page.
type Page struct {
	Total int64
	Docs  []Doc
	Next  string
}

// Store is an indexed key/document store with prefix queries.
type Store interface {
	// CreateIndex provisions an index. Re-creating an existing index is
	// a no-op.
	CreateIndex(ctx context.Context, name string) error

	// DeleteIndex drops an index and every document in it.
	DeleteIndex(ctx context.Context, name string) error

	// Get returns the document source, or ErrNotFound.
	Get(ctx context.Context, index, id string) ([]byte, error)

	// Put upserts a document.
	Put(ctx context.Context, index, id string, source []byte) error

	// Delete removes a document, reporting whether it existed.
	Delete(ctx context.Context, index, id string) (bool, error)

	// DeleteByPrefix removes every document whose ID starts with prefix
	// and returns the count removed.
	DeleteByPrefix(ctx context.Context, index, prefix string) (int64, error)

	// List returns one page of documents whose IDs start with prefix,
	// sorted by ID. Pass cursor="" for the first page and the returned
	// Next value afterwards.
	List(ctx context.Context, index, prefix string, size int, cursor string) (*Page, error)

	// Close releases resources held by the store.
	Close() error
}
