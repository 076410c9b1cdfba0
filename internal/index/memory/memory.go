// Package memory provides an in-memory index.Store for tests and
// single-process development.
package memory

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/filedrift/filedrift/internal/index"
)

// Store keeps documents in btree-ordered in-memory maps, one per index.
type Store struct {
	mu      sync.RWMutex
	indices map[string]*btree.Map[string, []byte]
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{indices: make(map[string]*btree.Map[string, []byte])}
}

// CreateIndex provisions an index. Existing indices are left untouched.
func (s *Store) CreateIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[name]; !ok {
		s.indices[name] = new(btree.Map[string, []byte])
	}
	return nil
}

// DeleteIndex drops an index and all its documents.
func (s *Store) DeleteIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[name]; !ok {
		return index.ErrNotFound
	}
	delete(s.indices, name)
	return nil
}

func (s *Store) idx(name string) (*btree.Map[string, []byte], error) {
	if m, ok := s.indices[name]; ok {
		return m, nil
	}
	return nil, index.ErrNotFound
}

// Get returns a document source.
func (s *Store) Get(_ context.Context, name, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.idx(name)
	if err != nil {
		return nil, err
	}
	src, ok := m.Get(id)
	if !ok {
		return nil, index.ErrNotFound
	}
	return append([]byte(nil), src...), nil
}

// Put upserts a document.
func (s *Store) Put(_ context.Context, name, id string, source []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.idx(name)
	if err != nil {
		return err
	}
	m.Set(id, append([]byte(nil), source...))
	return nil
}

// Delete removes a document.
func (s *Store) Delete(_ context.Context, name, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.idx(name)
	if err != nil {
		return false, err
	}
	_, existed := m.Delete(id)
	return existed, nil
}

// DeleteByPrefix removes every document whose ID starts with prefix.
func (s *Store) DeleteByPrefix(_ context.Context, name, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.idx(name)
	if err != nil {
		return 0, err
	}
	var ids []string
	m.Ascend(prefix, func(id string, _ []byte) bool {
		if !strings.HasPrefix(id, prefix) {
			return false
		}
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		m.Delete(id)
	}
	return int64(len(ids)), nil
}

// List returns one ID-sorted page of documents matching prefix.
func (s *Store) List(_ context.Context, name, prefix string, size int, cursor string) (*index.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.idx(name)
	if err != nil {
		return nil, err
	}

	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 50
	}

	var total int64
	m.Ascend(prefix, func(id string, _ []byte) bool {
		if !strings.HasPrefix(id, prefix) {
			return false
		}
		total++
		return true
	})

	page := &index.Page{Total: total}
	pivot := prefix
	if after != "" {
		pivot = after
	}
	m.Ascend(pivot, func(id string, src []byte) bool {
		if !strings.HasPrefix(id, prefix) {
			return false
		}
		if after != "" && id <= after {
			return true
		}
		if len(page.Docs) == size {
			page.Next = encodeCursor(page.Docs[size-1].ID)
			return false
		}
		page.Docs = append(page.Docs, index.Doc{ID: id, Source: append([]byte(nil), src...)})
		return true
	})
	return page, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func encodeCursor(lastID string) string {
	return base64.URLEncoding.EncodeToString([]byte(lastID))
}

func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", index.ErrBadCursor
	}
	return string(raw), nil
}
