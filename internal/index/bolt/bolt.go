// Package bolt provides a bbolt-backed index.Store, the default engine
// for single-node deployments.
package bolt

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/filedrift/filedrift/internal/index"
)

// Config configures the bbolt-backed store.
type Config struct {
	Path    string
	Timeout time.Duration
}

// Store persists indices as bbolt buckets, one bucket per index.
type Store struct {
	db *bbolt.DB
}

// New opens or creates the database file.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt: path is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("bolt: open: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateIndex provisions a bucket for the index.
func (s *Store) CreateIndex(_ context.Context, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

// DeleteIndex drops the index bucket.
func (s *Store) DeleteIndex(_ context.Context, name string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte(name))
	})
	if err == bbolt.ErrBucketNotFound {
		return index.ErrNotFound
	}
	return err
}

// Get returns a document source.
func (s *Store) Get(_ context.Context, name, id string) ([]byte, error) {
	var src []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return index.ErrNotFound
		}
		v := bkt.Get([]byte(id))
		if v == nil {
			return index.ErrNotFound
		}
		src = append([]byte(nil), v...)
		return nil
	})
	return src, err
}

// Put upserts a document.
func (s *Store) Put(_ context.Context, name, id string, source []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return index.ErrNotFound
		}
		return bkt.Put([]byte(id), source)
	})
}

// Delete removes a document.
func (s *Store) Delete(_ context.Context, name, id string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return index.ErrNotFound
		}
		if bkt.Get([]byte(id)) == nil {
			return nil
		}
		existed = true
		return bkt.Delete([]byte(id))
	})
	return existed, err
}

// DeleteByPrefix removes every document whose ID starts with prefix.
func (s *Store) DeleteByPrefix(_ context.Context, name, prefix string) (int64, error) {
	var count int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return index.ErrNotFound
		}
		c := bkt.Cursor()
		p := []byte(prefix)
		var ids [][]byte
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			ids = append(ids, append([]byte(nil), k...))
		}
		for _, id := range ids {
			if err := bkt.Delete(id); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// List returns one ID-sorted page of documents matching prefix.
func (s *Store) List(_ context.Context, name, prefix string, size int, cursor string) (*index.Page, error) {
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 50
	}

	page := &index.Page{}
	err = s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return index.ErrNotFound
		}
		c := bkt.Cursor()
		p := []byte(prefix)

		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			page.Total++
		}

		start := p
		if after != "" {
			start = []byte(after)
		}
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			id := string(k)
			if after != "" && id <= after {
				continue
			}
			if len(page.Docs) == size {
				page.Next = encodeCursor(page.Docs[size-1].ID)
				break
			}
			page.Docs = append(page.Docs, index.Doc{
				ID:     id,
				Source: append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeCursor(lastID string) string {
	return base64.URLEncoding.EncodeToString([]byte(lastID))
}

func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil || strings.Contains(string(raw), "\x00") {
		return "", index.ErrBadCursor
	}
	return string(raw), nil
}
