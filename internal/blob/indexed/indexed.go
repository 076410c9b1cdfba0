// Package indexed provides a blob store backed by the indexed document
// store, for buckets whose payloads should live next to their metadata.
package indexed

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/index"
	"github.com/filedrift/filedrift/internal/metrics"
)

// Store implements blob.Store on top of an index.Store. Each blob is one
// document in a per-tenant index, keyed bucket/key.
type Store struct {
	index    index.Store
	pageSize int
}

// New creates an indexed blob store.
func New(idx index.Store) *Store {
	return &Store{index: idx, pageSize: 100}
}

func indexName(tenant string) string {
	return "blobs-" + tenant
}

func docID(bucket, key string) string {
	return bucket + "/" + key
}

// Put buffers exactly length bytes and stores them as one document.
func (s *Store) Put(ctx context.Context, tenant, bucket string, r io.Reader, length int64) (*blob.PutResult, error) {
	start := time.Now()

	var buf bytes.Buffer
	buf.Grow(int(length))
	hash := md5.New()
	n, err := io.Copy(&buf, io.TeeReader(blob.ExactReader(r, length), hash))
	if err != nil || n != length {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read blob content: %w", err)
	}

	if err := s.index.CreateIndex(ctx, indexName(tenant)); err != nil {
		return nil, fmt.Errorf("provision blob index: %w", err)
	}

	key := uuid.NewString()
	if err := s.index.Put(ctx, indexName(tenant), docID(bucket, key), buf.Bytes()); err != nil {
		return nil, fmt.Errorf("store blob %s: %w", key, err)
	}

	metrics.RecordBlobOperation(blob.TypeIndexed, "put", time.Since(start))
	return &blob.PutResult{
		Key:  key,
		Hash: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Get returns the stored document as a stream.
func (s *Store) Get(ctx context.Context, tenant, bucket, key string) (io.ReadCloser, error) {
	src, err := s.index.Get(ctx, indexName(tenant), docID(bucket, key))
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(src)), nil
}

// Exists checks whether the document exists.
func (s *Store) Exists(ctx context.Context, tenant, bucket, key string) (bool, error) {
	_, err := s.index.Get(ctx, indexName(tenant), docID(bucket, key))
	if errors.Is(err, index.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check blob %s: %w", key, err)
	}
	return true, nil
}

// ListKeys pages through the bucket's documents, hiding the cursor.
func (s *Store) ListKeys(ctx context.Context, tenant, bucket string, fn func(key string) error) error {
	cursor := ""
	prefix := bucket + "/"
	for {
		page, err := s.index.List(ctx, indexName(tenant), prefix, s.pageSize, cursor)
		if err != nil {
			if errors.Is(err, index.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("list blobs: %w", err)
		}
		for _, doc := range page.Docs {
			if err := fn(doc.ID[len(prefix):]); err != nil {
				return err
			}
		}
		if page.Next == "" {
			return nil
		}
		cursor = page.Next
	}
}

// Delete removes the document. Missing documents are ignored.
func (s *Store) Delete(ctx context.Context, tenant, bucket, key string) error {
	_, err := s.index.Delete(ctx, indexName(tenant), docID(bucket, key))
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// DeleteBucket removes every document under the bucket prefix.
func (s *Store) DeleteBucket(ctx context.Context, tenant, bucket string) error {
	_, err := s.index.DeleteByPrefix(ctx, indexName(tenant), bucket+"/")
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		return fmt.Errorf("delete bucket blobs %s/%s: %w", tenant, bucket, err)
	}
	return nil
}

// DeleteAll drops the tenant's blob index.
func (s *Store) DeleteAll(ctx context.Context, tenant string) error {
	err := s.index.DeleteIndex(ctx, indexName(tenant))
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		return fmt.Errorf("delete tenant blobs %s: %w", tenant, err)
	}
	return nil
}

// Type returns "indexed".
func (s *Store) Type() string { return blob.TypeIndexed }

// Close is a no-op; the index store is owned by the caller.
func (s *Store) Close() error { return nil }
