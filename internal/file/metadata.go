package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/filedrift/filedrift/internal/bucket"
	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/index"
	"github.com/filedrift/filedrift/internal/webpath"
)

// Metadata describes one stored file. The path doubles as the document
// id in the bucket's metadata index, so it is unique per bucket. The
// storage key is freshly generated on every write and never reused.
type Metadata struct {
	Path        string    `json:"path"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Length      int64     `json:"length"`
	ContentType string    `json:"contentType,omitempty"`
	Hash        string    `json:"hash"`
	Encryption  string    `json:"encryption,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Owner       string    `json:"owner"`
	Group       string    `json:"group,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     int64     `json:"version"`
}

// Listing is one page of metadata entries.
type Listing struct {
	Total int64       `json:"total"`
	Files []*Metadata `json:"files"`
	Next  string      `json:"next,omitempty"`
}

// metaStore wraps the indexed store with per-bucket metadata indices.
type metaStore struct {
	index index.Store
}

func (m *metaStore) get(ctx context.Context, bucketName string, p webpath.Path) (*Metadata, error) {
	src, err := m.index.Get(ctx, bucket.MetaIndex(bucketName), p.String())
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil, errs.NotFound("file [%s] in bucket [%s]", p, bucketName)
		}
		return nil, fmt.Errorf("load metadata %s%s: %w", bucketName, p, err)
	}
	meta := &Metadata{}
	if err := json.Unmarshal(src, meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s%s: %w", bucketName, p, err)
	}
	return meta, nil
}

func (m *metaStore) put(ctx context.Context, bucketName string, meta *Metadata) error {
	src, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata %s: %w", meta.Path, err)
	}
	if err := m.index.Put(ctx, bucket.MetaIndex(bucketName), meta.Path, src); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return errs.NotFound("file bucket [%s]", bucketName)
		}
		return fmt.Errorf("store metadata %s%s: %w", bucketName, meta.Path, err)
	}
	return nil
}

func (m *metaStore) delete(ctx context.Context, bucketName string, p webpath.Path) (bool, error) {
	deleted, err := m.index.Delete(ctx, bucket.MetaIndex(bucketName), p.String())
	if err != nil {
		return false, fmt.Errorf("delete metadata %s%s: %w", bucketName, p, err)
	}
	return deleted, nil
}

func (m *metaStore) deleteByPrefix(ctx context.Context, bucketName string, prefix webpath.Path) (int64, error) {
	count, err := m.index.DeleteByPrefix(ctx, bucket.MetaIndex(bucketName), prefix.String())
	if err != nil {
		return 0, fmt.Errorf("delete metadata prefix %s%s: %w", bucketName, prefix, err)
	}
	return count, nil
}

func (m *metaStore) list(ctx context.Context, bucketName string, prefix webpath.Path, size int, cursor string) (*Listing, error) {
	stringPrefix := ""
	if !prefix.IsRoot() {
		stringPrefix = prefix.String()
	}
	page, err := m.index.List(ctx, bucket.MetaIndex(bucketName), stringPrefix, size, cursor)
	if err != nil {
		if errors.Is(err, index.ErrBadCursor) {
			return nil, errs.IllegalArgument("invalid pagination cursor")
		}
		if errors.Is(err, index.ErrNotFound) {
			return nil, errs.NotFound("file bucket [%s]", bucketName)
		}
		return nil, fmt.Errorf("list metadata %s%s: %w", bucketName, prefix, err)
	}
	listing := &Listing{
		Total: page.Total,
		Files: make([]*Metadata, 0, len(page.Docs)),
		Next:  page.Next,
	}
	for _, doc := range page.Docs {
		meta := &Metadata{}
		if err := json.Unmarshal(doc.Source, meta); err != nil {
			return nil, fmt.Errorf("decode metadata %s%s: %w", bucketName, doc.ID, err)
		}
		listing.Files = append(listing.Files, meta)
	}
	return listing, nil
}

// forEach walks every metadata entry of a bucket, page by page.
func (m *metaStore) forEach(ctx context.Context, bucketName string, fn func(*Metadata) error) error {
	cursor := ""
	for {
		listing, err := m.list(ctx, bucketName, webpath.Root, 200, cursor)
		if err != nil {
			return err
		}
		for _, meta := range listing.Files {
			if err := fn(meta); err != nil {
				return err
			}
		}
		if listing.Next == "" {
			return nil
		}
		cursor = listing.Next
	}
}
