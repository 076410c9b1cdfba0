// Package blob defines the raw byte storage contract shared by all
// physical backends.
//
// Blobs are keyed by opaque generated keys, never by logical paths. A key
// is allocated fresh on every write so an overwrite never aliases a blob a
// concurrent reader may still be streaming.
package blob

import (
	"context"
	"errors"
	"io"
)

// Store types selectable per bucket.
const (
	TypeFilesystem = "fs"
	TypeIndexed    = "indexed"
	TypeS3         = "s3"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob: not found")

// PutResult reports a completed write: the freshly allocated key and the
// backend-computed MD5 content hash (the metadata's ETag equivalent).
type PutResult struct {
	Key  string
	Hash string
}

// Store is a tenant/bucket-scoped blob store.
type Store interface {
	// Put writes exactly length bytes from r under a new key. It fails
	// without leaving a partial blob when r yields fewer bytes.
	Put(ctx context.Context, tenant, bucket string, r io.Reader, length int64) (*PutResult, error)

	// Get opens a blob for reading, or returns ErrNotFound.
	Get(ctx context.Context, tenant, bucket, key string) (io.ReadCloser, error)

	// Exists reports whether a key exists.
	Exists(ctx context.Context, tenant, bucket, key string) (bool, error)

	// ListKeys walks every key in the bucket. Pagination is internal;
	// fn returning an error stops the walk.
	ListKeys(ctx context.Context, tenant, bucket string, fn func(key string) error) error

	// Delete removes a single blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, tenant, bucket, key string) error

	// DeleteBucket removes every blob under tenant/bucket.
	DeleteBucket(ctx context.Context, tenant, bucket string) error

	// DeleteAll removes every blob under the tenant.
	DeleteAll(ctx context.Context, tenant string) error

	// Type returns the backend type identifier.
	Type() string

	// Close releases resources held by the store.
	Close() error
}

// Stores bundles the configured backends; buckets select one by type.
type Stores struct {
	Filesystem Store
	Indexed    Store
	S3         Store
}

// ForType returns the store for a bucket store type.
func (s Stores) ForType(storeType string) (Store, bool) {
	switch storeType {
	case TypeFilesystem:
		return s.Filesystem, s.Filesystem != nil
	case TypeIndexed:
		return s.Indexed, s.Indexed != nil
	case TypeS3:
		return s.S3, s.S3 != nil
	}
	return nil, false
}

// ExactReader caps r at length bytes and fails with io.ErrUnexpectedEOF
// if the source ends early, so no backend ever stores a partial blob.
func ExactReader(r io.Reader, length int64) io.Reader {
	return &exactReader{r: io.LimitReader(r, length), remain: length}
}

type exactReader struct {
	r      io.Reader
	remain int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	e.remain -= int64(n)
	if err == io.EOF && e.remain > 0 {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}
