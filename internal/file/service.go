// Package file orchestrates uploads, downloads, deletes, listings and
// exports against the bucket registry, the metadata index and the blob
// stores.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/filedrift/filedrift/internal/auth"
	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/bucket"
	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/index"
	"github.com/filedrift/filedrift/internal/logging"
	"github.com/filedrift/filedrift/internal/metrics"
	"github.com/filedrift/filedrift/internal/webpath"
)

// Service is the file storage front. All operations read the caller's
// credentials from the context.
type Service struct {
	tenant   string
	registry *bucket.Registry
	stores   blob.Stores
	meta     *metaStore
}

// New creates a file service for one tenant.
func New(tenant string, registry *bucket.Registry, stores blob.Stores, idx index.Store) *Service {
	return &Service{
		tenant:   tenant,
		registry: registry,
		stores:   stores,
		meta:     &metaStore{index: idx},
	}
}

// Registry exposes the bucket registry for read-only lookups.
func (s *Service) Registry() *bucket.Registry {
	return s.registry
}

// Two-phase write outcomes. The blob write always precedes the index
// write; an index record must never point at a blob that was not
// written.
type writeStatus int

const (
	writeSuccess writeStatus = iota
	writeBlobFailed
	writeIndexFailed
)

type writeResult struct {
	status writeStatus
	put    *blob.PutResult
	err    error
}

// writeTwoPhase writes the blob, then the metadata record. When the
// index write fails the freshly written blob is deleted best-effort so
// the common failure path leaves no orphan. A compensation failure is
// logged only; the caller sees the index error.
func (s *Service) writeTwoPhase(ctx context.Context, store blob.Store, bucketName string, meta *Metadata, r io.Reader, length int64) writeResult {
	put, err := store.Put(ctx, s.tenant, bucketName, r, length)
	if err != nil {
		return writeResult{status: writeBlobFailed, err: fmt.Errorf("write blob %s%s: %w", bucketName, meta.Path, err)}
	}

	meta.Key = put.Key
	meta.Hash = put.Hash
	if err := s.meta.put(ctx, bucketName, meta); err != nil {
		if delErr := store.Delete(ctx, s.tenant, bucketName, put.Key); delErr != nil {
			logging.Error("orphaned blob after failed metadata write",
				zap.String("bucket", bucketName),
				zap.String("key", put.Key),
				zap.Error(delErr))
		}
		return writeResult{status: writeIndexFailed, put: put, err: err}
	}
	return writeResult{status: writeSuccess, put: put}
}

// Upload stores length bytes from r at path and records its metadata.
// Overwrites allocate a fresh storage key; the previous blob is left to
// the garbage sweeper.
func (s *Service) Upload(ctx context.Context, bucketName string, p webpath.Path, contentType string, r io.Reader, length int64) (*Metadata, error) {
	settings, err := s.registry.Get(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	if p.IsRoot() {
		return nil, errs.IllegalArgument("cannot upload to the bucket root")
	}
	if length < 0 {
		return nil, errs.IllegalArgument("content length is required")
	}
	if length > settings.SizeLimitBytes() {
		return nil, errs.IllegalArgument(
			"content length %d exceeds bucket limit of %d KB", length, settings.SizeLimitKB)
	}

	creds := auth.GetCredentials(ctx)
	existing, err := s.meta.get(ctx, bucketName, p)
	switch {
	case err == nil:
		if err := settings.Permissions.CheckUpdate(creds, existing.Owner, existing.Group); err != nil {
			return nil, err
		}
	case errors.Is(err, errs.ErrNotFound):
		if err := settings.Permissions.Check(creds, bucket.PermCreate); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	store, ok := s.stores.ForType(settings.StoreType)
	if !ok {
		return nil, fmt.Errorf("store type [%s] of bucket %s is not configured", settings.StoreType, bucketName)
	}

	now := time.Now().UTC()
	meta := &Metadata{
		Path:        p.String(),
		Name:        p.Last(),
		Length:      length,
		ContentType: contentType,
		Owner:       creds.ID,
		Group:       creds.Group,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if existing != nil {
		meta.CreatedAt = existing.CreatedAt
		meta.Version = existing.Version + 1
		meta.Tags = existing.Tags
		meta.Encryption = existing.Encryption
	}

	res := s.writeTwoPhase(ctx, store, bucketName, meta, r, length)
	if res.status != writeSuccess {
		metrics.RecordUpload(bucketName, length, false)
		return nil, res.err
	}
	metrics.RecordUpload(bucketName, length, true)
	return meta, nil
}

// Download returns a file's metadata and an open reader on its content.
// The caller closes the reader.
func (s *Service) Download(ctx context.Context, bucketName string, p webpath.Path) (*Metadata, io.ReadCloser, error) {
	settings, err := s.registry.Get(ctx, bucketName)
	if err != nil {
		return nil, nil, err
	}
	meta, err := s.meta.get(ctx, bucketName, p)
	if err != nil {
		return nil, nil, err
	}
	if err := settings.Permissions.CheckRead(auth.GetCredentials(ctx), meta.Owner, meta.Group); err != nil {
		return nil, nil, err
	}
	rc, err := s.open(ctx, settings, bucketName, meta)
	if err != nil {
		metrics.RecordDownload(bucketName, 0, false)
		return nil, nil, err
	}
	metrics.RecordDownload(bucketName, meta.Length, true)
	return meta, rc, nil
}

func (s *Service) open(ctx context.Context, settings *bucket.Settings, bucketName string, meta *Metadata) (io.ReadCloser, error) {
	store, ok := s.stores.ForType(settings.StoreType)
	if !ok {
		return nil, fmt.Errorf("store type [%s] of bucket %s is not configured", settings.StoreType, bucketName)
	}
	rc, err := store.Get(ctx, s.tenant, bucketName, meta.Key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			logging.Error("metadata points at missing blob",
				zap.String("bucket", bucketName),
				zap.String("path", meta.Path),
				zap.String("key", meta.Key))
			return nil, errs.NotFound("file [%s] in bucket [%s]", meta.Path, bucketName)
		}
		return nil, fmt.Errorf("open blob %s%s: %w", bucketName, meta.Path, err)
	}
	return rc, nil
}

// Delete removes the entry at path, or, when path names no single
// entry, every entry under it as a prefix. It returns the number of
// removed entries. Blob deletion is best-effort; a failed blob delete
// is logged and swallowed since the entry is already unreachable.
func (s *Service) Delete(ctx context.Context, bucketName string, p webpath.Path) (int64, error) {
	settings, err := s.registry.Get(ctx, bucketName)
	if err != nil {
		return 0, err
	}
	creds := auth.GetCredentials(ctx)

	meta, err := s.meta.get(ctx, bucketName, p)
	if errors.Is(err, errs.ErrNotFound) {
		return s.deletePrefix(ctx, settings, bucketName, p)
	}
	if err != nil {
		return 0, err
	}

	if err := settings.Permissions.CheckDelete(creds, meta.Owner, meta.Group); err != nil {
		return 0, err
	}
	deleted, err := s.meta.delete(ctx, bucketName, p)
	if err != nil {
		return 0, err
	}
	if !deleted {
		return 0, errs.NotFound("file [%s] in bucket [%s]", p, bucketName)
	}
	s.deleteBlob(ctx, settings, bucketName, meta.Key)
	metrics.RecordDelete(bucketName, 1)
	return 1, nil
}

// deletePrefix bulk-deletes metadata entries under a path prefix. The
// blobs behind them stay behind for the garbage sweeper.
func (s *Service) deletePrefix(ctx context.Context, settings *bucket.Settings, bucketName string, prefix webpath.Path) (int64, error) {
	if err := settings.Permissions.Check(auth.GetCredentials(ctx), bucket.PermDelete); err != nil {
		return 0, err
	}
	count, err := s.meta.deleteByPrefix(ctx, bucketName, prefix)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		metrics.RecordDelete(bucketName, count)
	}
	return count, nil
}

func (s *Service) deleteBlob(ctx context.Context, settings *bucket.Settings, bucketName, key string) {
	store, ok := s.stores.ForType(settings.StoreType)
	if !ok {
		return
	}
	if err := store.Delete(ctx, s.tenant, bucketName, key); err != nil {
		logging.Warn("blob delete failed, leaving orphan to the sweeper",
			zap.String("bucket", bucketName),
			zap.String("key", key),
			zap.Error(err))
	}
}

// List pages metadata entries under a path prefix, sorted by path.
func (s *Service) List(ctx context.Context, bucketName string, prefix webpath.Path, size int, cursor string) (*Listing, error) {
	settings, err := s.registry.Get(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	if err := settings.Permissions.Check(auth.GetCredentials(ctx), bucket.PermSearch); err != nil {
		return nil, err
	}
	return s.meta.list(ctx, bucketName, prefix, size, cursor)
}

// CreateBucket provisions a bucket. Administrators only.
func (s *Service) CreateBucket(ctx context.Context, settings bucket.Settings) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.registry.Create(ctx, settings)
}

// GetBucket returns a bucket's settings. Administrators only.
func (s *Service) GetBucket(ctx context.Context, name string) (*bucket.Settings, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.registry.Get(ctx, name)
}

// ListBuckets returns every bucket's settings. Administrators only.
func (s *Service) ListBuckets(ctx context.Context) ([]*bucket.Settings, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.registry.List(ctx)
}

// DeleteBucket removes a bucket, its metadata index and, best-effort,
// its blobs. Administrators only.
func (s *Service) DeleteBucket(ctx context.Context, name string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	settings, err := s.registry.Get(ctx, name)
	if err != nil {
		return err
	}
	if store, ok := s.stores.ForType(settings.StoreType); ok {
		if err := store.DeleteBucket(ctx, s.tenant, name); err != nil {
			logging.Warn("bucket blob cleanup failed",
				zap.String("bucket", name), zap.Error(err))
		}
	}
	return s.registry.Delete(ctx, name)
}

// LiveKeys returns the storage keys a bucket's metadata still
// references, for the garbage sweeper.
func (s *Service) LiveKeys(ctx context.Context, bucketName string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := s.meta.forEach(ctx, bucketName, func(meta *Metadata) error {
		keys[meta.Key] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Web resolves a path for anonymous serving from a web-enabled bucket.
// It tries the path itself, then path/index.html, then the bucket's
// not-found page. notFound reports that the fallback page is being
// served and the response status should say so.
func (s *Service) Web(ctx context.Context, bucketName string, p webpath.Path) (meta *Metadata, rc io.ReadCloser, notFound bool, err error) {
	settings, err := s.registry.Get(ctx, bucketName)
	if err != nil {
		return nil, nil, false, err
	}
	if !settings.WebEnabled {
		return nil, nil, false, errs.NotFound("bucket [%s] does not serve web content", bucketName)
	}

	for _, candidate := range []webpath.Path{p, p.AddLast("index.html")} {
		if candidate.IsRoot() {
			continue
		}
		meta, err := s.meta.get(ctx, bucketName, candidate)
		if err == nil {
			rc, err := s.open(ctx, settings, bucketName, meta)
			if err != nil {
				return nil, nil, false, err
			}
			return meta, rc, false, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, nil, false, err
		}
	}

	if settings.NotFoundPage != "" {
		meta, err := s.meta.get(ctx, bucketName, webpath.Parse(settings.NotFoundPage))
		if err == nil {
			rc, err := s.open(ctx, settings, bucketName, meta)
			if err != nil {
				return nil, nil, false, err
			}
			return meta, rc, true, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, nil, false, err
		}
	}
	return nil, nil, false, errs.NotFound("page [%s] in bucket [%s]", p, bucketName)
}

func requireAdmin(ctx context.Context) error {
	creds := auth.GetCredentials(ctx)
	if creds == nil {
		return errs.Unauthorized("no credentials")
	}
	if !creds.IsAdmin() {
		return errs.Forbidden("administrator privilege required")
	}
	return nil
}
