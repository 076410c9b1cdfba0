// Package local provides a local filesystem blob store.
package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/metrics"
)

// Config holds local filesystem store settings.
type Config struct {
	RootPath string `json:"root_path"`
}

// Store implements blob.Store on the local filesystem. Blobs live under
// rootPath/tenant/bucket/key.
type Store struct {
	rootPath string
}

// New creates a local filesystem store rooted at cfg.RootPath.
func New(cfg Config) (*Store, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}
	if err := os.MkdirAll(cfg.RootPath, 0o755); err != nil {
		return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, err)
	}
	return &Store{rootPath: cfg.RootPath}, nil
}

func (s *Store) bucketDir(tenant, bucket string) string {
	return filepath.Join(s.rootPath, tenant, bucket)
}

func (s *Store) blobPath(tenant, bucket, key string) string {
	return filepath.Join(s.bucketDir(tenant, bucket), key)
}

// Put writes exactly length bytes to a fresh key, hashing while copying.
// The blob is written to a temp file and renamed so a short or failed
// stream leaves nothing behind.
func (s *Store) Put(_ context.Context, tenant, bucket string, r io.Reader, length int64) (*blob.PutResult, error) {
	start := time.Now()
	dir := s.bucketDir(tenant, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}

	key := uuid.NewString()
	tmp, err := os.CreateTemp(dir, ".filedrift-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	hash := md5.New()
	n, err := io.Copy(tmp, io.TeeReader(blob.ExactReader(r, length), hash))
	if err != nil || n != length {
		tmp.Close()
		os.Remove(tmpName)
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.blobPath(tenant, bucket, key)); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("rename temp to %s: %w", key, err)
	}

	metrics.RecordBlobOperation(blob.TypeFilesystem, "put", time.Since(start))
	return &blob.PutResult{
		Key:  key,
		Hash: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Get opens a blob for reading.
func (s *Store) Get(_ context.Context, tenant, bucket, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(tenant, bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// Exists checks whether a blob file exists.
func (s *Store) Exists(_ context.Context, tenant, bucket, key string) (bool, error) {
	_, err := os.Stat(s.blobPath(tenant, bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// ListKeys walks every blob file in the bucket directory.
func (s *Store) ListKeys(ctx context.Context, tenant, bucket string, fn func(key string) error) error {
	entries, err := os.ReadDir(s.bucketDir(tenant, bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read bucket dir: %w", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		// skip leftover temp files from interrupted writes
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := fn(e.Name()); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a blob file. Missing files are ignored.
func (s *Store) Delete(_ context.Context, tenant, bucket, key string) error {
	err := os.Remove(s.blobPath(tenant, bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// DeleteBucket removes the whole bucket directory.
func (s *Store) DeleteBucket(_ context.Context, tenant, bucket string) error {
	if err := os.RemoveAll(s.bucketDir(tenant, bucket)); err != nil {
		return fmt.Errorf("delete bucket %s/%s: %w", tenant, bucket, err)
	}
	return nil
}

// DeleteAll removes the whole tenant directory.
func (s *Store) DeleteAll(_ context.Context, tenant string) error {
	if err := os.RemoveAll(filepath.Join(s.rootPath, tenant)); err != nil {
		return fmt.Errorf("delete tenant %s: %w", tenant, err)
	}
	return nil
}

// Type returns "fs".
func (s *Store) Type() string { return blob.TypeFilesystem }

// Close is a no-op for local stores.
func (s *Store) Close() error { return nil }
