package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/index"
	"github.com/filedrift/filedrift/internal/logging"
)

const settingsIndex = "buckets"

// Settings configures one bucket.
type Settings struct {
	Name         string          `json:"name"`
	StoreType    string          `json:"storeType"`
	SizeLimitKB  int64           `json:"sizeLimitKB"`
	WebEnabled   bool            `json:"webEnabled"`
	NotFoundPage string          `json:"notFoundPage,omitempty"`
	Permissions  RolePermissions `json:"permissions"`
}

// SizeLimitBytes returns the per-file size limit in bytes.
func (s *Settings) SizeLimitBytes() int64 {
	return s.SizeLimitKB * 1024
}

// MetaIndex returns the name of the bucket's metadata index.
func MetaIndex(bucketName string) string {
	return "files-" + bucketName
}

// Registry persists bucket settings in the indexed store. Settings are
// read on every request, so gets are served from an in-process cache
// invalidated on writes.
type Registry struct {
	index index.Store

	mu    sync.RWMutex
	cache map[string]*Settings
}

// NewRegistry creates a registry and provisions its settings index.
func NewRegistry(ctx context.Context, idx index.Store) (*Registry, error) {
	if err := idx.CreateIndex(ctx, settingsIndex); err != nil {
		return nil, fmt.Errorf("provision bucket settings index: %w", err)
	}
	return &Registry{
		index: idx,
		cache: make(map[string]*Settings),
	}, nil
}

// Create persists bucket settings and provisions the bucket's metadata
// index. Re-creating an existing bucket re-applies its settings, but
// changing the store type is forbidden.
func (r *Registry) Create(ctx context.Context, settings Settings) error {
	if settings.Name == "" {
		return errs.IllegalArgument("bucket name is required")
	}
	if _, ok := validStoreType(settings.StoreType); !ok {
		return errs.IllegalArgument("bucket store type [%s] is invalid", settings.StoreType)
	}
	if settings.SizeLimitKB <= 0 {
		return errs.IllegalArgument("bucket size limit must be positive")
	}

	previous, err := r.Get(ctx, settings.Name)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if previous != nil && previous.StoreType != settings.StoreType {
		return errs.IllegalArgument("updating store type of file buckets is forbidden")
	}

	if err := r.index.CreateIndex(ctx, MetaIndex(settings.Name)); err != nil {
		return fmt.Errorf("provision metadata index for %s: %w", settings.Name, err)
	}

	src, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal bucket settings: %w", err)
	}
	if err := r.index.Put(ctx, settingsIndex, settings.Name, src); err != nil {
		return fmt.Errorf("store bucket settings %s: %w", settings.Name, err)
	}

	r.mu.Lock()
	delete(r.cache, settings.Name)
	r.mu.Unlock()

	logging.Info("bucket configured",
		zap.String("bucket", settings.Name),
		zap.String("store", settings.StoreType))
	return nil
}

// Get returns a bucket's settings, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, name string) (*Settings, error) {
	r.mu.RLock()
	if s, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	src, err := r.index.Get(ctx, settingsIndex, name)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil, errs.NotFound("file bucket [%s]", name)
		}
		return nil, fmt.Errorf("load bucket settings %s: %w", name, err)
	}
	settings := &Settings{}
	if err := json.Unmarshal(src, settings); err != nil {
		return nil, fmt.Errorf("decode bucket settings %s: %w", name, err)
	}

	r.mu.Lock()
	r.cache[name] = settings
	r.mu.Unlock()
	return settings, nil
}

// List returns the settings of every bucket.
func (r *Registry) List(ctx context.Context) ([]*Settings, error) {
	var out []*Settings
	cursor := ""
	for {
		page, err := r.index.List(ctx, settingsIndex, "", 100, cursor)
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}
		for _, doc := range page.Docs {
			settings := &Settings{}
			if err := json.Unmarshal(doc.Source, settings); err != nil {
				return nil, fmt.Errorf("decode bucket settings %s: %w", doc.ID, err)
			}
			out = append(out, settings)
		}
		if page.Next == "" {
			return out, nil
		}
		cursor = page.Next
	}
}

// Delete removes a bucket's settings and drops its metadata index.
// Blob cleanup is the caller's job since the registry has no store
// access.
func (r *Registry) Delete(ctx context.Context, name string) error {
	deleted, err := r.index.Delete(ctx, settingsIndex, name)
	if err != nil {
		return fmt.Errorf("delete bucket settings %s: %w", name, err)
	}
	if !deleted {
		return errs.NotFound("file bucket [%s]", name)
	}
	if err := r.index.DeleteIndex(ctx, MetaIndex(name)); err != nil && !errors.Is(err, index.ErrNotFound) {
		return fmt.Errorf("drop metadata index for %s: %w", name, err)
	}

	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
	return nil
}

func validStoreType(storeType string) (string, bool) {
	switch storeType {
	case blob.TypeFilesystem, blob.TypeIndexed, blob.TypeS3:
		return storeType, true
	}
	return "", false
}
