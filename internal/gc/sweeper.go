// Package gc removes orphaned blobs, the leftovers of swallowed blob
// deletes and rare compensation failures.
package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/file"
	"github.com/filedrift/filedrift/internal/logging"
	"github.com/filedrift/filedrift/internal/metrics"
)

// Options configures a Sweeper.
type Options struct {
	Tenant string
	Files  *file.Service
	Stores blob.Stores
}

// Sweeper deletes blobs no metadata entry references anymore.
type Sweeper struct {
	tenant string
	files  *file.Service
	stores blob.Stores
}

// NewSweeper wires the file service and blob stores for sweeping.
func NewSweeper(opts Options) *Sweeper {
	return &Sweeper{
		tenant: opts.Tenant,
		files:  opts.Files,
		stores: opts.Stores,
	}
}

// Sweep performs one best-effort pass over every bucket, returning the
// number of blobs deleted. The live key set is computed after the blob
// listing so a two-phase upload racing the listing is seen by its index
// record; only an upload whose index write is still in flight when the
// live set is read could be collected, so sweeps should not run more
// often than uploads take to complete.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.files == nil {
		return 0, fmt.Errorf("gc sweeper missing dependencies")
	}
	buckets, err := s.files.Registry().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list buckets: %w", err)
	}

	var total int
	for _, settings := range buckets {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.sweepBucket(ctx, settings.Name, settings.StoreType)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		metrics.RecordOrphansSwept(total)
	}
	return total, nil
}

func (s *Sweeper) sweepBucket(ctx context.Context, bucketName, storeType string) (int, error) {
	store, ok := s.stores.ForType(storeType)
	if !ok {
		return 0, nil
	}

	var keys []string
	if err := store.ListKeys(ctx, s.tenant, bucketName, func(key string) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("list blobs of %s: %w", bucketName, err)
	}

	live, err := s.files.LiveKeys(ctx, bucketName)
	if err != nil {
		return 0, err
	}

	var swept int
	for _, key := range keys {
		if _, ok := live[key]; ok {
			continue
		}
		if err := store.Delete(ctx, s.tenant, bucketName, key); err != nil {
			return swept, fmt.Errorf("delete orphan %s/%s: %w", bucketName, key, err)
		}
		swept++
	}
	if swept > 0 {
		logging.Info("swept orphaned blobs",
			zap.String("bucket", bucketName),
			zap.Int("count", swept))
	}
	return swept, nil
}

// Start launches a background sweep loop until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) context.CancelFunc {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error("gc sweep failed", zap.Error(err))
			}
		}
	}()
	return cancel
}
