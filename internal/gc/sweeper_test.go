package gc

import (
	"bytes"
	"context"
	"testing"

	"github.com/filedrift/filedrift/internal/auth"
	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/blob/local"
	"github.com/filedrift/filedrift/internal/bucket"
	"github.com/filedrift/filedrift/internal/file"
	"github.com/filedrift/filedrift/internal/index/memory"
	"github.com/filedrift/filedrift/internal/webpath"
)

const tenant = "acme"

func adminCtx() context.Context {
	return auth.WithCredentials(context.Background(), &auth.Credentials{
		ID: "root", Username: "root", Roles: []string{auth.RoleAdmin},
	})
}

func TestSweepRemovesOnlyOrphans(t *testing.T) {
	ctx := adminCtx()
	idx := memory.New()
	registry, err := bucket.NewRegistry(ctx, idx)
	if err != nil {
		t.Fatal(err)
	}
	fs, err := local.New(local.Config{RootPath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	stores := blob.Stores{Filesystem: fs}
	files := file.New(tenant, registry, stores, idx)

	if err := files.CreateBucket(ctx, bucket.Settings{
		Name:        "www",
		StoreType:   blob.TypeFilesystem,
		SizeLimitKB: 64,
		Permissions: bucket.RolePermissions{bucket.RoleAll: {bucket.PermRead}},
	}); err != nil {
		t.Fatal(err)
	}

	live, err := files.Upload(ctx, "www", webpath.Parse("/keep.txt"), "",
		bytes.NewReader([]byte("keep")), 4)
	if err != nil {
		t.Fatal(err)
	}
	// blobs with no metadata entry
	for i := 0; i < 2; i++ {
		if _, err := fs.Put(ctx, tenant, "www", bytes.NewReader([]byte("orphan")), 6); err != nil {
			t.Fatal(err)
		}
	}

	sweeper := NewSweeper(Options{Tenant: tenant, Files: files, Stores: stores})
	n, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("swept %d blobs, want 2", n)
	}

	if ok, _ := fs.Exists(ctx, tenant, "www", live.Key); !ok {
		t.Error("live blob was collected")
	}
	var remaining int
	fs.ListKeys(ctx, tenant, "www", func(string) error {
		remaining++
		return nil
	})
	if remaining != 1 {
		t.Errorf("%d blobs remain, want 1", remaining)
	}

	// a second pass finds nothing
	n, err = sweeper.Sweep(ctx)
	if err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v", n, err)
	}
}
