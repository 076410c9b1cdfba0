package blob_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/blob/indexed"
	"github.com/filedrift/filedrift/internal/blob/local"
	"github.com/filedrift/filedrift/internal/index/memory"
)

const tenant = "acme"

func openStores(t *testing.T) map[string]blob.Store {
	t.Helper()
	fs, err := local.New(local.Config{RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	return map[string]blob.Store{
		"fs":      fs,
		"indexed": indexed.New(memory.New()),
	}
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := []byte("hello blob store")

			res, err := s.Put(ctx, tenant, "www", bytes.NewReader(content), int64(len(content)))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if res.Key == "" {
				t.Fatal("Put returned empty key")
			}
			if res.Hash != md5hex(content) {
				t.Errorf("Hash = %s, want %s", res.Hash, md5hex(content))
			}

			rc, err := s.Get(ctx, tenant, "www", res.Key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			got, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatalf("read blob: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Errorf("content mismatch: got %q", got)
			}

			ok, err := s.Exists(ctx, tenant, "www", res.Key)
			if err != nil || !ok {
				t.Errorf("Exists = %v, %v", ok, err)
			}
		})
	}
}

func TestPutAllocatesFreshKeys(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := s.Put(ctx, tenant, "www", strings.NewReader("one"), 3)
			if err != nil {
				t.Fatal(err)
			}
			b, err := s.Put(ctx, tenant, "www", strings.NewReader("two"), 3)
			if err != nil {
				t.Fatal(err)
			}
			if a.Key == b.Key {
				t.Error("keys must never be reused")
			}
		})
	}
}

func TestPutShortStreamFailsLoudly(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Put(ctx, tenant, "www", strings.NewReader("abc"), 10)
			if err == nil {
				t.Fatal("short stream should fail")
			}
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("err = %v, want ErrUnexpectedEOF", err)
			}
			// no partial blob may survive
			var keys []string
			if err := s.ListKeys(ctx, tenant, "www", func(k string) error {
				keys = append(keys, k)
				return nil
			}); err != nil {
				t.Fatal(err)
			}
			if len(keys) != 0 {
				t.Errorf("partial blob left behind: %v", keys)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Get(ctx, tenant, "www", "no-such-key"); !errors.Is(err, blob.ErrNotFound) {
				t.Errorf("Get missing = %v, want ErrNotFound", err)
			}
			ok, err := s.Exists(ctx, tenant, "www", "no-such-key")
			if err != nil || ok {
				t.Errorf("Exists missing = %v, %v", ok, err)
			}
		})
	}
}

func TestListAndDelete(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := make([]string, 0, 3)
			for i := 0; i < 3; i++ {
				res, err := s.Put(ctx, tenant, "assets", strings.NewReader("x"), 1)
				if err != nil {
					t.Fatal(err)
				}
				want = append(want, res.Key)
			}

			var got []string
			if err := s.ListKeys(ctx, tenant, "assets", func(k string) error {
				got = append(got, k)
				return nil
			}); err != nil {
				t.Fatalf("ListKeys: %v", err)
			}
			sort.Strings(want)
			sort.Strings(got)
			if len(got) != 3 {
				t.Fatalf("listed %d keys, want 3", len(got))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("keys mismatch: %v vs %v", got, want)
				}
			}

			if err := s.Delete(ctx, tenant, "assets", want[0]); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			ok, _ := s.Exists(ctx, tenant, "assets", want[0])
			if ok {
				t.Error("blob survived Delete")
			}
			// deleting a missing key is not an error
			if err := s.Delete(ctx, tenant, "assets", want[0]); err != nil {
				t.Errorf("Delete twice: %v", err)
			}
		})
	}
}

func TestDeleteBucketAndTenant(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, _ := s.Put(ctx, tenant, "one", strings.NewReader("a"), 1)
			b, _ := s.Put(ctx, tenant, "two", strings.NewReader("b"), 1)

			if err := s.DeleteBucket(ctx, tenant, "one"); err != nil {
				t.Fatalf("DeleteBucket: %v", err)
			}
			if ok, _ := s.Exists(ctx, tenant, "one", a.Key); ok {
				t.Error("bucket one blob survived DeleteBucket")
			}
			if ok, _ := s.Exists(ctx, tenant, "two", b.Key); !ok {
				t.Error("bucket two blob was collateral damage")
			}

			if err := s.DeleteAll(ctx, tenant); err != nil {
				t.Fatalf("DeleteAll: %v", err)
			}
			if ok, _ := s.Exists(ctx, tenant, "two", b.Key); ok {
				t.Error("blob survived DeleteAll")
			}
		})
	}
}
