package file

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/filedrift/filedrift/internal/auth"
	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/blob/local"
	"github.com/filedrift/filedrift/internal/bucket"
	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/index"
	"github.com/filedrift/filedrift/internal/index/memory"
	"github.com/filedrift/filedrift/internal/webpath"
)

const testTenant = "acme"

// faultyIndex fails document writes on demand, for compensation tests.
type faultyIndex struct {
	index.Store
	failPuts bool
}

func (f *faultyIndex) Put(ctx context.Context, idx, id string, source []byte) error {
	if f.failPuts {
		return errors.New("index unavailable")
	}
	return f.Store.Put(ctx, idx, id, source)
}

type fixture struct {
	service *Service
	fs      blob.Store
	idx     *faultyIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx := &faultyIndex{Store: memory.New()}
	registry, err := bucket.NewRegistry(context.Background(), idx)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	fs, err := local.New(local.Config{RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	svc := New(testTenant, registry, blob.Stores{Filesystem: fs}, idx)

	settings := bucket.Settings{
		Name:        "www",
		StoreType:   blob.TypeFilesystem,
		SizeLimitKB: 1,
		WebEnabled:  true,
		Permissions: bucket.RolePermissions{
			"member": {
				bucket.PermRead, bucket.PermCreate, bucket.PermSearch,
				bucket.PermUpdateMine, bucket.PermDeleteMine,
			},
		},
	}
	if err := svc.CreateBucket(adminCtx(), settings); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	return &fixture{service: svc, fs: fs, idx: idx}
}

func adminCtx() context.Context {
	return auth.WithCredentials(context.Background(), &auth.Credentials{
		ID: "root", Username: "root", Roles: []string{auth.RoleAdmin},
	})
}

func memberCtx(id, group string) context.Context {
	return auth.WithCredentials(context.Background(), &auth.Credentials{
		ID: id, Username: id, Group: group, Roles: []string{"member"},
	})
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func upload(t *testing.T, f *fixture, ctx context.Context, path string, content []byte) *Metadata {
	t.Helper()
	meta, err := f.service.Upload(ctx, "www", webpath.Parse(path), "text/plain",
		bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload %s: %v", path, err)
	}
	return meta
}

func (f *fixture) blobKeys(t *testing.T) []string {
	t.Helper()
	var keys []string
	if err := f.fs.ListKeys(context.Background(), testTenant, "www", func(k string) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	return keys
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")
	content := []byte("hello filedrift")

	meta := upload(t, f, ctx, "/docs/readme.txt", content)
	if meta.Hash != md5hex(content) {
		t.Errorf("Hash = %s, want %s", meta.Hash, md5hex(content))
	}
	if meta.Owner != "u1" || meta.Group != "g1" {
		t.Errorf("ownership = %s/%s", meta.Owner, meta.Group)
	}
	if meta.Name != "readme.txt" {
		t.Errorf("Name = %s", meta.Name)
	}

	got, rc, err := f.service.Download(ctx, "www", webpath.Parse("/docs/readme.txt"))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	body, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, content) {
		t.Errorf("content mismatch: %q", body)
	}
	if got.Hash != meta.Hash || got.Key != meta.Key {
		t.Errorf("metadata mismatch: %+v vs %+v", got, meta)
	}
}

func TestUploadQuotaLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")
	tooBig := bytes.Repeat([]byte("x"), 1025)

	_, err := f.service.Upload(ctx, "www", webpath.Parse("/big.bin"), "",
		bytes.NewReader(tooBig), int64(len(tooBig)))
	if !errors.Is(err, errs.ErrIllegalArgument) {
		t.Fatalf("oversize upload = %v, want ErrIllegalArgument", err)
	}
	if keys := f.blobKeys(t); len(keys) != 0 {
		t.Errorf("blob written despite quota rejection: %v", keys)
	}
	if _, _, err := f.service.Download(ctx, "www", webpath.Parse("/big.bin")); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("metadata written despite quota rejection: %v", err)
	}
}

func TestUploadCompensatesFailedIndexWrite(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")

	f.idx.failPuts = true
	_, err := f.service.Upload(ctx, "www", webpath.Parse("/doc.txt"), "",
		strings.NewReader("abc"), 3)
	f.idx.failPuts = false
	if err == nil {
		t.Fatal("upload should surface the index failure")
	}
	if keys := f.blobKeys(t); len(keys) != 0 {
		t.Errorf("compensation left blob behind: %v", keys)
	}
}

func TestOverwriteAllocatesFreshKey(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")

	first := upload(t, f, ctx, "/doc.txt", []byte("version one"))
	second := upload(t, f, ctx, "/doc.txt", []byte("version two"))

	if second.Key == first.Key {
		t.Error("overwrite reused the storage key")
	}
	if second.Hash == first.Hash {
		t.Error("hash did not change with content")
	}
	if second.Version != first.Version+1 {
		t.Errorf("Version = %d, want %d", second.Version, first.Version+1)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("overwrite must keep the original creation time")
	}
}

func TestUpdateRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	upload(t, f, memberCtx("u1", "g1"), "/doc.txt", []byte("mine"))

	// same group may update
	if _, err := f.service.Upload(memberCtx("u2", "g1"), "www", webpath.Parse("/doc.txt"), "",
		strings.NewReader("ok"), 2); err != nil {
		t.Errorf("groupmate update = %v", err)
	}
	// stranger may not
	_, err := f.service.Upload(memberCtx("u3", "g2"), "www", webpath.Parse("/doc.txt"), "",
		strings.NewReader("no"), 2)
	if !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("stranger update = %v, want ErrForbidden", err)
	}
}

func TestDeleteSingleAndPrefix(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")
	upload(t, f, ctx, "/dir/a.txt", []byte("a"))
	upload(t, f, ctx, "/dir/b.txt", []byte("b"))
	upload(t, f, ctx, "/other.txt", []byte("c"))

	n, err := f.service.Delete(ctx, "www", webpath.Parse("/other.txt"))
	if err != nil || n != 1 {
		t.Fatalf("single delete = %d, %v", n, err)
	}
	if _, rc, err := f.service.Download(ctx, "www", webpath.Parse("/other.txt")); !errors.Is(err, errs.ErrNotFound) {
		if rc != nil {
			rc.Close()
		}
		t.Errorf("deleted file still downloadable: %v", err)
	}

	// prefix delete needs the bulk delete permission
	if _, err := f.service.Delete(ctx, "www", webpath.Parse("/dir")); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("member prefix delete = %v, want ErrForbidden", err)
	}
	n, err = f.service.Delete(adminCtx(), "www", webpath.Parse("/dir"))
	if err != nil {
		t.Fatalf("prefix delete: %v", err)
	}
	if n != 2 {
		t.Errorf("prefix delete count = %d, want 2", n)
	}
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")
	upload(t, f, ctx, "/logs/a.txt", []byte("a"))
	upload(t, f, ctx, "/logs/b.txt", []byte("b"))
	upload(t, f, ctx, "/logs/c.txt", []byte("c"))
	upload(t, f, ctx, "/readme.md", []byte("d"))

	page, err := f.service.List(ctx, "www", webpath.Parse("/logs"), 2, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 3 || len(page.Files) != 2 || page.Next == "" {
		t.Fatalf("first page = total %d, %d files, next %q", page.Total, len(page.Files), page.Next)
	}
	page, err = f.service.List(ctx, "www", webpath.Parse("/logs"), 2, page.Next)
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page.Files) != 1 || page.Next != "" {
		t.Fatalf("last page = %d files, next %q", len(page.Files), page.Next)
	}
}

func TestExportStreamsZip(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")
	upload(t, f, ctx, "/docs/a.txt", []byte("alpha"))
	upload(t, f, ctx, "/docs/sub/b.txt", []byte("beta"))

	var buf bytes.Buffer
	err := f.service.Export(ctx, "www", ExportRequest{
		FileName: "docs.zip",
		Paths:    []string{"/docs/a.txt", "/docs/sub/b.txt"},
	}, &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	want := map[string]string{
		"docs/a.txt":     "alpha",
		"docs/sub/b.txt": "beta",
	}
	if len(zr.File) != len(want) {
		t.Fatalf("archive has %d entries, want %d", len(zr.File), len(want))
	}
	for _, zf := range zr.File {
		content, ok := want[zf.Name]
		if !ok {
			t.Errorf("unexpected entry %s", zf.Name)
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != content {
			t.Errorf("entry %s = %q, want %q", zf.Name, body, content)
		}
	}
}

func TestExportFlatZipUsesFileNames(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")
	upload(t, f, ctx, "/deep/nested/report.pdf", []byte("pdf"))

	var buf bytes.Buffer
	err := f.service.Export(ctx, "www", ExportRequest{
		FlatZip: true,
		Paths:   []string{"/deep/nested/report.pdf"},
	}, &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "report.pdf" {
		t.Errorf("flat entry = %v", zr.File)
	}
}

func TestExportFailsAtomically(t *testing.T) {
	f := newFixture(t)
	owner := memberCtx("u1", "g1")
	upload(t, f, owner, "/shared/a.txt", []byte("a"))

	// b.txt is readable only by its owner's group
	settings, err := f.service.GetBucket(adminCtx(), "www")
	if err != nil {
		t.Fatal(err)
	}
	settings.Permissions = bucket.RolePermissions{
		"member": {bucket.PermCreate, bucket.PermReadMine},
	}
	if err := f.service.CreateBucket(adminCtx(), *settings); err != nil {
		t.Fatal(err)
	}
	upload(t, f, memberCtx("u9", "g9"), "/shared/b.txt", []byte("b"))

	var buf bytes.Buffer
	err = f.service.Export(owner, "www", ExportRequest{
		Paths: []string{"/shared/a.txt", "/shared/b.txt"},
	}, &buf)
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("export = %v, want ErrForbidden", err)
	}
	if buf.Len() != 0 {
		t.Errorf("partial archive written: %d bytes", buf.Len())
	}

	// a missing path also fails the whole request
	buf.Reset()
	err = f.service.Export(adminCtx(), "www", ExportRequest{
		Paths: []string{"/shared/a.txt", "/no/such/file"},
	}, &buf)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("export with missing path = %v, want ErrNotFound", err)
	}
	if buf.Len() != 0 {
		t.Errorf("partial archive written: %d bytes", buf.Len())
	}
}

func TestWebFallbackChain(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")
	upload(t, f, ctx, "/index.html", []byte("<home>"))
	upload(t, f, ctx, "/about/index.html", []byte("<about>"))
	upload(t, f, ctx, "/404.html", []byte("<lost>"))

	settings, err := f.service.GetBucket(adminCtx(), "www")
	if err != nil {
		t.Fatal(err)
	}
	settings.NotFoundPage = "/404.html"
	if err := f.service.CreateBucket(adminCtx(), *settings); err != nil {
		t.Fatal(err)
	}

	anon := context.Background()
	read := func(p string) (string, bool) {
		t.Helper()
		_, rc, notFound, err := f.service.Web(anon, "www", webpath.Parse(p))
		if err != nil {
			t.Fatalf("Web %s: %v", p, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		return string(body), notFound
	}

	if body, nf := read("/index.html"); body != "<home>" || nf {
		t.Errorf("direct hit = %q, %v", body, nf)
	}
	if body, nf := read("/about"); body != "<about>" || nf {
		t.Errorf("index fallback = %q, %v", body, nf)
	}
	if body, nf := read("/missing"); body != "<lost>" || !nf {
		t.Errorf("not-found page = %q, %v", body, nf)
	}
}

func TestWebDisabledBucket(t *testing.T) {
	f := newFixture(t)
	settings, err := f.service.GetBucket(adminCtx(), "www")
	if err != nil {
		t.Fatal(err)
	}
	settings.WebEnabled = false
	if err := f.service.CreateBucket(adminCtx(), *settings); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := f.service.Web(context.Background(), "www", webpath.Parse("/index.html")); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("disabled web bucket = %v, want ErrNotFound", err)
	}
}

func TestDeleteBucketCascades(t *testing.T) {
	f := newFixture(t)
	ctx := memberCtx("u1", "g1")
	upload(t, f, ctx, "/a.txt", []byte("a"))

	if err := f.service.DeleteBucket(ctx, "www"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("member bucket delete = %v, want ErrForbidden", err)
	}
	if err := f.service.DeleteBucket(adminCtx(), "www"); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	if _, err := f.service.GetBucket(adminCtx(), "www"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("bucket survived delete: %v", err)
	}
	if keys := f.blobKeys(t); len(keys) != 0 {
		t.Errorf("blobs survived bucket delete: %v", keys)
	}
}
