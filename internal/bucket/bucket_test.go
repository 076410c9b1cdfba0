package bucket

import (
	"context"
	"errors"
	"testing"

	"github.com/filedrift/filedrift/internal/auth"
	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/index/memory"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background(), memory.New())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func wwwSettings() Settings {
	return Settings{
		Name:        "www",
		StoreType:   blob.TypeFilesystem,
		SizeLimitKB: 1024,
		WebEnabled:  true,
		Permissions: RolePermissions{
			RoleAll: {PermRead},
		},
	}
}

func TestRegistryCreateGet(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	if _, err := r.Get(ctx, "www"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("Get unknown = %v, want ErrNotFound", err)
	}

	if err := r.Create(ctx, wwwSettings()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := r.Get(ctx, "www")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SizeLimitKB != 1024 || !got.WebEnabled {
		t.Errorf("settings mismatch: %+v", got)
	}

	// re-creation re-applies settings
	s := wwwSettings()
	s.SizeLimitKB = 2048
	if err := r.Create(ctx, s); err != nil {
		t.Fatalf("re-Create: %v", err)
	}
	got, _ = r.Get(ctx, "www")
	if got.SizeLimitKB != 2048 {
		t.Errorf("re-applied SizeLimitKB = %d, want 2048", got.SizeLimitKB)
	}
}

func TestRegistryRejectsStoreTypeChange(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	if err := r.Create(ctx, wwwSettings()); err != nil {
		t.Fatal(err)
	}
	s := wwwSettings()
	s.StoreType = blob.TypeIndexed
	if err := r.Create(ctx, s); !errors.Is(err, errs.ErrIllegalArgument) {
		t.Errorf("store type change = %v, want ErrIllegalArgument", err)
	}
}

func TestRegistryValidation(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	s := wwwSettings()
	s.StoreType = "tape"
	if err := r.Create(ctx, s); !errors.Is(err, errs.ErrIllegalArgument) {
		t.Errorf("bad store type = %v", err)
	}
	s = wwwSettings()
	s.SizeLimitKB = 0
	if err := r.Create(ctx, s); !errors.Is(err, errs.ErrIllegalArgument) {
		t.Errorf("zero size limit = %v", err)
	}
}

func TestRegistryDelete(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	if err := r.Create(ctx, wwwSettings()); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "www"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(ctx, "www"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
	if err := r.Delete(ctx, "www"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Delete twice = %v", err)
	}
}

func creds(id, group string, roles ...string) *auth.Credentials {
	return &auth.Credentials{ID: id, Username: id, Group: group, Roles: roles}
}

func TestPermissionsRoleCheck(t *testing.T) {
	rp := RolePermissions{
		"editor": {PermCreate, PermUpdate, PermSearch},
		RoleAll:  {PermRead},
	}

	if err := rp.Check(creds("u1", "g1", "editor"), PermCreate); err != nil {
		t.Errorf("editor create = %v", err)
	}
	if err := rp.Check(creds("u1", "g1"), PermCreate); !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("roleless create = %v, want ErrForbidden", err)
	}
	// "all" applies to everyone
	if err := rp.Check(creds("u1", "g1"), PermRead); err != nil {
		t.Errorf("all read = %v", err)
	}
	// admins bypass the map
	if err := rp.Check(creds("root", "", auth.RoleAdmin), PermDelete); err != nil {
		t.Errorf("admin delete = %v", err)
	}
	if err := rp.Check(nil, PermRead); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("nil credentials = %v, want ErrUnauthorized", err)
	}
}

func TestPermissionsMineScope(t *testing.T) {
	rp := RolePermissions{
		RoleAll: {PermReadMine, PermUpdateMine, PermDeleteMine},
	}

	owner := creds("u1", "g1")
	groupmate := creds("u2", "g1")
	stranger := creds("u3", "g2")

	if err := rp.CheckRead(owner, "u1", "g1"); err != nil {
		t.Errorf("owner read = %v", err)
	}
	if err := rp.CheckUpdate(groupmate, "u1", "g1"); err != nil {
		t.Errorf("groupmate update = %v", err)
	}
	if err := rp.CheckDelete(stranger, "u1", "g1"); !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("stranger delete = %v, want ErrForbidden", err)
	}
	// empty groups never match each other
	if err := rp.CheckRead(creds("u4", ""), "u1", ""); !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("empty group read = %v, want ErrForbidden", err)
	}
}
