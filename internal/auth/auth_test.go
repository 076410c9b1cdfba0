package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/index/memory"
)

func newAuth(t *testing.T) *Auth {
	t.Helper()
	a := New(memory.New(), "test-secret")
	if err := a.EnsureDefaultAdmin(context.Background(), "admin", "hunter2"); err != nil {
		t.Fatalf("EnsureDefaultAdmin: %v", err)
	}
	return a
}

func TestLoginIssuesValidToken(t *testing.T) {
	a := newAuth(t)
	token, err := a.Login(context.Background(), "admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := a.validateToken(token)
	if err != nil {
		t.Fatalf("validateToken: %v", err)
	}
	if claims.Username != "admin" || !claims.IsAdmin() {
		t.Errorf("claims = %+v", claims.Credentials)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := newAuth(t)
	if _, err := a.Login(context.Background(), "admin", "wrong"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("bad password = %v, want ErrUnauthorized", err)
	}
	if _, err := a.Login(context.Background(), "ghost", "hunter2"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("unknown user = %v, want ErrUnauthorized", err)
	}
}

func TestEnsureDefaultAdminIsOneShot(t *testing.T) {
	a := newAuth(t)
	// a second call must not reset existing credentials
	if err := a.EnsureDefaultAdmin(context.Background(), "admin", "different"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Login(context.Background(), "admin", "hunter2"); err != nil {
		t.Errorf("original password stopped working: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	a := newAuth(t)
	if err := a.CreateUser(context.Background(), "", "pw", "", nil); !errors.Is(err, errs.ErrIllegalArgument) {
		t.Errorf("empty username = %v", err)
	}
	if err := a.CreateUser(context.Background(), "bob", "", "", nil); !errors.Is(err, errs.ErrIllegalArgument) {
		t.Errorf("empty password = %v", err)
	}
	if err := a.CreateUser(context.Background(), "bob", "pw", "dev", []string{"member"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := a.Login(context.Background(), "bob", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := a.validateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Group != "dev" || !claims.HasRole("member") || claims.IsAdmin() {
		t.Errorf("claims = %+v", claims.Credentials)
	}
}

func TestMiddleware(t *testing.T) {
	a := newAuth(t)
	token, err := a.Login(context.Background(), "admin", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	var got *Credentials
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetCredentials(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got == nil || got.Username != "admin" {
		t.Errorf("authorized request = %d, creds %+v", rec.Code, got)
	}

	for _, header := range []string{"", "Bearer not-a-token", "Basic abc"} {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || got != nil {
			t.Errorf("header %q = %d, creds %+v", header, rec.Code, got)
		}
	}
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	a := newAuth(t)
	other := New(memory.New(), "other-secret")
	if err := other.CreateUser(context.Background(), "admin", "hunter2", "", []string{RoleAdmin}); err != nil {
		t.Fatal(err)
	}
	token, err := other.Login(context.Background(), "admin", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.validateToken(token); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("foreign token = %v, want ErrUnauthorized", err)
	}
}
