// Package auth provides JWT-based authentication backed by the indexed
// store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/index"
	"github.com/filedrift/filedrift/internal/logging"
)

const usersIndex = "credentials"

// RoleAdmin marks administrator credentials.
const RoleAdmin = "admin"

type contextKey string

const credentialsContextKey contextKey = "credentials"

// Credentials identifies an authenticated caller.
type Credentials struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Group    string   `json:"group"`
	Roles    []string `json:"roles"`
}

// HasRole reports whether the caller carries the given role.
func (c *Credentials) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the caller is an administrator.
func (c *Credentials) IsAdmin() bool {
	return c.HasRole(RoleAdmin)
}

// user is the stored form of a credential record.
type user struct {
	Credentials
	PasswordHash string `json:"passwordHash"`
}

// Claims holds JWT token claims.
type Claims struct {
	Credentials
	jwt.RegisteredClaims
}

// Auth issues and validates tokens and manages credential records.
type Auth struct {
	index    index.Store
	secret   []byte
	tokenTTL time.Duration
}

// New creates an Auth handler.
func New(idx index.Store, jwtSecret string) *Auth {
	return &Auth{
		index:    idx,
		secret:   []byte(jwtSecret),
		tokenTTL: 24 * time.Hour,
	}
}

// EnsureDefaultAdmin creates the bootstrap admin account if no credential
// records exist yet.
func (a *Auth) EnsureDefaultAdmin(ctx context.Context, username, password string) error {
	if err := a.index.CreateIndex(ctx, usersIndex); err != nil {
		return fmt.Errorf("provision credentials index: %w", err)
	}
	page, err := a.index.List(ctx, usersIndex, "", 1, "")
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	if page.Total > 0 {
		return nil
	}
	if err := a.CreateUser(ctx, username, password, username, []string{RoleAdmin}); err != nil {
		return err
	}
	logging.Warn("created default admin account, change its password",
		zap.String("username", username))
	return nil
}

// CreateUser registers a credential record with a bcrypt-hashed password.
func (a *Auth) CreateUser(ctx context.Context, username, password, group string, roles []string) error {
	if username == "" || password == "" {
		return errs.IllegalArgument("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u := user{
		Credentials: Credentials{
			ID:       uuid.NewString(),
			Username: username,
			Group:    group,
			Roles:    roles,
		},
		PasswordHash: string(hash),
	}
	src, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := a.index.CreateIndex(ctx, usersIndex); err != nil {
		return fmt.Errorf("provision credentials index: %w", err)
	}
	if err := a.index.Put(ctx, usersIndex, username, src); err != nil {
		return fmt.Errorf("store user %s: %w", username, err)
	}
	return nil
}

// Login verifies a username/password pair and returns a signed token.
func (a *Auth) Login(ctx context.Context, username, password string) (string, error) {
	src, err := a.index.Get(ctx, usersIndex, username)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return "", errs.Unauthorized("invalid credentials")
		}
		return "", fmt.Errorf("load user %s: %w", username, err)
	}
	var u user
	if err := json.Unmarshal(src, &u); err != nil {
		return "", fmt.Errorf("decode user %s: %w", username, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", errs.Unauthorized("invalid credentials")
	}
	return a.issueToken(u.Credentials)
}

func (a *Auth) issueToken(creds Credentials) (string, error) {
	now := time.Now()
	claims := Claims{
		Credentials: creds,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   creds.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errs.Unauthorized("invalid token")
	}
	return claims, nil
}

// Middleware validates the bearer token and stores the caller's
// credentials in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			sendAuthError(w, "missing authentication token")
			return
		}
		claims, err := a.validateToken(tokenStr)
		if err != nil {
			sendAuthError(w, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), credentialsContextKey, &claims.Credentials)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCredentials extracts the caller's credentials from the context.
func GetCredentials(ctx context.Context) *Credentials {
	creds, _ := ctx.Value(credentialsContextKey).(*Credentials)
	return creds
}

// WithCredentials stores credentials in a context, for tests and
// internal callers.
func WithCredentials(ctx context.Context, creds *Credentials) context.Context {
	return context.WithValue(ctx, credentialsContextKey, creds)
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func sendAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
