// Package errs defines the error kinds shared by the service layers.
//
// Handlers map these kinds to HTTP statuses; everything else wraps them
// with fmt.Errorf and %w so callers can test with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an unknown bucket, path or cursor.
	ErrNotFound = errors.New("not found")

	// ErrIllegalArgument marks a malformed or out-of-bounds request.
	ErrIllegalArgument = errors.New("illegal argument")

	// ErrForbidden marks a permission denial for authenticated callers.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized marks missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// NotFound returns a formatted ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

// IllegalArgument returns a formatted ErrIllegalArgument.
func IllegalArgument(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrIllegalArgument, args)...)
}

// Forbidden returns a formatted ErrForbidden.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrForbidden, args)...)
}

// Unauthorized returns a formatted ErrUnauthorized.
func Unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrUnauthorized, args)...)
}

func prepend(err error, args []any) []any {
	return append([]any{err}, args...)
}
