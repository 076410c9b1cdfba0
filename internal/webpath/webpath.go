// Package webpath implements slash-delimited path addresses for objects
// stored inside a bucket.
package webpath

import (
	"net/url"
	"strings"
)

// Path is an immutable, ordered sequence of non-empty segments.
// The zero value is the root path.
type Path struct {
	segments []string
}

// Root is the empty path.
var Root = Path{}

// Parse builds a Path from a slash-delimited string. Leading and trailing
// slashes are stripped; empty segments are dropped.
func Parse(s string) Path {
	parts := strings.Split(s, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	if len(segments) == 0 {
		return Root
	}
	return Path{segments: segments}
}

// New builds a Path from explicit segments. Empty segments are dropped.
func New(segments ...string) Path {
	return Parse(strings.Join(segments, "/"))
}

// String joins the segments back to a slash-delimited string with a
// leading slash. The root path renders as "/".
func (p Path) String() string {
	if p.IsRoot() {
		return "/"
	}
	return "/" + strings.Join(p.segments, "/")
}

// IsRoot reports whether the path has no segments.
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Size returns the number of segments.
func (p Path) Size() int {
	return len(p.segments)
}

// First returns the first segment, or "" for the root path.
func (p Path) First() string {
	if p.IsRoot() {
		return ""
	}
	return p.segments[0]
}

// Last returns the last segment, or "" for the root path.
func (p Path) Last() string {
	if p.IsRoot() {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// AddFirst returns a new path with segment prepended.
func (p Path) AddFirst(segment string) Path {
	if segment == "" {
		return p
	}
	segments := make([]string, 0, len(p.segments)+1)
	segments = append(segments, segment)
	segments = append(segments, p.segments...)
	return Path{segments: segments}
}

// AddLast returns a new path with segment appended.
func (p Path) AddLast(segment string) Path {
	if segment == "" {
		return p
	}
	segments := make([]string, 0, len(p.segments)+1)
	segments = append(segments, p.segments...)
	segments = append(segments, segment)
	return Path{segments: segments}
}

// RemoveFirst returns a new path without the first segment.
func (p Path) RemoveFirst() Path {
	if p.IsRoot() {
		return p
	}
	return Path{segments: p.segments[1:]}
}

// RemoveLast returns a new path without the last segment.
func (p Path) RemoveLast() Path {
	if p.IsRoot() {
		return p
	}
	return Path{segments: p.segments[:len(p.segments)-1]}
}

// Segments returns a copy of the segment slice.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Equal reports whether two paths have the same segments.
func (p Path) Equal(q Path) bool {
	if len(p.segments) != len(q.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != q.segments[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a segment-wise prefix of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.segments) > len(p.segments) {
		return false
	}
	for i := range prefix.segments {
		if p.segments[i] != prefix.segments[i] {
			return false
		}
	}
	return true
}

// Escaped renders the path with each segment URL-escaped, for safe
// embedding in a retrieval URL.
func (p Path) Escaped() string {
	if p.IsRoot() {
		return "/"
	}
	var b strings.Builder
	for _, s := range p.segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
