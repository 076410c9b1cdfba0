// Package sync mirrors a local directory tree onto a remote bucket
// prefix using content-hash diffing.
package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/filedrift/filedrift/pkg/client"
)

// Options configures a Synchronizer.
type Options struct {
	Client   *client.Client
	Bucket   string
	Prefix   string // remote path prefix, "/" for the bucket root
	Source   string // local directory root
	PageSize int
}

// Report lists the paths touched by one run: remote paths matched
// against an existing local file, paths written, and remote paths
// removed.
type Report struct {
	Checked  []string
	Uploaded []string
	Deleted  []string
}

// Synchronizer makes a remote bucket prefix mirror a local directory.
// The local tree is authoritative: remote entries without a local
// counterpart are deleted, never restored.
type Synchronizer struct {
	client   *client.Client
	bucket   string
	prefix   string
	source   string
	pageSize int
}

// New creates a synchronizer. The prefix is normalized to a leading
// slash and no trailing slash.
func New(opts Options) *Synchronizer {
	prefix := "/" + strings.Trim(opts.Prefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Synchronizer{
		client:   opts.Client,
		bucket:   opts.Bucket,
		prefix:   prefix,
		source:   opts.Source,
		pageSize: pageSize,
	}
}

// run accumulates one synchronization's state. A fresh run is built per
// Sync call, so repeated calls perform independent full comparisons.
type run struct {
	checked  map[string]bool
	uploaded []string
	deleted  []string
}

// Sync runs both phases and reports what was touched. Phase one walks
// the remote listing and uploads changed or deletes vanished entries;
// phase two walks the local tree and uploads files the first phase
// never saw.
func (s *Synchronizer) Sync(ctx context.Context) (*Report, error) {
	r := &run{checked: make(map[string]bool)}
	if err := s.syncFromServer(ctx, r); err != nil {
		return nil, err
	}
	if err := s.syncFromLocal(ctx, r); err != nil {
		return nil, err
	}

	report := &Report{
		Checked:  make([]string, 0, len(r.checked)),
		Uploaded: r.uploaded,
		Deleted:  r.deleted,
	}
	for path := range r.checked {
		report.Checked = append(report.Checked, path)
	}
	sort.Strings(report.Checked)
	sort.Strings(report.Uploaded)
	sort.Strings(report.Deleted)
	return report, nil
}

// syncFromServer pages the remote listing. A remote entry with a local
// counterpart is checked and re-uploaded when hashes differ; one
// without is deleted.
func (s *Synchronizer) syncFromServer(ctx context.Context, r *run) error {
	cursor := ""
	for {
		page, err := s.client.List(ctx, s.bucket, s.listPrefix(), s.pageSize, cursor)
		if err != nil {
			return fmt.Errorf("list remote files: %w", err)
		}
		for _, remote := range page.Files {
			localPath, ok := s.localFor(remote.Path)
			if !ok {
				continue
			}
			info, err := os.Stat(localPath)
			if err != nil || !info.Mode().IsRegular() {
				if _, err := s.client.Delete(ctx, s.bucket, remote.Path); err != nil {
					return fmt.Errorf("delete %s: %w", remote.Path, err)
				}
				r.deleted = append(r.deleted, remote.Path)
				continue
			}

			r.checked[remote.Path] = true
			hash, err := hashFile(localPath)
			if err != nil {
				return err
			}
			if hash != remote.Hash {
				if err := s.upload(ctx, r, localPath, remote.Path, info.Size()); err != nil {
					return err
				}
			}
		}
		if page.Next == "" {
			return nil
		}
		cursor = page.Next
	}
}

// syncFromLocal walks the local tree, skipping dot-prefixed names, and
// uploads every regular file the server phase did not check.
func (s *Synchronizer) syncFromLocal(ctx context.Context, r *run) error {
	return filepath.WalkDir(s.source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != s.source {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		remotePath, err := s.remoteFor(path)
		if err != nil {
			return err
		}
		if r.checked[remotePath] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return s.upload(ctx, r, path, remotePath, info.Size())
	})
}

func (s *Synchronizer) upload(ctx context.Context, r *run, localPath, remotePath string, size int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	if _, err := s.client.Upload(ctx, s.bucket, remotePath, f, size); err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	r.uploaded = append(r.uploaded, remotePath)
	return nil
}

func (s *Synchronizer) listPrefix() string {
	if s.prefix == "" {
		return "/"
	}
	return s.prefix
}

// localFor maps a remote path under the prefix to a local file path.
func (s *Synchronizer) localFor(remotePath string) (string, bool) {
	rel := strings.TrimPrefix(remotePath, s.prefix)
	if rel == remotePath && s.prefix != "" {
		return "", false
	}
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", false
	}
	return filepath.Join(s.source, filepath.FromSlash(rel)), true
}

// remoteFor maps a local file path to its remote path under the prefix.
func (s *Synchronizer) remoteFor(localPath string) (string, error) {
	rel, err := filepath.Rel(s.source, localPath)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", localPath, err)
	}
	return s.prefix + "/" + filepath.ToSlash(rel), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
