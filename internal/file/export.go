package file

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/filedrift/filedrift/internal/auth"
	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/webpath"
)

// ExportRequest names the files to bundle into one zip archive.
type ExportRequest struct {
	FileName string   `json:"fileName"`
	FlatZip  bool     `json:"flatZip"`
	Paths    []string `json:"paths"`
}

// Export streams the requested files as a zip archive to w. Every path
// is resolved and permission-checked before the first byte is written,
// so an unauthorized or missing path fails the whole request instead of
// producing a partial archive. Each blob is copied straight into its
// archive entry; memory use stays bounded by one copy buffer.
func (s *Service) Export(ctx context.Context, bucketName string, req ExportRequest, w io.Writer) error {
	settings, err := s.registry.Get(ctx, bucketName)
	if err != nil {
		return err
	}
	if len(req.Paths) == 0 {
		return errs.IllegalArgument("export requires at least one path")
	}

	creds := auth.GetCredentials(ctx)
	entries := make([]*Metadata, 0, len(req.Paths))
	for _, raw := range req.Paths {
		p := webpath.Parse(raw)
		meta, err := s.meta.get(ctx, bucketName, p)
		if err != nil {
			return err
		}
		if err := settings.Permissions.CheckRead(creds, meta.Owner, meta.Group); err != nil {
			return err
		}
		entries = append(entries, meta)
	}

	zw := zip.NewWriter(w)
	for _, meta := range entries {
		name := strings.TrimPrefix(meta.Path, "/")
		if req.FlatZip {
			name = meta.Name
		}
		ew, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create archive entry %s: %w", name, err)
		}
		rc, err := s.open(ctx, settings, bucketName, meta)
		if err != nil {
			return err
		}
		_, err = io.Copy(ew, rc)
		rc.Close()
		if err != nil {
			// downstream write failure is a hard stop
			return fmt.Errorf("stream archive entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}
