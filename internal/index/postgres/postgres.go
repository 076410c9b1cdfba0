// Package postgres provides a PostgreSQL-backed index.Store for shared
// deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/filedrift/filedrift/internal/index"
)

const schema = `
CREATE TABLE IF NOT EXISTS indices (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS documents (
	index_name TEXT NOT NULL REFERENCES indices(name) ON DELETE CASCADE,
	id         TEXT NOT NULL,
	source     BYTEA NOT NULL,
	PRIMARY KEY (index_name, id)
);
`

// Store persists indices in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New connects and ensures the schema exists.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// CreateIndex registers an index name.
func (s *Store) CreateIndex(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO indices (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// DeleteIndex drops an index and cascades to its documents.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indices WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return index.ErrNotFound
	}
	return nil
}

// Get returns a document source.
func (s *Store) Get(ctx context.Context, name, id string) ([]byte, error) {
	var src []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT source FROM documents WHERE index_name = $1 AND id = $2`,
		name, id).Scan(&src)
	if err == sql.ErrNoRows {
		return nil, index.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", name, id, err)
	}
	return src, nil
}

// Put upserts a document.
func (s *Store) Put(ctx context.Context, name, id string, source []byte) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (index_name, id, source)
		 SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM indices WHERE name = $1)
		 ON CONFLICT (index_name, id) DO UPDATE SET source = EXCLUDED.source`,
		name, id, source)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", name, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return index.ErrNotFound
	}
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, name, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE index_name = $1 AND id = $2`, name, id)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", name, id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteByPrefix removes every document whose ID starts with prefix.
func (s *Store) DeleteByPrefix(ctx context.Context, name, prefix string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE index_name = $1 AND id LIKE $2 || '%'`,
		name, escapeLike(prefix))
	if err != nil {
		return 0, fmt.Errorf("delete by prefix %s/%s: %w", name, prefix, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// List returns one ID-sorted page of documents matching prefix, using
// keyset pagination behind the opaque cursor.
func (s *Store) List(ctx context.Context, name, prefix string, size int, cursor string) (*index.Page, error) {
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 50
	}

	page := &index.Page{}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE index_name = $1 AND id LIKE $2 || '%'`,
		name, escapeLike(prefix)).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("count %s/%s: %w", name, prefix, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source FROM documents
		 WHERE index_name = $1 AND id LIKE $2 || '%' AND id > $3
		 ORDER BY id LIMIT $4`,
		name, escapeLike(prefix), after, size+1)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", name, prefix, err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc index.Doc
		if err := rows.Scan(&doc.ID, &doc.Source); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(page.Docs) == size {
			page.Next = encodeCursor(page.Docs[size-1].ID)
			break
		}
		page.Docs = append(page.Docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func encodeCursor(lastID string) string {
	return base64.URLEncoding.EncodeToString([]byte(lastID))
}

func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", index.ErrBadCursor
	}
	return string(raw), nil
}
