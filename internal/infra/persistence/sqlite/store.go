// Package sqlite persists last-build summaries to an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"packforge/internal/infra/persistence/memory"
	"packforge/pkg/domain"
)

var _ domain.SummaryStore = (*Store)(nil)

const schema = `CREATE TABLE IF NOT EXISTS build_summaries (
	output_root TEXT PRIMARY KEY,
	build_id TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	payload BLOB NOT NULL
)`

// Store writes each summary through to SQLite and serves reads from the
// embedded memory store hydrated at open.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path. The default is
// packforge.db in the working directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "packforge.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create build_summaries table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT output_root, payload FROM build_summaries`)
	if err != nil {
		return fmt.Errorf("select build_summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	for rows.Next() {
		var root string
		var payload []byte
		if err := rows.Scan(&root, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		snapshot[root] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate build_summaries: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// SaveSummary upserts the row for summary.OutputRoot, then updates the read
// model. A failed write leaves the read model untouched.
func (s *Store) SaveSummary(ctx context.Context, summary domain.BuildSummary) error {
	root, payload, err := memory.Encode(summary)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO build_summaries(output_root, build_id, content_hash, payload) VALUES(?,?,?,?)
		ON CONFLICT(output_root) DO UPDATE SET build_id=excluded.build_id, content_hash=excluded.content_hash, payload=excluded.payload`,
		root, summary.BuildID, summary.ContentHash, payload); err != nil {
		return fmt.Errorf("upsert summary %s: %w", root, err)
	}
	s.Put(root, payload)
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
