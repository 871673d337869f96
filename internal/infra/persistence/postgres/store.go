// Package postgres persists last-build summaries to PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"packforge/internal/infra/persistence/memory"
	"packforge/pkg/domain"
)

var _ domain.SummaryStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/packforge?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const schema = `CREATE TABLE IF NOT EXISTS build_summaries (
	output_root TEXT PRIMARY KEY,
	build_id TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	payload JSONB NOT NULL
)`

// Store writes summaries to Postgres and serves reads from a memory store
// hydrated at open.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a store using dsn (falls back to defaultDSN), ensures the
// table exists and loads existing rows.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure build_summaries table: %w", err)
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT output_root, payload FROM build_summaries`)
	if err != nil {
		return nil, fmt.Errorf("select build_summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	for rows.Next() {
		var root string
		var payload []byte
		if err := rows.Scan(&root, &payload); err != nil {
			return nil, fmt.Errorf("scan build_summaries: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		snapshot[root] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build_summaries: %w", err)
	}
	return snapshot, nil
}

// SaveSummary upserts the row for summary.OutputRoot inside a transaction,
// then updates the read model.
func (s *Store) SaveSummary(ctx context.Context, summary domain.BuildSummary) error {
	root, payload, err := memory.Encode(summary)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO build_summaries(output_root, build_id, content_hash, payload) VALUES($1,$2,$3,$4) ON CONFLICT (output_root) DO UPDATE SET build_id=EXCLUDED.build_id, content_hash=EXCLUDED.content_hash, payload=EXCLUDED.payload`,
		root, summary.BuildID, summary.ContentHash, string(payload)); err != nil {
		return fmt.Errorf("upsert summary %s: %w", root, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.Put(root, payload)
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
