package core

import (
	"context"
	"path/filepath"
	"testing"

	"packforge/internal/infra/persistence/memory"
	"packforge/internal/infra/persistence/sqlite"
	"packforge/pkg/domain"
)

func TestStorageOptionsFromEnv(t *testing.T) {
	t.Setenv("PACKFORGE_STORAGE_DRIVER", "postgres")
	t.Setenv("PACKFORGE_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("PACKFORGE_POSTGRES_DSN", "postgres://db/packs")
	opts := StorageOptionsFromEnv()
	if opts.Driver != StoragePostgres || opts.SQLitePath != "/tmp/x.db" || opts.PostgresDSN != "postgres://db/packs" {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestOpenSummaryStoreDrivers(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSummaryStore(ctx, StorageOptions{Driver: StorageMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
	if _, err := OpenSummaryStore(ctx, StorageOptions{Driver: "redis"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}

	path := filepath.Join(t.TempDir(), "summaries.db")
	store, err = OpenSummaryStore(ctx, StorageOptions{SQLitePath: path})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("expected default sqlite store, got %T", store)
	}
}

func TestServiceHydratesFromSQLite(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "summaries.db")
	store, err := OpenSummaryStore(ctx, StorageOptions{Driver: StorageSQLite, SQLitePath: path})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	res, err := NewService(WithSummaryStore(store)).Build(ctx, deterministicRequest(root, domain.ParityStrict))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_ = store.Close()

	reopened, err := OpenSummaryStore(ctx, StorageOptions{Driver: StorageSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	svc := NewService(WithSummaryStore(reopened))
	if err := svc.Hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	last, ok := svc.LastBuild(root)
	if !ok || last.ContentHash != res.Summary.ContentHash {
		t.Fatalf("hydrated %+v", last)
	}
}
