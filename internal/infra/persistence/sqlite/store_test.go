package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"packforge/pkg/domain"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "summaries.db")
	store := openStore(t, path)
	for _, id := range []string{"build-1", "build-2"} {
		if err := store.SaveSummary(ctx, domain.BuildSummary{
			BuildID:     id,
			OutputRoot:  "/srv/out",
			ContentHash: "hash-" + id,
			ParityMode:  domain.ParityStrict,
			Files:       []string{"pack_manifest.json"},
		}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded := openStore(t, path)
	t.Cleanup(func() { _ = reloaded.Close() })
	got, ok, err := reloaded.LoadSummary(ctx, "/srv/out")
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if got.BuildID != "build-2" || got.ContentHash != "hash-build-2" || got.ParityMode != domain.ParityStrict {
		t.Fatalf("unexpected summary %+v", got)
	}
	var rows int
	if err := reloaded.DB().QueryRow(`SELECT COUNT(*) FROM build_summaries`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one row per root, got %d", rows)
	}
}

func TestSQLiteStoreRejectsSummaryWithoutRoot(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "s.db"))
	t.Cleanup(func() { _ = store.Close() })
	if err := store.SaveSummary(context.Background(), domain.BuildSummary{BuildID: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	list, err := store.ListSummaries(context.Background())
	if err != nil || len(list) != 0 {
		t.Fatalf("list = %+v %v", list, err)
	}
}

func TestSQLiteStoreDefaultPath(t *testing.T) {
	t.Chdir(t.TempDir())
	store := openStore(t, "")
	t.Cleanup(func() { _ = store.Close() })
	if store.Path() != "packforge.db" {
		t.Fatalf("path = %s", store.Path())
	}
}
