package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"packforge/internal/infra/persistence/postgres/testutil"
	"packforge/pkg/domain"
)

func withStub(t *testing.T) *testutil.StubConn {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	return conn
}

func sample(id string) domain.BuildSummary {
	return domain.BuildSummary{
		BuildID:     id,
		OutputRoot:  "/srv/packs",
		OutputDir:   "/srv/packs/" + id,
		ContentHash: "hash-" + id,
		ParityMode:  domain.ParityLenient,
	}
}

func TestNewStoreCreatesTableAndHydrates(t *testing.T) {
	conn := withStub(t)
	conn.Tables["build_summaries"] = []map[string]any{{
		"output_root":  "/srv/packs",
		"build_id":     "build-old",
		"content_hash": "hash-old",
		"payload":      `{"build_id":"build-old","output_root":"/srv/packs","content_hash":"hash-old"}`,
	}}
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS build_summaries") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected table DDL, got %v", conn.Execs)
	}
	got, ok, err := store.LoadSummary(context.Background(), "/srv/packs")
	if err != nil || !ok || got.BuildID != "build-old" {
		t.Fatalf("hydrated summary = %+v %v %v", got, ok, err)
	}
}

func TestSaveSummaryUpsertsOneRowPerRoot(t *testing.T) {
	conn := withStub(t)
	store, err := NewStore(context.Background(), "postgres://stub")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"build-1", "build-2"} {
		if err := store.SaveSummary(ctx, sample(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	rows := conn.Rows("build_summaries")
	if len(rows) != 1 || rows[0]["build_id"] != "build-2" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	list, err := store.ListSummaries(ctx)
	if err != nil || len(list) != 1 || list[0].ContentHash != "hash-build-2" {
		t.Fatalf("list = %+v %v", list, err)
	}
}

func TestSaveSummaryCommitFailureKeepsPreviousState(t *testing.T) {
	conn := withStub(t)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	if err := store.SaveSummary(ctx, sample("build-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	conn.FailCommit = true
	if err := store.SaveSummary(ctx, sample("build-2")); err == nil {
		t.Fatalf("expected commit failure")
	}
	got, _, _ := store.LoadSummary(ctx, "/srv/packs")
	if got.BuildID != "build-1" {
		t.Fatalf("read model advanced past failed commit: %s", got.BuildID)
	}
	if rows := conn.Rows("build_summaries"); len(rows) != 1 || rows[0]["build_id"] != "build-1" {
		t.Fatalf("rows changed after failed commit: %+v", rows)
	}
}

func TestNewStoreErrors(t *testing.T) {
	conn := withStub(t)
	conn.FailPing = true
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewStoreRowsError(t *testing.T) {
	conn := withStub(t)
	conn.RowsErr = errors.New("cursor broke")
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "iterate") {
		t.Fatalf("expected iterate error, got %v", err)
	}
}
