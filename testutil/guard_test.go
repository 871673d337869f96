package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred ImportPredicate
		in   string
		want bool
	}{
		{InternalImportForbidden, "packforge/internal/core", true},
		{InternalImportForbidden, "packforge/pkg/domain", false},
		{InfraImportForbidden, "packforge/internal/infra/blob/s3", true},
		{InfraImportForbidden, "packforge/internal/blob", false},
		{DriverImportForbidden, "github.com/aws/aws-sdk-go-v2/service/s3", true},
		{DriverImportForbidden, "github.com/jackc/pgx/v5/stdlib", true},
		{DriverImportForbidden, "github.com/nats-io/nats.go", true},
		{DriverImportForbidden, "modernc.org/sqlite", true},
		{DriverImportForbidden, "database/sql", true},
		{DriverImportForbidden, "github.com/prometheus/client_golang/prometheus", false},
		{DriverImportForbidden, "encoding/json", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	combined := AnyOf(InfraImportForbidden, DriverImportForbidden)
	if !combined("modernc.org/sqlite") || !combined("x/internal/infra/fs") || combined("fmt") {
		t.Fatalf("AnyOf did not combine predicates")
	}
}

func writeSource(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"database/sql\"\n)\nvar _ = fmt.Sprint\nvar _ *sql.DB\n")
	writeSource(t, dir, "a_test.go", "package tmp\nimport \"github.com/nats-io/nats.go\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub.go"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	viols, err := directImportViolations(dir, DriverImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "database/sql (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	AssertNoDirectImports(t, dir, InternalImportForbidden, "no internal imports")
}

func TestDirectImportViolationsErrors(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), DriverImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	dir := t.TempDir()
	writeSource(t, dir, "bad.go", "package tmp\nimport (\n")
	if _, err := directImportViolations(dir, DriverImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

type recordingLogger struct{ msg string }

func (r *recordingLogger) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfViolations(t *testing.T) {
	var rec recordingLogger
	failIfViolations(&rec, "forbidden direct imports", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("unexpected failure %q", rec.msg)
	}
	failIfViolations(&rec, "forbidden direct imports", "domain stays pure", []string{"a", "b"})
	if !strings.Contains(rec.msg, "domain stays pure") || !strings.Contains(rec.msg, "a\nb") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
}

func TestAssertNoTransitiveDependencyUsesGoList(t *testing.T) {
	prev := goListDeps
	t.Cleanup(func() { goListDeps = prev })

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\npackforge/pkg/domain\n\n"), nil
	}
	AssertNoTransitiveDependency(t, "./...", DriverImportForbidden, "none")

	if got := matchLines([]byte("fmt\nmodernc.org/sqlite\n"), DriverImportForbidden); len(got) != 1 || got[0] != "modernc.org/sqlite" {
		t.Fatalf("matchLines = %v", got)
	}

	goListDeps = func(string) ([]byte, error) { return nil, errors.New("no go toolchain") }
	t.Run("skips without go list", func(t *testing.T) {
		AssertNoTransitiveDependency(t, "./...", DriverImportForbidden, "none")
		t.Fatalf("expected skip")
	})
}
