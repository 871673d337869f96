package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Concrete backends are reached through one wrapper package each: blob
// drivers through internal/blob, summary stores through internal/core.
func TestInfraBackendsHaveSingleEntryPoint(t *testing.T) {
	boundaries := []struct {
		infra   string
		allowed []string
	}{
		{infra: "packforge/internal/infra/blob", allowed: []string{"packforge/internal/blob"}},
		{infra: "packforge/internal/infra/persistence", allowed: []string{"packforge/internal/core"}},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "packforge/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, b := range boundaries {
			if hasPathPrefix(pkg.PkgPath, b.infra) || allowedImporter(pkg.PkgPath, b.allowed) {
				continue
			}
			for importPath := range pkg.Imports {
				if hasPathPrefix(importPath, b.infra) {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
				}
			}
		}
	}
	if len(seen) == 0 {
		return
	}
	violations := make([]string, 0, len(seen))
	for v := range seen {
		violations = append(violations, v)
	}
	sort.Strings(violations)
	t.Fatalf("found %d imports that bypass the infra entry points:\n%s", len(violations), strings.Join(violations, "\n"))
}

func allowedImporter(pkgPath string, allowed []string) bool {
	for _, a := range allowed {
		if hasPathPrefix(pkgPath, a) {
			return true
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
