package domain

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func validProfile() Profile {
	return Profile{
		AgentName: "Claims Triage",
		Slug:      "claims-triage",
		Industry:  "insurance",
		Role:      "claims intake assistant",
		Governance: GovernanceTargets{
			PRIMin: Float(0.95),
			HALMax: Float(0.02),
			AUDMin: Float(0.9),
		},
	}
}

func TestProfileValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Profile)
		want   string
	}{
		{name: "valid", mutate: func(*Profile) {}},
		{name: "missing fields", mutate: func(p *Profile) {
			p.AgentName = " "
			p.Governance.HALMax = nil
		}, want: "missing agent_name, governance.HAL_max"},
		{name: "ratio out of range", mutate: func(p *Profile) { p.Governance.PRIMin = Float(1.2) }, want: "governance.PRI_min must be between 0 and 1"},
		{name: "slug with separator", mutate: func(p *Profile) { p.Slug = "a/b" }, want: "single path segment"},
		{name: "slug traversal", mutate: func(p *Profile) { p.Slug = "..x" }, want: "single path segment"},
		{name: "nan ratio", mutate: func(p *Profile) { p.Governance.HALMax = Float(math.NaN()) }, want: "governance.HAL_max must be between 0 and 1"},
		{name: "infinite ratio", mutate: func(p *Profile) { p.Governance.AUDMin = Float(math.Inf(1)) }, want: "governance.AUD_min must be between 0 and 1"},
		{name: "nan kpi target", mutate: func(p *Profile) {
			p.KPIs = []KPI{{Name: "csat", Target: 0.9}, {Name: "aht", Target: math.NaN()}}
		}, want: "kpis[1].target must be a finite number"},
		{name: "infinite kpi target", mutate: func(p *Profile) {
			p.KPIs = []KPI{{Name: "aht", Target: math.Inf(-1)}}
		}, want: "kpis[0].target must be a finite number"},
		{name: "duplicate kpi name", mutate: func(p *Profile) {
			p.KPIs = []KPI{{Name: "csat", Target: 0.9}, {Name: "csat", Target: 0.8}}
		}, want: `duplicate kpi name "csat"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validProfile()
			tc.mutate(&p)
			err := p.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidProfile) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestParseParityMode(t *testing.T) {
	for _, s := range []string{"strict", "lenient"} {
		if mode, err := ParseParityMode(s); err != nil || string(mode) != s {
			t.Fatalf("ParseParityMode(%q) = %q, %v", s, mode, err)
		}
	}
	for _, s := range []string{"", "Strict", "off"} {
		if _, err := ParseParityMode(s); !errors.Is(err, ErrParityModeRequired) {
			t.Fatalf("ParseParityMode(%q) error = %v", s, err)
		}
	}
}

func TestDocNames(t *testing.T) {
	names := DocNames()
	if len(names) != PackCount {
		t.Fatalf("expected %d names, got %d", PackCount, len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted at %d: %v", i, names)
		}
	}
	if _, err := ParseDocName("readme"); !errors.Is(err, ErrUnknownDocument) {
		t.Fatalf("expected unknown document, got %v", err)
	}
	if DocPackManifest.FileName() != "pack_manifest.json" {
		t.Fatalf("file name = %s", DocPackManifest.FileName())
	}
}

func TestOverlayConfigValidate(t *testing.T) {
	good := OverlaySpec{Name: "soc2", Version: "1", Document: DocAuditPolicy, Ops: []OverlayOp{
		{Kind: OpEnsureKey, Path: "controls.soc2", Value: true},
		{Kind: OpEnsureListContains, Path: "references", Entries: []any{"data_handling"}},
		{Kind: OpEnsureCrossRef, Path: "handling_ref", Target: DocDataHandling},
	}}
	cfg := OverlayConfig{Allowlist: []string{"soc2"}, Overlays: []OverlaySpec{good}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if !cfg.Allowed("soc2") || cfg.Allowed("hipaa") {
		t.Fatalf("allow-list membership wrong")
	}

	bad := []struct {
		name string
		cfg  OverlayConfig
		want string
	}{
		{"unnamed", OverlayConfig{Overlays: []OverlaySpec{{Document: DocAuditPolicy}}}, "name required"},
		{"duplicate", OverlayConfig{Overlays: []OverlaySpec{good, good}}, "duplicate name"},
		{"unknown document", OverlayConfig{Overlays: []OverlaySpec{{Name: "x", Document: "nope"}}}, "unknown document"},
		{"empty path", withOp(OverlayOp{Kind: OpEnsureKey, Value: 1}), "path required"},
		{"key without value", withOp(OverlayOp{Kind: OpEnsureKey, Path: "a"}), "value required"},
		{"list without entries", withOp(OverlayOp{Kind: OpEnsureListContains, Path: "a"}), "entries required"},
		{"bad cross ref", withOp(OverlayOp{Kind: OpEnsureCrossRef, Path: "a", Target: "elsewhere"}), "unknown document"},
		{"unknown kind", withOp(OverlayOp{Kind: "delete_key", Path: "a"}), "unknown overlay operation"},
	}
	for _, tc := range bad {
		if err := tc.cfg.Validate(); err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error = %v, want %q", tc.name, err, tc.want)
		}
	}
}

func withOp(op OverlayOp) OverlayConfig {
	return OverlayConfig{Overlays: []OverlaySpec{{Name: "x", Document: DocSafetyPolicy, Ops: []OverlayOp{op}}}}
}

func TestOverlaySummaryApplied(t *testing.T) {
	s := OverlaySummary{Items: []OverlayItem{
		{Name: "a", Status: OverlayApplied},
		{Name: "b", Status: OverlayNoop},
		{Name: "c", Status: OverlayApplied},
	}}
	if s.Applied() != 2 {
		t.Fatalf("applied = %d", s.Applied())
	}
	s.RolledBack = true
	if s.Applied() != 0 {
		t.Fatalf("rolled back summary should report zero applied")
	}
}

func TestTreeParentLookupAndClone(t *testing.T) {
	tree := Tree{"agent": map[string]any{"slug": "x"}, "tags": []any{"a"}, "scalar": "v"}

	parent, key, err := tree.Parent("policy.targets.PRI_min", true)
	if err != nil {
		t.Fatalf("parent: %v", err)
	}
	parent[key] = 0.95
	if v, ok := tree.Lookup("policy.targets.PRI_min"); !ok || v != 0.95 {
		t.Fatalf("lookup after create = %v %v", v, ok)
	}
	if _, _, err := tree.Parent("missing.leaf", false); err == nil {
		t.Fatalf("expected not found without create")
	}
	if _, _, err := tree.Parent("scalar.leaf", true); err == nil {
		t.Fatalf("expected error descending into a scalar")
	}

	clone := tree.Clone()
	clone["agent"].(map[string]any)["slug"] = "changed"
	clone["tags"] = append(clone["tags"].([]any), "b")
	if v, _ := tree.Lookup("agent.slug"); v != "x" {
		t.Fatalf("clone shares nested maps")
	}

	want := []string{"agent.slug", "policy.targets.PRI_min", "scalar", "tags"}
	if got := tree.Paths(); !reflect.DeepEqual(got, want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
}

func TestIsEmpty(t *testing.T) {
	for _, v := range []any{nil, "", "  ", []any{}, map[string]any{}, Tree{}} {
		if !IsEmpty(v) {
			t.Fatalf("IsEmpty(%#v) = false", v)
		}
	}
	for _, v := range []any{0, false, "x", []any{nil}} {
		if IsEmpty(v) {
			t.Fatalf("IsEmpty(%#v) = true", v)
		}
	}
}

func TestIntegrityReportMerge(t *testing.T) {
	r := IntegrityReport{}
	if !r.Clean() {
		t.Fatalf("empty report should be clean")
	}
	r.Merge(IntegrityReport{
		Parity:   map[string]bool{"a↔b": false},
		Warnings: []IntegrityIssue{{Document: DocEvalSuite, Message: "thin"}},
	})
	if r.ParityOK() || r.Clean() {
		t.Fatalf("failed relation must make the report unclean")
	}
	r.Merge(IntegrityReport{Parity: map[string]bool{"a↔b": true}})
	if !r.Clean() {
		t.Fatalf("later parity result should win")
	}
	if got := r.WarningStrings(); len(got) != 1 || got[0] != "eval_suite: thin" {
		t.Fatalf("warnings = %v", got)
	}
	issue := IntegrityIssue{Document: DocAuditPolicy, Path: "coverage.AUD_min", Message: "missing"}
	if issue.String() != "audit_policy coverage.AUD_min: missing" {
		t.Fatalf("issue string = %s", issue.String())
	}
}
