package core

import (
	"context"
	"testing"

	"packforge/pkg/domain"
)

func sampleProfile() domain.Profile {
	return domain.Profile{
		AgentName: "Claims Triage",
		Slug:      "claims-triage",
		Industry:  "insurance",
		Role:      "claims intake assistant",
		Owner:     "ops-lead",
		Governance: domain.GovernanceTargets{
			PRIMin:          domain.Float(0.95),
			HALMax:          domain.Float(0.02),
			AUDMin:          domain.Float(0.9),
			EscalationHours: 4,
		},
		MemoryScopes:  []string{"session", "customer"},
		RetentionDays: 45,
		Toolsets:      []string{"crm", "policy_lookup"},
		Workflows:     []string{"fnol", "document_check"},
		KPIs: []domain.KPI{
			{Name: "first_contact_resolution", Target: 0.7},
			{Name: "handle_minutes", Target: 12, Unit: "minutes"},
		},
		Traits: []string{"precise", "calm"},
	}
}

func mustRender(t *testing.T, p domain.Profile) domain.DocumentSet {
	t.Helper()
	set, err := Render(p, RenderOptions{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return set
}

func mustEncode(t *testing.T, set domain.DocumentSet) []File {
	t.Helper()
	files, err := EncodeDocumentSet(set)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return files
}

// setField overwrites a value in place; tests use it to simulate a drifted
// document.
func setField(t *testing.T, set domain.DocumentSet, name domain.DocName, path string, value any) {
	t.Helper()
	doc, ok := set.Get(name)
	if !ok {
		t.Fatalf("document %s missing", name)
	}
	parent, key, err := doc.Body.Parent(path, true)
	if err != nil {
		t.Fatalf("parent %s: %v", path, err)
	}
	parent[key] = value
}

// driftedRenderer renders normally, then propagates 0.94 into operating_rules.
func driftedRenderer(t *testing.T) RenderFunc {
	return func(p domain.Profile, opts RenderOptions) (domain.DocumentSet, error) {
		set, err := Render(p, opts)
		if err != nil {
			return set, err
		}
		setField(t, set, domain.DocOperatingRules, "policy.targets.PRI_min", 0.94)
		return set, nil
	}
}

func validate(set domain.DocumentSet) domain.IntegrityReport {
	return NewDefaultValidator().Validate(context.Background(), set)
}
