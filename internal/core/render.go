package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"packforge/pkg/domain"
)

// SchemaVersion is stamped into every pack header.
const SchemaVersion = "1.0"

// RenderOptions controls the only non-profile inputs of a render.
type RenderOptions struct {
	// Timestamp is written as generated_at. Deterministic builds pass
	// domain.DeterministicEpoch.
	Timestamp time.Time
}

// RenderError is returned when the profile cannot be rendered. It is never
// retryable with the same input.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return "render: " + e.Err.Error() }

func (e *RenderError) Unwrap() error { return e.Err }

type packBuilder func(p domain.Profile) domain.Tree

// Render maps a normalized profile onto the twenty pack documents. It fails
// before producing anything when required profile fields are missing.
func Render(p domain.Profile, opts RenderOptions) (domain.DocumentSet, error) {
	if err := p.Validate(); err != nil {
		return domain.DocumentSet{}, &RenderError{Err: err}
	}
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = domain.DeterministicEpoch
	}
	generatedAt := ts.UTC().Format(time.RFC3339)

	docs := make([]domain.Document, 0, domain.PackCount)
	for _, name := range domain.DocNames() {
		build, ok := packBuilders[name]
		if !ok {
			return domain.DocumentSet{}, &RenderError{Err: fmt.Errorf("no builder for %s", name)}
		}
		body := build(p)
		body["pack"] = string(name)
		body["schema_version"] = SchemaVersion
		body["generated_at"] = generatedAt
		body["agent"] = map[string]any{"name": p.AgentName, "slug": p.Slug}
		if _, ok := body["references"]; !ok {
			body["references"] = []any{}
		}
		norm, err := domain.Normalize(map[string]any(body))
		if err != nil {
			return domain.DocumentSet{}, &RenderError{Err: fmt.Errorf("%s: %w", name, err)}
		}
		docs = append(docs, domain.Document{Name: name, Body: domain.Tree(norm.(map[string]any))})
	}
	set := domain.NewDocumentSet(docs...)
	if set.Len() != domain.PackCount {
		return domain.DocumentSet{}, &RenderError{Err: fmt.Errorf("rendered %d documents, want %d", set.Len(), domain.PackCount)}
	}
	return set, nil
}

var packBuilders = map[domain.DocName]packBuilder{
	domain.DocGlobalInstructions: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"mission": map[string]any{
				"role":     p.Role,
				"industry": p.Industry,
				"owner":    p.Owner,
			},
			"policy":     map[string]any{"targets": governanceTargets(p)},
			"traits":     strs(p.Traits),
			"references": refs(domain.DocOperatingRules, domain.DocSafetyPolicy, domain.DocGovernanceCharter),
		}
	},
	domain.DocOperatingRules: func(p domain.Profile) domain.Tree {
		rules := []string{
			"stay within the " + p.Role + " role",
			"escalate when policy confidence falls below PRI_min",
			"never act outside the granted toolsets",
		}
		return domain.Tree{
			"rules":          strs(rules),
			"policy":         map[string]any{"targets": map[string]any{"PRI_min": *p.Governance.PRIMin}},
			"escalation_ref": string(domain.DocEscalationPolicy),
			"references":     refs(domain.DocGlobalInstructions, domain.DocEscalationPolicy),
		}
	},
	domain.DocSafetyPolicy: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"prohibited":    strs([]string{"credential disclosure", "unreviewed financial commitments", "medical or legal determinations"}),
			"hal_ceiling":   *p.Governance.HALMax,
			"refusal_style": "brief, cite policy, offer escalation",
			"references":    refs(domain.DocGlobalInstructions, domain.DocEscalationPolicy),
		}
	},
	domain.DocEscalationPolicy: func(p domain.Profile) domain.Tree {
		hours := p.Governance.EscalationHours
		if hours <= 0 {
			hours = 24
		}
		channels := []string{"ticket"}
		if p.Owner != "" {
			channels = append(channels, "owner:"+p.Owner)
		}
		return domain.Tree{
			"max_hours":  hours,
			"channels":   strs(channels),
			"triggers":   strs([]string{"policy conflict", "safety refusal", "tool failure"}),
			"references": refs(domain.DocSafetyPolicy),
		}
	},
	domain.DocMemoryPolicy: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"scopes":         strs(p.MemoryScopes),
			"retention_days": retentionDays(p),
			"schema_ref":     string(domain.DocMemorySchema),
			"references":     refs(domain.DocMemorySchema, domain.DocDataHandling),
		}
	},
	domain.DocMemorySchema: func(p domain.Profile) domain.Tree {
		entities := make(map[string]any, len(p.MemoryScopes))
		for _, scope := range p.MemoryScopes {
			entities[scope] = map[string]any{
				"retention_days": retentionDays(p),
				"fields":         strs([]string{"content", "source", "recorded_at"}),
			}
		}
		return domain.Tree{
			"entities":   entities,
			"references": refs(domain.DocMemoryPolicy),
		}
	},
	domain.DocKPIDefinitions: func(p domain.Profile) domain.Tree {
		kpis := make([]any, 0, len(p.KPIs))
		for _, k := range p.KPIs {
			kpis = append(kpis, map[string]any{"name": k.Name, "unit": unitOf(k)})
		}
		return domain.Tree{
			"kpis":       kpis,
			"references": refs(domain.DocKPITargets),
		}
	},
	domain.DocKPITargets: func(p domain.Profile) domain.Tree {
		perKPI := make(map[string]any, len(p.KPIs))
		for _, k := range p.KPIs {
			perKPI[k.Name] = k.Target
		}
		return domain.Tree{
			"targets": map[string]any{
				"PRI_min": *p.Governance.PRIMin,
				"HAL_max": *p.Governance.HALMax,
				"kpis":    perKPI,
			},
			"definitions_ref": string(domain.DocKPIDefinitions),
			"references":      refs(domain.DocKPIDefinitions, domain.DocGlobalInstructions, domain.DocEvalSuite),
		}
	},
	domain.DocWorkflowCatalog: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"workflows":  strs(p.Workflows),
			"references": refs(domain.DocWorkflowSOP),
		}
	},
	domain.DocWorkflowSOP: func(p domain.Profile) domain.Tree {
		procedures := make(map[string]any, len(p.Workflows))
		for _, w := range p.Workflows {
			procedures[w] = map[string]any{
				"owner": ownerOf(p),
				"steps": strs([]string{"intake", "execute", "verify", "report"}),
			}
		}
		return domain.Tree{
			"procedures":  procedures,
			"catalog_ref": string(domain.DocWorkflowCatalog),
			"references":  refs(domain.DocWorkflowCatalog, domain.DocOperatingRules),
		}
	},
	domain.DocToolsetRegistry: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"toolsets":   strs(p.Toolsets),
			"references": refs(domain.DocToolPermissions),
		}
	},
	domain.DocToolPermissions: func(p domain.Profile) domain.Tree {
		grants := make(map[string]any, len(p.Toolsets))
		for _, t := range p.Toolsets {
			grants[t] = map[string]any{"mode": "allow", "audited": true}
		}
		return domain.Tree{
			"grants":       grants,
			"default_mode": "deny",
			"registry_ref": string(domain.DocToolsetRegistry),
			"references":   refs(domain.DocToolsetRegistry, domain.DocAuditPolicy),
		}
	},
	domain.DocGovernanceCharter: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"owner": ownerOf(p),
			"targets": map[string]any{
				"PRI_min": *p.Governance.PRIMin,
				"AUD_min": *p.Governance.AUDMin,
			},
			"review_cadence_days": 30,
			"references":          refs(domain.DocGlobalInstructions, domain.DocAuditPolicy),
		}
	},
	domain.DocAuditPolicy: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"coverage":           map[string]any{"AUD_min": *p.Governance.AUDMin},
			"log_retention_days": max(retentionDays(p), 90),
			"charter_ref":        string(domain.DocGovernanceCharter),
			"references":         refs(domain.DocGovernanceCharter, domain.DocObservability),
		}
	},
	domain.DocDataHandling: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"classification": classificationFor(p.Industry),
			"retention_days": retentionDays(p),
			"memory_ref":     string(domain.DocMemoryPolicy),
			"references":     refs(domain.DocMemoryPolicy),
		}
	},
	domain.DocPersonaProfile: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"display_name": p.AgentName,
			"role":         p.Role,
			"traits":       strs(p.Traits),
			"references":   refs(domain.DocPromptStyle),
		}
	},
	domain.DocPromptStyle: func(p domain.Profile) domain.Tree {
		return domain.Tree{
			"tone":         toneFor(p.Traits),
			"format_rules": strs([]string{"lead with the answer", "no speculation", "cite the governing pack"}),
			"references":   refs(domain.DocPersonaProfile),
		}
	},
	domain.DocEvalSuite: func(p domain.Profile) domain.Tree {
		suites := make([]string, 0, len(p.Workflows)+1)
		suites = append(suites, "policy_adherence")
		for _, w := range p.Workflows {
			suites = append(suites, "workflow:"+w)
		}
		return domain.Tree{
			"thresholds": map[string]any{
				"PRI_min": *p.Governance.PRIMin,
				"HAL_max": *p.Governance.HALMax,
			},
			"suites":      strs(suites),
			"targets_ref": string(domain.DocKPITargets),
			"references":  refs(domain.DocKPITargets, domain.DocWorkflowCatalog),
		}
	},
	domain.DocObservability: func(p domain.Profile) domain.Tree {
		metrics := []string{"escalations_total", "policy_violations_total", "tool_calls_total"}
		for _, k := range p.KPIs {
			metrics = append(metrics, "kpi:"+k.Name)
		}
		return domain.Tree{
			"metrics":    strs(metrics),
			"log_level":  "info",
			"references": refs(domain.DocAuditPolicy, domain.DocKPIDefinitions),
		}
	},
	domain.DocPackManifest: func(p domain.Profile) domain.Tree {
		names := domain.DocNames()
		docs := make([]any, 0, len(names))
		for _, n := range names {
			docs = append(docs, string(n))
		}
		return domain.Tree{
			"documents":    docs,
			"profile_slug": p.Slug,
			"references":   refs(domain.DocGlobalInstructions),
		}
	},
}

func governanceTargets(p domain.Profile) map[string]any {
	return map[string]any{
		"PRI_min": *p.Governance.PRIMin,
		"HAL_max": *p.Governance.HALMax,
		"AUD_min": *p.Governance.AUDMin,
	}
}

func strs(in []string) []any {
	cp := append([]string(nil), in...)
	sort.Strings(cp)
	out := make([]any, 0, len(cp))
	for i, s := range cp {
		if i > 0 && s == cp[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func refs(names ...domain.DocName) []any {
	in := make([]string, len(names))
	for i, n := range names {
		in[i] = string(n)
	}
	return strs(in)
}

func retentionDays(p domain.Profile) int {
	if p.RetentionDays > 0 {
		return p.RetentionDays
	}
	return 30
}

func ownerOf(p domain.Profile) string {
	if strings.TrimSpace(p.Owner) != "" {
		return p.Owner
	}
	return "unassigned"
}

func unitOf(k domain.KPI) string {
	if k.Unit != "" {
		return k.Unit
	}
	return "ratio"
}

func classificationFor(industry string) string {
	switch strings.ToLower(industry) {
	case "healthcare", "finance", "banking", "insurance", "legal":
		return "restricted"
	default:
		return "internal"
	}
}

func toneFor(traits []string) string {
	if len(traits) == 0 {
		return "neutral"
	}
	sorted := append([]string(nil), traits...)
	sort.Strings(sorted)
	return sorted[0]
}
