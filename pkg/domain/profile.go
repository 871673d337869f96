// Package domain defines the canonical profile, pack documents, integrity
// report, overlay and build summary types shared by the packforge engine and
// its adapters.
package domain

import (
	"fmt"
	"math"
	"strings"
)

// Profile is the canonical, already-normalized intake record a build renders
// from. The engine treats it as read-only input.
type Profile struct {
	AgentName string `json:"agent_name" yaml:"agent_name"`
	Slug      string `json:"slug" yaml:"slug"`
	Industry  string `json:"industry" yaml:"industry"`
	Role      string `json:"role" yaml:"role"`
	Owner     string `json:"owner" yaml:"owner"`

	Governance GovernanceTargets `json:"governance" yaml:"governance"`

	MemoryScopes  []string `json:"memory_scopes" yaml:"memory_scopes"`
	RetentionDays int      `json:"retention_days" yaml:"retention_days"`
	Toolsets      []string `json:"toolsets" yaml:"toolsets"`
	Workflows     []string `json:"workflows" yaml:"workflows"`
	KPIs          []KPI    `json:"kpis" yaml:"kpis"`
	Traits        []string `json:"traits,omitempty" yaml:"traits,omitempty"`
}

// GovernanceTargets carries the numeric policy targets that must agree across
// the governance documents.
type GovernanceTargets struct {
	// PRIMin is the minimum policy-respect index (0..1).
	PRIMin *float64 `json:"PRI_min" yaml:"PRI_min"`
	// HALMax is the maximum tolerated hallucination rate (0..1).
	HALMax *float64 `json:"HAL_max" yaml:"HAL_max"`
	// AUDMin is the minimum audit coverage ratio (0..1).
	AUDMin *float64 `json:"AUD_min" yaml:"AUD_min"`
	// EscalationHours bounds the time to human escalation.
	EscalationHours int `json:"escalation_hours" yaml:"escalation_hours"`
}

// KPI is a named indicator with a numeric target.
type KPI struct {
	Name   string  `json:"name" yaml:"name"`
	Target float64 `json:"target" yaml:"target"`
	Unit   string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Validate reports every missing required field. The error wraps
// ErrInvalidProfile.
func (p Profile) Validate() error {
	var missing []string
	if strings.TrimSpace(p.AgentName) == "" {
		missing = append(missing, "agent_name")
	}
	if strings.TrimSpace(p.Slug) == "" {
		missing = append(missing, "slug")
	}
	if strings.TrimSpace(p.Industry) == "" {
		missing = append(missing, "industry")
	}
	if strings.TrimSpace(p.Role) == "" {
		missing = append(missing, "role")
	}
	if p.Governance.PRIMin == nil {
		missing = append(missing, "governance.PRI_min")
	}
	if p.Governance.HALMax == nil {
		missing = append(missing, "governance.HAL_max")
	}
	if p.Governance.AUDMin == nil {
		missing = append(missing, "governance.AUD_min")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProfile, strings.Join(missing, ", "))
	}
	ratios := []struct {
		name  string
		value float64
	}{
		{"governance.PRI_min", *p.Governance.PRIMin},
		{"governance.HAL_max", *p.Governance.HALMax},
		{"governance.AUD_min", *p.Governance.AUDMin},
	}
	for _, r := range ratios {
		if math.IsNaN(r.value) || r.value < 0 || r.value > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1", ErrInvalidProfile, r.name)
		}
	}
	seen := make(map[string]struct{}, len(p.KPIs))
	for i, k := range p.KPIs {
		if math.IsNaN(k.Target) || math.IsInf(k.Target, 0) {
			return fmt.Errorf("%w: kpis[%d].target must be a finite number", ErrInvalidProfile, i)
		}
		if _, dup := seen[k.Name]; dup {
			return fmt.Errorf("%w: duplicate kpi name %q", ErrInvalidProfile, k.Name)
		}
		seen[k.Name] = struct{}{}
	}
	if strings.ContainsAny(p.Slug, `/\ `) || strings.Contains(p.Slug, "..") {
		return fmt.Errorf("%w: slug %q must be a single path segment", ErrInvalidProfile, p.Slug)
	}
	return nil
}

// Float returns a pointer to v, for building profiles in code.
func Float(v float64) *float64 { return &v }
