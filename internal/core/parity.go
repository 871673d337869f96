package core

import (
	"context"

	"packforge/pkg/domain"
)

// DefaultParityRelations returns the fixed cross-document relations. The
// PRI_min target must agree across global_instructions, operating_rules,
// kpi_targets and governance_charter; HAL_max and AUD_min tie eval_suite and
// audit_policy to their sources.
func DefaultParityRelations() []domain.ParityRelation {
	return []domain.ParityRelation{
		domain.NewParityRelation("PRI_min", domain.DocOperatingRules, "policy.targets.PRI_min", domain.DocGlobalInstructions, "policy.targets.PRI_min"),
		domain.NewParityRelation("PRI_min", domain.DocKPITargets, "targets.PRI_min", domain.DocGlobalInstructions, "policy.targets.PRI_min"),
		domain.NewParityRelation("PRI_min", domain.DocGovernanceCharter, "targets.PRI_min", domain.DocGlobalInstructions, "policy.targets.PRI_min"),
		domain.NewParityRelation("HAL_max", domain.DocEvalSuite, "thresholds.HAL_max", domain.DocKPITargets, "targets.HAL_max"),
		domain.NewParityRelation("AUD_min", domain.DocAuditPolicy, "coverage.AUD_min", domain.DocGovernanceCharter, "targets.AUD_min"),
	}
}

// NewParityCheck compares each relation's fields on every evaluation; no
// result is carried between passes.
func NewParityCheck(relations []domain.ParityRelation) Check {
	return parityCheck{relations: append([]domain.ParityRelation(nil), relations...)}
}

type parityCheck struct {
	relations []domain.ParityRelation
}

func (parityCheck) Name() string { return "parity" }

func (c parityCheck) Evaluate(_ context.Context, set domain.DocumentSet) domain.IntegrityReport {
	res := domain.IntegrityReport{Parity: make(map[string]bool, len(c.relations))}
	for _, rel := range c.relations {
		got, gotOK := fieldValue(set, rel.Left, rel.LeftPath)
		want, wantOK := fieldValue(set, rel.Right, rel.RightPath)
		equal := gotOK && wantOK && parityEqual(got, want)
		res.Parity[rel.Name] = equal
		if equal {
			continue
		}
		delta := domain.ParityDelta{
			Relation: rel.Name,
			Document: rel.Left,
			Field:    rel.Field,
			Got:      got,
			Expected: want,
		}
		res.Deltas = append(res.Deltas, delta)
		res.Warnings = append(res.Warnings, domain.IntegrityIssue{
			Check:    "parity",
			Document: rel.Left,
			Path:     rel.LeftPath,
			Message:  delta.Message(),
		})
	}
	return res
}

func fieldValue(set domain.DocumentSet, name domain.DocName, path string) (any, bool) {
	doc, ok := set.Get(name)
	if !ok {
		return nil, false
	}
	v, ok := doc.Body.Lookup(path)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// parityEqual is exact equality; ints and floats compare by value.
func parityEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as == bs
	}
	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	return aBool && bBool && ab == bb
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}
