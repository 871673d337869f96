package domain

// Contract lists the key paths a document must carry, present and non-null.
type Contract struct {
	Document DocName
	Required []string
	// Lists names required paths that should be non-empty lists; an empty
	// list is reported as a warning, not an error.
	Lists []string
}

var commonRequired = []string{"pack", "schema_version", "agent.slug", "generated_at", "references"}

var contracts = map[DocName]Contract{
	DocGlobalInstructions: {
		Required: []string{"mission.role", "mission.industry", "policy.targets.PRI_min", "policy.targets.HAL_max", "policy.targets.AUD_min"},
	},
	DocOperatingRules: {
		Required: []string{"rules", "policy.targets.PRI_min", "escalation_ref"},
		Lists:    []string{"rules"},
	},
	DocSafetyPolicy: {
		Required: []string{"prohibited", "hal_ceiling", "refusal_style"},
		Lists:    []string{"prohibited"},
	},
	DocEscalationPolicy: {
		Required: []string{"max_hours", "channels", "triggers"},
		Lists:    []string{"channels"},
	},
	DocMemoryPolicy: {
		Required: []string{"scopes", "retention_days", "schema_ref"},
		Lists:    []string{"scopes"},
	},
	DocMemorySchema: {
		Required: []string{"entities"},
	},
	DocKPIDefinitions: {
		Required: []string{"kpis"},
		Lists:    []string{"kpis"},
	},
	DocKPITargets: {
		Required: []string{"targets.PRI_min", "targets.HAL_max", "targets.kpis", "definitions_ref"},
	},
	DocWorkflowCatalog: {
		Required: []string{"workflows"},
		Lists:    []string{"workflows"},
	},
	DocWorkflowSOP: {
		Required: []string{"procedures", "catalog_ref"},
	},
	DocToolsetRegistry: {
		Required: []string{"toolsets"},
		Lists:    []string{"toolsets"},
	},
	DocToolPermissions: {
		Required: []string{"grants", "default_mode", "registry_ref"},
	},
	DocGovernanceCharter: {
		Required: []string{"owner", "targets.PRI_min", "targets.AUD_min", "review_cadence_days"},
	},
	DocAuditPolicy: {
		Required: []string{"coverage.AUD_min", "log_retention_days", "charter_ref"},
	},
	DocDataHandling: {
		Required: []string{"classification", "retention_days", "memory_ref"},
	},
	DocPersonaProfile: {
		Required: []string{"display_name", "role", "traits"},
	},
	DocPromptStyle: {
		Required: []string{"tone", "format_rules"},
		Lists:    []string{"format_rules"},
	},
	DocEvalSuite: {
		Required: []string{"thresholds.PRI_min", "thresholds.HAL_max", "suites", "targets_ref"},
		Lists:    []string{"suites"},
	},
	DocObservability: {
		Required: []string{"metrics", "log_level"},
		Lists:    []string{"metrics"},
	},
	DocPackManifest: {
		Required: []string{"documents", "profile_slug"},
		Lists:    []string{"documents"},
	},
}

// ContractFor returns the contract of the named document, including the
// header keys every pack carries.
func ContractFor(name DocName) Contract {
	c := contracts[name]
	req := make([]string, 0, len(commonRequired)+len(c.Required))
	req = append(req, commonRequired...)
	req = append(req, c.Required...)
	return Contract{Document: name, Required: req, Lists: append([]string(nil), c.Lists...)}
}
