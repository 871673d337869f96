package domain

import (
	"fmt"
	"sort"
)

// DocName identifies one of the twenty fixed pack documents.
type DocName string

// The twenty pack documents produced by every build.
const (
	DocGlobalInstructions DocName = "global_instructions"
	DocOperatingRules     DocName = "operating_rules"
	DocSafetyPolicy       DocName = "safety_policy"
	DocEscalationPolicy   DocName = "escalation_policy"
	DocMemoryPolicy       DocName = "memory_policy"
	DocMemorySchema       DocName = "memory_schema"
	DocKPIDefinitions     DocName = "kpi_definitions"
	DocKPITargets         DocName = "kpi_targets"
	DocWorkflowCatalog    DocName = "workflow_catalog"
	DocWorkflowSOP        DocName = "workflow_sop"
	DocToolsetRegistry    DocName = "toolset_registry"
	DocToolPermissions    DocName = "tool_permissions"
	DocGovernanceCharter  DocName = "governance_charter"
	DocAuditPolicy        DocName = "audit_policy"
	DocDataHandling       DocName = "data_handling"
	DocPersonaProfile     DocName = "persona_profile"
	DocPromptStyle        DocName = "prompt_style"
	DocEvalSuite          DocName = "eval_suite"
	DocObservability      DocName = "observability"
	DocPackManifest       DocName = "pack_manifest"
)

// PackCount is the number of documents in a complete set.
const PackCount = 20

var docNames = []DocName{
	DocGlobalInstructions,
	DocOperatingRules,
	DocSafetyPolicy,
	DocEscalationPolicy,
	DocMemoryPolicy,
	DocMemorySchema,
	DocKPIDefinitions,
	DocKPITargets,
	DocWorkflowCatalog,
	DocWorkflowSOP,
	DocToolsetRegistry,
	DocToolPermissions,
	DocGovernanceCharter,
	DocAuditPolicy,
	DocDataHandling,
	DocPersonaProfile,
	DocPromptStyle,
	DocEvalSuite,
	DocObservability,
	DocPackManifest,
}

// DocNames returns the twenty document names in lexicographic order.
func DocNames() []DocName {
	out := append([]DocName(nil), docNames...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsDocName reports whether name is one of the twenty canonical documents.
func IsDocName(name string) bool {
	for _, n := range docNames {
		if string(n) == name {
			return true
		}
	}
	return false
}

// ParseDocName validates name against the canonical list.
func ParseDocName(name string) (DocName, error) {
	if !IsDocName(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownDocument, name)
	}
	return DocName(name), nil
}

// FileName is the on-disk file name of the document.
func (n DocName) FileName() string { return string(n) + ".json" }

// Document is one named pack with its key/value tree.
type Document struct {
	Name DocName
	Body Tree
}

// Contract returns the required key paths for the document.
func (d Document) Contract() Contract { return ContractFor(d.Name) }

// Clone deep-copies the document body.
func (d Document) Clone() Document {
	return Document{Name: d.Name, Body: d.Body.Clone()}
}

// DocumentSet holds the rendered packs keyed by name.
type DocumentSet struct {
	docs map[DocName]Document
}

// NewDocumentSet builds a set from the supplied documents. Later duplicates
// replace earlier ones.
func NewDocumentSet(docs ...Document) DocumentSet {
	set := DocumentSet{docs: make(map[DocName]Document, len(docs))}
	for _, d := range docs {
		set.docs[d.Name] = d
	}
	return set
}

// Len returns the number of documents held.
func (s DocumentSet) Len() int { return len(s.docs) }

// Get returns the named document.
func (s DocumentSet) Get(name DocName) (Document, bool) {
	d, ok := s.docs[name]
	return d, ok
}

// Put inserts or replaces a document.
func (s *DocumentSet) Put(doc Document) {
	if s.docs == nil {
		s.docs = make(map[DocName]Document)
	}
	s.docs[doc.Name] = doc
}

// Names returns the held document names in lexicographic order.
func (s DocumentSet) Names() []DocName {
	out := make([]DocName, 0, len(s.docs))
	for name := range s.docs {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Documents returns the documents in name order.
func (s DocumentSet) Documents() []Document {
	names := s.Names()
	out := make([]Document, 0, len(names))
	for _, n := range names {
		out = append(out, s.docs[n])
	}
	return out
}

// Clone returns a deep copy; mutations of the copy never reach s.
func (s DocumentSet) Clone() DocumentSet {
	cp := DocumentSet{docs: make(map[DocName]Document, len(s.docs))}
	for name, d := range s.docs {
		cp.docs[name] = d.Clone()
	}
	return cp
}
