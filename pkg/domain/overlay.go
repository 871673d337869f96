package domain

import (
	"fmt"
	"strings"
)

// OverlayKind tags one of the closed set of additive overlay operations.
type OverlayKind string

const (
	// OpEnsureKey sets Path to Value when the key is absent or empty.
	OpEnsureKey OverlayKind = "ensure_key"
	// OpEnsureListContains appends the missing Entries to the list at Path.
	OpEnsureListContains OverlayKind = "ensure_list_contains"
	// OpEnsureCrossRef points Path at the canonical document Target when unset.
	OpEnsureCrossRef OverlayKind = "ensure_cross_ref"
)

// OverlayOp is a single tagged operation. Only the fields used by Kind are
// meaningful.
type OverlayOp struct {
	Kind    OverlayKind `json:"kind" yaml:"kind"`
	Path    string      `json:"path" yaml:"path"`
	Value   any         `json:"value,omitempty" yaml:"value,omitempty"`
	Entries []any       `json:"entries,omitempty" yaml:"entries,omitempty"`
	Target  DocName     `json:"target,omitempty" yaml:"target,omitempty"`
}

// Validate checks the operation shape without touching any document.
func (op OverlayOp) Validate() error {
	if strings.TrimSpace(op.Path) == "" {
		return fmt.Errorf("%s: path required", op.Kind)
	}
	switch op.Kind {
	case OpEnsureKey:
		if op.Value == nil {
			return fmt.Errorf("%s %s: value required", op.Kind, op.Path)
		}
	case OpEnsureListContains:
		if len(op.Entries) == 0 {
			return fmt.Errorf("%s %s: entries required", op.Kind, op.Path)
		}
	case OpEnsureCrossRef:
		if _, err := ParseDocName(string(op.Target)); err != nil {
			return fmt.Errorf("%s %s: %w", op.Kind, op.Path, err)
		}
	default:
		return fmt.Errorf("unknown overlay operation %q", op.Kind)
	}
	return nil
}

// OverlaySpec is a named, versioned patch against one document.
type OverlaySpec struct {
	Name     string      `json:"name" yaml:"name"`
	Version  string      `json:"version" yaml:"version"`
	Document DocName     `json:"document" yaml:"document"`
	Ops      []OverlayOp `json:"ops" yaml:"ops"`
	Notes    string      `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// OverlayConfig is the ordered overlay list plus the names allowed to run.
type OverlayConfig struct {
	Allowlist []string      `json:"allowlist" yaml:"allowlist"`
	Overlays  []OverlaySpec `json:"overlays" yaml:"overlays"`
}

// Allowed reports allow-list membership of the named overlay.
func (c OverlayConfig) Allowed(name string) bool {
	for _, n := range c.Allowlist {
		if n == name {
			return true
		}
	}
	return false
}

// Validate checks every overlay and operation.
func (c OverlayConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Overlays))
	for i, o := range c.Overlays {
		if strings.TrimSpace(o.Name) == "" {
			return fmt.Errorf("overlay %d: name required", i)
		}
		if _, dup := seen[o.Name]; dup {
			return fmt.Errorf("overlay %s: duplicate name", o.Name)
		}
		seen[o.Name] = struct{}{}
		if _, err := ParseDocName(string(o.Document)); err != nil {
			return fmt.Errorf("overlay %s: %w", o.Name, err)
		}
		for _, op := range o.Ops {
			if err := op.Validate(); err != nil {
				return fmt.Errorf("overlay %s: %w", o.Name, err)
			}
		}
	}
	return nil
}

// OverlayStatus is the outcome of one overlay.
type OverlayStatus string

const (
	OverlayApplied OverlayStatus = "applied"
	OverlayNoop    OverlayStatus = "noop"
	OverlaySkipped OverlayStatus = "skipped"
	OverlayFailed  OverlayStatus = "failed"
)

// OverlayItem is the audit line for one overlay.
type OverlayItem struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Status      OverlayStatus `json:"status"`
	Allowlisted bool          `json:"allowlisted"`
	Notes       []string      `json:"notes,omitempty"`
}

// OverlaySummary describes an overlay pass. When RolledBack is set none of
// the items' changes were retained.
type OverlaySummary struct {
	Items      []OverlayItem `json:"items"`
	RolledBack bool          `json:"rolled_back"`
	Reason     string        `json:"reason,omitempty"`
}

// Applied counts overlays whose changes were kept.
func (s OverlaySummary) Applied() int {
	if s.RolledBack {
		return 0
	}
	n := 0
	for _, it := range s.Items {
		if it.Status == OverlayApplied {
			n++
		}
	}
	return n
}
