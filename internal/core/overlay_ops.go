package core

import (
	"fmt"

	"packforge/pkg/domain"
)

// applyOp dispatches one tagged operation against a document body. It
// reports whether the body changed and a short audit note.
func applyOp(body domain.Tree, op domain.OverlayOp) (bool, string, error) {
	if err := op.Validate(); err != nil {
		return false, "", err
	}
	switch op.Kind {
	case domain.OpEnsureKey:
		return ensureKey(body, op.Path, op.Value)
	case domain.OpEnsureListContains:
		return ensureListContains(body, op.Path, op.Entries)
	case domain.OpEnsureCrossRef:
		return ensureKey(body, op.Path, string(op.Target))
	default:
		return false, "", fmt.Errorf("unknown overlay operation %q", op.Kind)
	}
}

func ensureKey(body domain.Tree, path string, value any) (bool, string, error) {
	if cur, ok := body.Lookup(path); ok && !domain.IsEmpty(cur) {
		return false, fmt.Sprintf("%s already set", path), nil
	}
	parent, key, err := body.Parent(path, true)
	if err != nil {
		return false, "", err
	}
	norm, err := domain.Normalize(value)
	if err != nil {
		return false, "", fmt.Errorf("%s: %w", path, err)
	}
	parent[key] = norm
	return true, fmt.Sprintf("%s set", path), nil
}

// ensureListContains appends entries missing from the list. Existing entries
// are never removed or reordered in place.
func ensureListContains(body domain.Tree, path string, entries []any) (bool, string, error) {
	parent, key, err := body.Parent(path, true)
	if err != nil {
		return false, "", err
	}
	var list []any
	switch cur := parent[key].(type) {
	case nil:
	case []any:
		list = cur
	case string:
		if cur != "" {
			return false, "", fmt.Errorf("%s holds a string, not a list", path)
		}
	default:
		return false, "", fmt.Errorf("%s holds %T, not a list", path, cur)
	}

	present := make(map[string]struct{}, len(list))
	for _, e := range list {
		k, err := compactJSON(e)
		if err != nil {
			return false, "", err
		}
		present[string(k)] = struct{}{}
	}
	added := 0
	out := append([]any(nil), list...)
	for _, e := range entries {
		norm, err := domain.Normalize(e)
		if err != nil {
			return false, "", fmt.Errorf("%s: %w", path, err)
		}
		k, err := compactJSON(norm)
		if err != nil {
			return false, "", err
		}
		if _, ok := present[string(k)]; ok {
			continue
		}
		present[string(k)] = struct{}{}
		out = append(out, norm)
		added++
	}
	if added == 0 {
		return false, fmt.Sprintf("%s already contains entries", path), nil
	}
	parent[key] = out
	return true, fmt.Sprintf("%s: added %d entries", path, added), nil
}
