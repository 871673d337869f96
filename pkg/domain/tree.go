package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Tree is a document body: nested maps, lists and scalars. Values are
// restricted to map[string]any, []any, string, bool, float64, int and nil;
// Normalize converts decoded input onto that set.
type Tree map[string]any

// SplitPath splits a dotted key path.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Lookup resolves a dotted path.
func (t Tree) Lookup(path string) (any, bool) {
	var cur any = map[string]any(t)
	for _, seg := range SplitPath(path) {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Parent returns the map that holds the last path segment, creating
// intermediate maps when create is set. It fails when an intermediate value is
// present but is not a map.
func (t Tree) Parent(path string, create bool) (map[string]any, string, error) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return nil, "", fmt.Errorf("empty key path")
	}
	cur := map[string]any(t)
	for i, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			if !create {
				return nil, "", fmt.Errorf("path %s: %s not found", path, strings.Join(segs[:i+1], "."))
			}
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := asMap(next)
		if !ok {
			return nil, "", fmt.Errorf("path %s: %s is %T, not an object", path, strings.Join(segs[:i+1], "."), next)
		}
		cur = m
	}
	return cur, segs[len(segs)-1], nil
}

// Clone deep-copies the tree.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	return Tree(cloneValue(map[string]any(t)).(map[string]any))
}

// Paths returns every leaf path in lexicographic order.
func (t Tree) Paths() []string {
	var out []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if child, ok := asMap(v); ok && len(child) > 0 {
				walk(p, child)
				continue
			}
			out = append(out, p)
		}
	}
	walk("", t)
	sort.Strings(out)
	return out
}

// IsEmpty reports whether v counts as absent for additive overlays:
// nil, an empty string, or an empty list or object.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case Tree:
		return len(x) == 0
	}
	return false
}

// Normalize converts decoded YAML/JSON values (typed slices, int64, uint,
// float32, nested Trees) onto the canonical value set.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64, int:
		return x, nil
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float32:
		return float64(x), nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case Tree:
		return Normalize(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Tree:
		return map[string]any(m), true
	}
	return nil, false
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case Tree:
		return cloneValue(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return x
	}
}
