package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"packforge/pkg/domain"
)

// Canonicalize normalizes v and sorts every list by the compact canonical
// encoding of its entries, so list order never depends on insertion order.
// Object keys are ordered by the encoder.
func Canonicalize(v any) (any, error) {
	n, err := domain.Normalize(v)
	if err != nil {
		return nil, err
	}
	return canonicalValue(n)
}

func canonicalValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			c, err := canonicalValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []any:
		type keyed struct {
			key string
			val any
		}
		entries := make([]keyed, 0, len(x))
		for _, e := range x {
			c, err := canonicalValue(e)
			if err != nil {
				return nil, err
			}
			b, err := compactJSON(c)
			if err != nil {
				return nil, err
			}
			entries = append(entries, keyed{key: string(b), val: c})
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
		out := make([]any, len(entries))
		for i, e := range entries {
			out[i] = e.val
		}
		return out, nil
	default:
		return x, nil
	}
}

func compactJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// MarshalStable encodes v as UTF-8 JSON with sorted keys, two-space
// indentation, LF newlines and a single trailing newline.
func MarshalStable(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeDocument renders a document body in its canonical byte form.
func EncodeDocument(doc domain.Document) ([]byte, error) {
	c, err := Canonicalize(map[string]any(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("canonicalize %s: %w", doc.Name, err)
	}
	return MarshalStable(c)
}

// File is a named payload destined for a build directory.
type File struct {
	Name    string
	Content []byte
}

// EncodeDocumentSet renders every document to its file, in name order.
func EncodeDocumentSet(set domain.DocumentSet) ([]File, error) {
	docs := set.Documents()
	out := make([]File, 0, len(docs))
	for _, d := range docs {
		b, err := EncodeDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, File{Name: d.Name.FileName(), Content: b})
	}
	return out, nil
}

// ContentHash is sha256 over "name NUL sha256(content) LF" lines of the
// files in name order. Callers pass the pack files only.
func ContentHash(files []File) string {
	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	h := sha256.New()
	for _, f := range sorted {
		_, _ = h.Write([]byte(f.Name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(sha256Hex(f.Content)))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isPackFile(name string) bool {
	const ext = ".json"
	if len(name) <= len(ext) || name[len(name)-len(ext):] != ext {
		return false
	}
	return domain.IsDocName(name[:len(name)-len(ext)])
}
