// Package memory provides an in-process SummaryStore. The sqlite and postgres
// stores embed it as their read model and snapshot rows through it.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"packforge/pkg/domain"
)

var _ domain.SummaryStore = (*Store)(nil)

// Snapshot is the encoded form of every stored summary keyed by output root.
type Snapshot map[string]json.RawMessage

// Store keeps one encoded summary per output root. Summaries are held as JSON
// so callers never share nested slices or maps with the store.
type Store struct {
	mu   sync.RWMutex
	rows map[string][]byte
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{rows: make(map[string][]byte)}
}

// Encode validates a summary and returns its root key and payload.
func Encode(summary domain.BuildSummary) (string, []byte, error) {
	root := strings.TrimSpace(summary.OutputRoot)
	if root == "" {
		return "", nil, fmt.Errorf("%w: summary without output root", domain.ErrInvalidRequest)
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return "", nil, fmt.Errorf("encode summary: %w", err)
	}
	return root, payload, nil
}

// Decode parses a stored payload.
func Decode(payload []byte) (domain.BuildSummary, error) {
	var s domain.BuildSummary
	if err := json.Unmarshal(payload, &s); err != nil {
		return domain.BuildSummary{}, fmt.Errorf("decode summary: %w", err)
	}
	return s, nil
}

// SaveSummary replaces the summary for summary.OutputRoot.
func (s *Store) SaveSummary(_ context.Context, summary domain.BuildSummary) error {
	root, payload, err := Encode(summary)
	if err != nil {
		return err
	}
	s.Put(root, payload)
	return nil
}

// Put stores an already encoded payload.
func (s *Store) Put(root string, payload []byte) {
	s.mu.Lock()
	s.rows[root] = append([]byte(nil), payload...)
	s.mu.Unlock()
}

// LoadSummary returns the summary for outputRoot.
func (s *Store) LoadSummary(_ context.Context, outputRoot string) (domain.BuildSummary, bool, error) {
	s.mu.RLock()
	payload, ok := s.rows[outputRoot]
	s.mu.RUnlock()
	if !ok {
		return domain.BuildSummary{}, false, nil
	}
	summary, err := Decode(payload)
	if err != nil {
		return domain.BuildSummary{}, false, err
	}
	return summary, true, nil
}

// ListSummaries returns every summary ordered by output root.
func (s *Store) ListSummaries(_ context.Context) ([]domain.BuildSummary, error) {
	s.mu.RLock()
	roots := make([]string, 0, len(s.rows))
	for root := range s.rows {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	out := make([]domain.BuildSummary, 0, len(roots))
	for _, root := range roots {
		summary, err := Decode(s.rows[root])
		if err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%s: %w", root, err)
		}
		out = append(out, summary)
	}
	s.mu.RUnlock()
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ExportState copies the stored payloads.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.rows))
	for root, payload := range s.rows {
		out[root] = append(json.RawMessage(nil), payload...)
	}
	return out
}

// ImportState replaces the store contents with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	rows := make(map[string][]byte, len(snapshot))
	for root, payload := range snapshot {
		rows[root] = append([]byte(nil), payload...)
	}
	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
}
