package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"packforge/pkg/domain"
)

// Recorder holds the most recent committed summary per output root. Writes
// happen under the build lock; reads are lock-free and always observe a
// complete summary.
type Recorder struct {
	slots atomic.Pointer[map[string]domain.BuildSummary]
	store domain.SummaryStore
}

// NewRecorder constructs an empty recorder. store may be nil.
func NewRecorder(store domain.SummaryStore) *Recorder {
	r := &Recorder{store: store}
	empty := map[string]domain.BuildSummary{}
	r.slots.Store(&empty)
	return r
}

// Record replaces the slot for summary.OutputRoot and writes it through to
// the durable store when one is configured.
func (r *Recorder) Record(ctx context.Context, summary domain.BuildSummary) error {
	key := lockKey(summary.OutputRoot)
	summary = cloneSummary(summary)
	r.swap(key, summary)
	if r.store != nil {
		if err := r.store.SaveSummary(ctx, summary); err != nil {
			return fmt.Errorf("persist summary: %w", err)
		}
	}
	return nil
}

func (r *Recorder) swap(key string, summary domain.BuildSummary) {
	for {
		cur := r.slots.Load()
		next := make(map[string]domain.BuildSummary, len(*cur)+1)
		for k, v := range *cur {
			next[k] = v
		}
		next[key] = summary
		if r.slots.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// Read returns a copy of the latest summary for root.
func (r *Recorder) Read(root string) (domain.BuildSummary, bool) {
	s, ok := (*r.slots.Load())[lockKey(root)]
	if !ok {
		return domain.BuildSummary{}, false
	}
	return cloneSummary(s), true
}

// Load hydrates empty slots from the durable store. Slots already recorded
// in this process win.
func (r *Recorder) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	summaries, err := r.store.ListSummaries(ctx)
	if err != nil {
		return 0, fmt.Errorf("load summaries: %w", err)
	}
	n := 0
	for _, s := range summaries {
		key := lockKey(s.OutputRoot)
		if _, ok := (*r.slots.Load())[key]; ok {
			continue
		}
		r.swap(key, cloneSummary(s))
		n++
	}
	return n, nil
}

func cloneSummary(s domain.BuildSummary) domain.BuildSummary {
	out := s
	out.Files = cloneSlice(s.Files)
	out.Errors = cloneSlice(s.Errors)
	out.Warnings = cloneSlice(s.Warnings)
	out.Deltas = cloneSlice(s.Deltas)
	if s.Parity != nil {
		out.Parity = make(map[string]bool, len(s.Parity))
		for k, v := range s.Parity {
			out.Parity[k] = v
		}
	}
	if s.Overlay != nil {
		ov := *s.Overlay
		ov.Items = make([]domain.OverlayItem, len(s.Overlay.Items))
		for i, it := range s.Overlay.Items {
			it.Notes = cloneSlice(it.Notes)
			ov.Items[i] = it
		}
		out.Overlay = &ov
	}
	return out
}

// cloneSlice copies s, keeping nil and empty distinct so JSON renders them as
// null and [] respectively.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
