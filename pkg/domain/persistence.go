package domain

import "context"

// SummaryStore is a durable home for last-build summaries, one per output
// root. Implementations replace the stored summary wholesale on Save.
type SummaryStore interface {
	SaveSummary(ctx context.Context, summary BuildSummary) error
	LoadSummary(ctx context.Context, outputRoot string) (BuildSummary, bool, error)
	ListSummaries(ctx context.Context) ([]BuildSummary, error)
	Close() error
}
