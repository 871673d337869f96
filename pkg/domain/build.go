package domain

import (
	"fmt"
	"time"
)

// ParityMode is the caller's policy for false parity relations.
type ParityMode string

const (
	// ParityStrict rejects a build whose report is not clean.
	ParityStrict ParityMode = "strict"
	// ParityLenient commits and reports deltas as warnings.
	ParityLenient ParityMode = "lenient"
)

// ParseParityMode validates a parity mode; the empty string is rejected so
// callers must state a policy.
func ParseParityMode(s string) (ParityMode, error) {
	switch ParityMode(s) {
	case ParityStrict, ParityLenient:
		return ParityMode(s), nil
	case "":
		return "", ErrParityModeRequired
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrParityModeRequired, s)
	}
}

// DeterministicEpoch pins every timestamp in deterministic builds. It is also
// the earliest time a zip header can carry.
var DeterministicEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// BuildSummary is the committed record of one build.
type BuildSummary struct {
	BuildID       string          `json:"build_id"`
	OutputRoot    string          `json:"output_root"`
	OutputDir     string          `json:"output_dir"`
	ProfileSlug   string          `json:"profile_slug"`
	ParityMode    ParityMode      `json:"parity_mode"`
	Deterministic bool            `json:"deterministic"`
	Timestamp     time.Time       `json:"timestamp"`
	Files         []string        `json:"files"`
	Parity        map[string]bool `json:"parity"`
	Deltas        []ParityDelta   `json:"parity_deltas"`
	Errors        []string        `json:"errors"`
	Warnings      []string        `json:"warnings"`
	ContentHash   string          `json:"content_hash"`
	Overlay       *OverlaySummary `json:"overlay"`
}
