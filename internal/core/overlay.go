package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"packforge/pkg/domain"
)

// OverlayError reports a rolled-back overlay pass. The document set returned
// alongside it is the unmodified input.
type OverlayError struct {
	Reason string
	Report *domain.IntegrityReport
	Err    error
}

func (e *OverlayError) Error() string {
	if e.Err != nil {
		return "overlay rolled back: " + e.Reason + ": " + e.Err.Error()
	}
	return "overlay rolled back: " + e.Reason
}

func (e *OverlayError) Unwrap() error { return e.Err }

// ApplyOverlays runs cfg's overlays in order against a deep copy of set,
// then re-validates the copy. Any failed overlay, integrity error or false
// parity relation discards the copy and returns set untouched together with
// an *OverlayError; otherwise the patched copy is returned.
func ApplyOverlays(ctx context.Context, set domain.DocumentSet, cfg domain.OverlayConfig, validator *Validator) (domain.DocumentSet, domain.OverlaySummary, error) {
	summary := domain.OverlaySummary{Items: []domain.OverlayItem{}}
	if err := cfg.Validate(); err != nil {
		summary.RolledBack = true
		summary.Reason = "invalid overlay config"
		return set, summary, &OverlayError{Reason: summary.Reason, Err: err}
	}
	if len(cfg.Overlays) == 0 {
		return set, summary, nil
	}
	if validator == nil {
		validator = NewDefaultValidator()
	}

	work := set.Clone()
	var failure error
	for _, spec := range cfg.Overlays {
		item := domain.OverlayItem{
			Name:        spec.Name,
			Version:     spec.Version,
			Allowlisted: cfg.Allowed(spec.Name),
		}
		if spec.Notes != "" {
			item.Notes = append(item.Notes, spec.Notes)
		}
		switch {
		case failure != nil:
			item.Status = domain.OverlaySkipped
			item.Notes = append(item.Notes, "not run: an earlier overlay failed")
		case !item.Allowlisted:
			item.Status = domain.OverlaySkipped
			item.Notes = append(item.Notes, "not on allow-list")
		default:
			failure = applyOverlay(work, spec, &item)
		}
		summary.Items = append(summary.Items, item)
	}

	if failure != nil {
		return rollback(set, summary, &OverlayError{Reason: "overlay failed", Err: failure})
	}

	report := validator.Validate(ctx, work)
	if !report.Clean() {
		return rollback(set, summary, &OverlayError{Reason: "post-overlay validation failed", Report: &report, Err: reportError(report)})
	}
	return work, summary, nil
}

func applyOverlay(work domain.DocumentSet, spec domain.OverlaySpec, item *domain.OverlayItem) error {
	doc, ok := work.Get(spec.Document)
	if !ok {
		item.Status = domain.OverlayFailed
		err := fmt.Errorf("overlay %s: %w: %s", spec.Name, domain.ErrUnknownDocument, spec.Document)
		item.Notes = append(item.Notes, err.Error())
		return err
	}
	changed := false
	for _, op := range spec.Ops {
		c, note, err := applyOp(doc.Body, op)
		if err != nil {
			item.Status = domain.OverlayFailed
			item.Notes = append(item.Notes, err.Error())
			return fmt.Errorf("overlay %s on %s: %w", spec.Name, spec.Document, err)
		}
		if note != "" {
			item.Notes = append(item.Notes, note)
		}
		changed = changed || c
	}
	if changed {
		item.Status = domain.OverlayApplied
	} else {
		item.Status = domain.OverlayNoop
	}
	return nil
}

func rollback(original domain.DocumentSet, summary domain.OverlaySummary, err *OverlayError) (domain.DocumentSet, domain.OverlaySummary, error) {
	summary.RolledBack = true
	summary.Reason = err.Error()
	for i := range summary.Items {
		if summary.Items[i].Status == domain.OverlayApplied {
			summary.Items[i].Notes = append(summary.Items[i].Notes, "rolled back")
		}
	}
	return original, summary, err
}

func reportError(report domain.IntegrityReport) error {
	var parts []string
	for _, e := range report.Errors {
		parts = append(parts, e.String())
	}
	for _, d := range report.Deltas {
		parts = append(parts, d.Message())
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

// LoadOverlayConfig reads and validates a YAML overlay config file.
func LoadOverlayConfig(path string) (domain.OverlayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.OverlayConfig{}, fmt.Errorf("read overlay config: %w", err)
	}
	return ParseOverlayConfig(data)
}

// ParseOverlayConfig decodes YAML (or JSON) overlay config bytes.
func ParseOverlayConfig(data []byte) (domain.OverlayConfig, error) {
	var cfg domain.OverlayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.OverlayConfig{}, fmt.Errorf("parse overlay config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return domain.OverlayConfig{}, err
	}
	return cfg, nil
}
