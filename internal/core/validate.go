package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"packforge/pkg/domain"
)

// Check is one independent integrity evaluation over a document set. Checks
// must not mutate the set.
type Check interface {
	Name() string
	Evaluate(ctx context.Context, set domain.DocumentSet) domain.IntegrityReport
}

// Validator runs registered checks and aggregates their reports. It reports
// only; pass/fail policy belongs to the caller.
type Validator struct {
	checks []Check
}

// NewValidator constructs a validator with no checks.
func NewValidator() *Validator {
	return &Validator{}
}

// NewDefaultValidator builds a validator with completeness, reference and
// parity checks over the built-in relations.
func NewDefaultValidator() *Validator {
	v := NewValidator()
	v.Register(NewCompletenessCheck())
	v.Register(NewReferenceCheck())
	v.Register(NewParityCheck(DefaultParityRelations()))
	return v
}

// Register appends a check.
func (v *Validator) Register(check Check) {
	if check == nil {
		return
	}
	v.checks = append(v.checks, check)
}

// Validate runs every check in registration order. Issue lists are sorted so
// reports are stable across runs.
func (v *Validator) Validate(ctx context.Context, set domain.DocumentSet) domain.IntegrityReport {
	report := domain.IntegrityReport{
		Parity:   map[string]bool{},
		Deltas:   []domain.ParityDelta{},
		Errors:   []domain.IntegrityIssue{},
		Warnings: []domain.IntegrityIssue{},
	}
	for _, c := range v.checks {
		report.Merge(c.Evaluate(ctx, set))
	}
	sortIssues(report.Errors)
	sortIssues(report.Warnings)
	return report
}

func sortIssues(in []domain.IntegrityIssue) {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].Document != in[j].Document {
			return in[i].Document < in[j].Document
		}
		if in[i].Path != in[j].Path {
			return in[i].Path < in[j].Path
		}
		return in[i].Message < in[j].Message
	})
}

// NewCompletenessCheck verifies every contract path is present and non-null.
func NewCompletenessCheck() Check { return completenessCheck{} }

type completenessCheck struct{}

func (completenessCheck) Name() string { return "completeness" }

func (completenessCheck) Evaluate(_ context.Context, set domain.DocumentSet) domain.IntegrityReport {
	var res domain.IntegrityReport
	for _, name := range domain.DocNames() {
		doc, ok := set.Get(name)
		if !ok {
			res.Errors = append(res.Errors, domain.IntegrityIssue{Check: "completeness", Document: name, Message: "document missing"})
			continue
		}
		contract := doc.Contract()
		for _, path := range contract.Required {
			v, ok := doc.Body.Lookup(path)
			if !ok || v == nil {
				res.Errors = append(res.Errors, domain.IntegrityIssue{Check: "completeness", Document: name, Path: path, Message: "required key missing"})
			}
		}
		for _, path := range contract.Lists {
			v, ok := doc.Body.Lookup(path)
			if !ok || v == nil {
				continue
			}
			list, isList := v.([]any)
			switch {
			case !isList:
				res.Errors = append(res.Errors, domain.IntegrityIssue{Check: "completeness", Document: name, Path: path, Message: fmt.Sprintf("expected list, got %T", v)})
			case len(list) == 0:
				res.Warnings = append(res.Warnings, domain.IntegrityIssue{Check: "completeness", Document: name, Path: path, Message: "list is empty"})
			}
		}
	}
	for _, name := range set.Names() {
		if !domain.IsDocName(string(name)) {
			res.Errors = append(res.Errors, domain.IntegrityIssue{Check: "completeness", Document: name, Message: "unexpected document"})
		}
	}
	return res
}

// NewReferenceCheck verifies that "references" entries and "*_ref" fields
// name canonical documents.
func NewReferenceCheck() Check { return referenceCheck{} }

type referenceCheck struct{}

func (referenceCheck) Name() string { return "references" }

func (referenceCheck) Evaluate(_ context.Context, set domain.DocumentSet) domain.IntegrityReport {
	var res domain.IntegrityReport
	for _, doc := range set.Documents() {
		if v, ok := doc.Body.Lookup("references"); ok && v != nil {
			list, isList := v.([]any)
			if !isList {
				res.Errors = append(res.Errors, domain.IntegrityIssue{Check: "references", Document: doc.Name, Path: "references", Message: fmt.Sprintf("expected list, got %T", v)})
			}
			for _, e := range list {
				s, _ := e.(string)
				if !domain.IsDocName(s) {
					res.Errors = append(res.Errors, domain.IntegrityIssue{Check: "references", Document: doc.Name, Path: "references", Message: fmt.Sprintf("unknown document %v", e)})
				}
			}
		}
		for _, path := range doc.Body.Paths() {
			if !strings.HasSuffix(path, "_ref") {
				continue
			}
			v, _ := doc.Body.Lookup(path)
			s, _ := v.(string)
			if !domain.IsDocName(s) {
				res.Errors = append(res.Errors, domain.IntegrityIssue{Check: "references", Document: doc.Name, Path: path, Message: fmt.Sprintf("cross reference %v is not a canonical document", v)})
			}
		}
	}
	return res
}
