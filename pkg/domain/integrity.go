package domain

import (
	"fmt"
	"strconv"
)

// IntegrityIssue names a document and the key path a check flagged.
type IntegrityIssue struct {
	Check    string  `json:"check"`
	Document DocName `json:"document"`
	Path     string  `json:"path,omitempty"`
	Message  string  `json:"message"`
}

func (i IntegrityIssue) String() string {
	if i.Path == "" {
		return fmt.Sprintf("%s: %s", i.Document, i.Message)
	}
	return fmt.Sprintf("%s %s: %s", i.Document, i.Path, i.Message)
}

// ParityRelation is a pairwise equality check between one field of two
// documents. Left is the side under test, Right holds the expected value.
type ParityRelation struct {
	Name      string  `json:"name"`
	Field     string  `json:"field"`
	Left      DocName `json:"left"`
	LeftPath  string  `json:"left_path"`
	Right     DocName `json:"right"`
	RightPath string  `json:"right_path"`
}

// NewParityRelation names the relation "left↔right".
func NewParityRelation(field string, left DocName, leftPath string, right DocName, rightPath string) ParityRelation {
	return ParityRelation{
		Name:      string(left) + "↔" + string(right),
		Field:     field,
		Left:      left,
		LeftPath:  leftPath,
		Right:     right,
		RightPath: rightPath,
	}
}

// ParityDelta records a failed relation. Got comes from the left document,
// Expected from the right one; either may be nil when the field is missing.
type ParityDelta struct {
	Relation string  `json:"relation"`
	Document DocName `json:"document"`
	Field    string  `json:"field"`
	Got      any     `json:"got"`
	Expected any     `json:"expected"`
}

// Message renders the delta as "document FIELD — got → expected".
func (d ParityDelta) Message() string {
	return fmt.Sprintf("%s %s — %s → %s", d.Document, d.Field, formatParityValue(d.Got), formatParityValue(d.Expected))
}

func formatParityValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "missing"
	case float64:
		return strconv.FormatFloat(x, 'f', 3, 64)
	case int:
		return strconv.FormatFloat(float64(x), 'f', 3, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// IntegrityReport is the pure output of a validation pass.
type IntegrityReport struct {
	Parity   map[string]bool  `json:"parity"`
	Deltas   []ParityDelta    `json:"parity_deltas"`
	Errors   []IntegrityIssue `json:"errors"`
	Warnings []IntegrityIssue `json:"warnings"`
}

// ParityOK reports whether every relation held.
func (r IntegrityReport) ParityOK() bool {
	for _, ok := range r.Parity {
		if !ok {
			return false
		}
	}
	return true
}

// Clean reports no integrity errors and full parity.
func (r IntegrityReport) Clean() bool {
	return len(r.Errors) == 0 && r.ParityOK()
}

// Merge appends the findings of other. Parity entries from other win.
func (r *IntegrityReport) Merge(other IntegrityReport) {
	if len(other.Parity) > 0 && r.Parity == nil {
		r.Parity = make(map[string]bool, len(other.Parity))
	}
	for k, v := range other.Parity {
		r.Parity[k] = v
	}
	r.Deltas = append(r.Deltas, other.Deltas...)
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ErrorStrings renders the integrity errors.
func (r IntegrityReport) ErrorStrings() []string { return issueStrings(r.Errors) }

// WarningStrings renders the integrity warnings.
func (r IntegrityReport) WarningStrings() []string { return issueStrings(r.Warnings) }

func issueStrings(in []IntegrityIssue) []string {
	out := make([]string, 0, len(in))
	for _, i := range in {
		out = append(out, i.String())
	}
	return out
}
