package prd

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/prdflow/prdflow/internal/errors"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding from a validation pass.
type Issue struct {
	Severity Severity `json:"severity"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
}

// Summary tallies issues by severity.
type Summary struct {
	WarningCount int `json:"warning_count"`
	ErrorCount   int `json:"error_count"`
}

// Result is the outcome of validating a document. Valid is false exactly
// when at least one error-severity issue was found; warnings alone do not
// fail validation.
type Result struct {
	Valid   bool    `json:"valid"`
	Issues  []Issue `json:"issues,omitempty"`
	Summary Summary `json:"summary"`
}

// Err converts a failed result into the error that aborts session
// initialization, or nil for a valid result. The returned error carries the
// INVALID_INPUT code and the parse_prd operation tag, the combination the
// classifier treats as fatal.
func (r *Result) Err(path string) error {
	if r.Valid {
		return nil
	}

	first := ""
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			first = issue.Message
			break
		}
	}

	msg := fmt.Sprintf("PRD %s failed validation: %d error(s), %d warning(s)",
		path, r.Summary.ErrorCount, r.Summary.WarningCount)
	if first != "" {
		msg += ": " + first
	}
	return errors.NewValidationError(msg, nil).
		WithCode(errors.CodeInvalidInput).
		WithOperation(errors.OperationParsePRD).
		WithContext("path", path)
}

// Validator checks a loaded document before a session is created for it.
type Validator interface {
	Validate(ctx context.Context, doc *Document) (*Result, error)
}

// StructureValidator performs a heuristic shape check on the document's
// markdown: it flags an empty or non-UTF-8 document as an error and reports
// structural oddities (no title, no body, unclosed code fences, empty
// sections) as warnings.
type StructureValidator struct{}

// NewStructureValidator returns the default document validator.
func NewStructureValidator() *StructureValidator {
	return &StructureValidator{}
}

// Validate implements Validator. The returned error is non-nil only when
// the check itself could not run; validation findings are reported through
// the result.
func (v *StructureValidator) Validate(ctx context.Context, doc *Document) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{}

	if !utf8.Valid(doc.Content) {
		res.addIssue(SeverityError, 0, "document is not valid UTF-8")
		return res.finish(), nil
	}
	if len(strings.TrimSpace(string(doc.Content))) == 0 {
		res.addIssue(SeverityError, 0, "document is empty")
		return res.finish(), nil
	}

	lines := strings.Split(string(doc.Content), "\n")
	v.checkTitle(res, lines)
	v.checkBody(res, lines)
	v.checkFences(res, lines)
	v.checkSections(res, lines)

	return res.finish(), nil
}

// checkTitle warns when the first non-blank line is not a top-level heading.
func (v *StructureValidator) checkTitle(res *Result, lines []string) {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "# ") {
			res.addIssue(SeverityWarning, i+1, "document does not start with a title heading")
		}
		return
	}
}

// checkBody warns when the document holds nothing beyond its title.
func (v *StructureValidator) checkBody(res *Result, lines []string) {
	nonBlank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonBlank++
		}
	}
	if nonBlank < 2 {
		res.addIssue(SeverityWarning, 0, "document has no body beyond the title")
	}
}

// checkFences warns about an odd number of ``` markers.
func (v *StructureValidator) checkFences(res *Result, lines []string) {
	count, last := 0, 0
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			count++
			last = i + 1
		}
	}
	if count%2 != 0 {
		res.addIssue(SeverityWarning, last, "unclosed code fence")
	}
}

// checkSections warns about headings with no content before the next
// heading or end of document.
func (v *StructureValidator) checkSections(res *Result, lines []string) {
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || !strings.HasPrefix(trimmed, "#") {
			continue
		}

		empty := true
		for _, next := range lines[i+1:] {
			nt := strings.TrimSpace(next)
			if nt == "" {
				continue
			}
			if strings.HasPrefix(nt, "#") {
				break
			}
			empty = false
			break
		}
		if empty {
			res.addIssue(SeverityWarning, i+1, fmt.Sprintf("section %q has no content", trimmed))
		}
	}
}

func (r *Result) addIssue(sev Severity, line int, message string) {
	r.Issues = append(r.Issues, Issue{Severity: sev, Line: line, Message: message})
	switch sev {
	case SeverityError:
		r.Summary.ErrorCount++
	case SeverityWarning:
		r.Summary.WarningCount++
	}
}

func (r *Result) finish() *Result {
	r.Valid = r.Summary.ErrorCount == 0
	return r
}
