package validate

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a finding.
type Kind string

const (
	SchemaViolation      Kind = "schema"
	ContentRuleViolation Kind = "content"
)

// Severity decides whether a finding can fail a build. Warnings never do.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

var (
	ErrSchemaViolation      = errors.New("schema violation")
	ErrContentRuleViolation = errors.New("content rule violation")
)

// Finding is one problem found in a descriptor or in the archive around it.
type Finding struct {
	Kind     Kind     `yaml:"kind"`
	Severity Severity `yaml:"severity"`
	Message  string   `yaml:"message"`
	Path     string   `yaml:"path,omitempty"`
	Line     int      `yaml:"line,omitempty"`
}

func (f Finding) String() string {
	var b strings.Builder
	b.WriteString(f.Message)
	switch {
	case f.Path != "" && f.Line > 0:
		fmt.Fprintf(&b, " (%s, line %d)", f.Path, f.Line)
	case f.Path != "":
		fmt.Fprintf(&b, " (%s)", f.Path)
	case f.Line > 0:
		fmt.Fprintf(&b, " (line %d)", f.Line)
	}
	return b.String()
}

// Err returns the finding as an error wrapping the sentinel of its kind.
func (f Finding) Err() error {
	return findingError{f}
}

type findingError struct {
	Finding
}

func (e findingError) Error() string { return e.Finding.String() }

func (e findingError) Unwrap() error {
	if e.Kind == SchemaViolation {
		return ErrSchemaViolation
	}
	return ErrContentRuleViolation
}

// IsViolation reports whether the finding counts against the build.
func (f Finding) IsViolation() bool {
	return f.Severity != SeverityWarning
}

func schemaFinding(el *Element, format string, args ...any) Finding {
	f := Finding{Kind: SchemaViolation, Severity: SeverityError, Message: fmt.Sprintf(format, args...)}
	if el != nil {
		f.Path, f.Line = el.Path, el.Line
	}
	return f
}

func contentFinding(el *Element, format string, args ...any) Finding {
	f := Finding{Kind: ContentRuleViolation, Severity: SeverityError, Message: fmt.Sprintf(format, args...)}
	if el != nil {
		f.Path, f.Line = el.Path, el.Line
	}
	return f
}

func contentWarning(el *Element, format string, args ...any) Finding {
	f := contentFinding(el, format, args...)
	f.Severity = SeverityWarning
	return f
}

// Error is returned when validation is fatal and at least one violation was found.
// It carries every violation, not only the first.
type Error struct {
	Findings []Finding
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("plugin descriptor validation failed with %d violation(s): %s",
		len(e.Findings), strings.Join(parts, "; "))
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Findings))
	for _, f := range e.Findings {
		errs = append(errs, f.Err())
	}
	return errs
}
