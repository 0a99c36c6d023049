package validate

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/version"
)

const descriptorEntry = "teamcity-plugin.xml"

// Report collects the findings of one validation run.
type Report struct {
	Archive  string    `yaml:"archive"`
	Schema   string    `yaml:"schema"`
	Findings []Finding `yaml:"findings"`
}

// Violations returns the findings that count against the build.
func (r Report) Violations() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.IsViolation() {
			out = append(out, f)
		}
	}
	return out
}

// Count returns the number of findings per kind.
func (r Report) Count() map[Kind]int {
	counts := map[Kind]int{}
	for _, f := range r.Findings {
		counts[f.Kind]++
	}
	return counts
}

// WriteYAML writes the report as a YAML document.
func (r Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode validation report: %w", err)
	}
	return enc.Close()
}

// Validator checks an assembled plugin archive.
type Validator struct {
	Schema version.Schema
	// FailOnViolation turns any violation into an error.
	FailOnViolation bool
	Logger          *slog.Logger
}

// New returns a Validator for schema that fails on violations.
func New(schema version.Schema, logger *slog.Logger) *Validator {
	return &Validator{Schema: schema, FailOnViolation: true, Logger: logger}
}

func (v *Validator) logger() *slog.Logger {
	return logging.Ensure(v.Logger)
}

// ValidateArchive runs the schema and content checks against the descriptor and
// server jars inside archivePath. The report is always returned; the error is a
// *Error when FailOnViolation is set and violations were found.
func (v *Validator) ValidateArchive(archivePath string) (Report, error) {
	report := Report{Archive: archivePath, Schema: v.Schema.String()}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return report, fmt.Errorf("open plugin archive: %w", err)
	}
	defer reader.Close()

	doc, descriptor, err := readArchive(&reader.Reader)
	if err != nil {
		return report, err
	}

	classes := ClassIndex{}
	for _, jar := range doc.ServerJars {
		if err := indexJar(&reader.Reader, jar, classes, &doc); err != nil {
			return report, err
		}
	}

	if descriptor == nil {
		report.Findings = append(report.Findings, Finding{
			Kind:     ContentRuleViolation,
			Severity: SeverityError,
			Message:  "plugin archive does not contain " + descriptorEntry,
		})
	} else {
		root, parseErr := Parse(bytes.NewReader(descriptor))
		if parseErr != nil {
			report.Findings = append(report.Findings, CheckSchema(bytes.NewReader(descriptor), v.Schema)...)
		} else {
			doc.Descriptor = root
			report.Findings = append(report.Findings, CheckElementSchema(root, v.Schema)...)
		}
	}
	report.Findings = append(report.Findings, CheckContent(doc, classes)...)

	return report, v.conclude(report)
}

// ValidateDescriptor runs both checks against a bare descriptor with no
// archive around it.
func (v *Validator) ValidateDescriptor(r io.Reader) (Report, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Report{}, fmt.Errorf("read descriptor: %w", err)
	}
	report := Report{Schema: v.Schema.String()}

	root, parseErr := Parse(bytes.NewReader(content))
	if parseErr != nil {
		report.Findings = CheckSchema(bytes.NewReader(content), v.Schema)
		return report, v.conclude(report)
	}
	report.Findings = append(report.Findings, CheckElementSchema(root, v.Schema)...)
	report.Findings = append(report.Findings, CheckContent(Document{Descriptor: root}, nil)...)
	return report, v.conclude(report)
}

func (v *Validator) conclude(report Report) error {
	logger := v.logger()
	for _, f := range report.Findings {
		attrs := []any{"kind", string(f.Kind)}
		if f.Path != "" {
			attrs = append(attrs, "path", f.Path)
		}
		if f.Line > 0 {
			attrs = append(attrs, "line", f.Line)
		}
		if f.IsViolation() && v.FailOnViolation {
			logger.Error(f.Message, attrs...)
		} else {
			logger.Warn(f.Message, attrs...)
		}
	}

	violations := report.Violations()
	if len(violations) == 0 {
		logger.Info("plugin descriptor is valid", "schema", report.Schema)
		return nil
	}
	if !v.FailOnViolation {
		logger.Warn("plugin descriptor has violations, continuing", "violations", len(violations))
		return nil
	}
	return &Error{Findings: violations}
}

func readArchive(r *zip.Reader) (Document, []byte, error) {
	var (
		doc        Document
		descriptor []byte
	)
	for _, f := range r.File {
		switch {
		case f.Name == descriptorEntry:
			content, err := readEntry(f)
			if err != nil {
				return doc, nil, err
			}
			descriptor = content
		case strings.HasPrefix(f.Name, "server/") && strings.HasSuffix(f.Name, ".jar"):
			doc.ServerJars = append(doc.ServerJars, f.Name)
		}
	}
	return doc, descriptor, nil
}

func indexJar(r *zip.Reader, name string, classes ClassIndex, doc *Document) error {
	f, err := r.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	jar, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return fmt.Errorf("read jar %s: %w", name, err)
	}
	for _, entry := range jar.File {
		classes.Add(entry.Name)
		if isBeanFile(entry.Name) {
			data, err := readEntry(entry)
			if err != nil {
				return err
			}
			doc.BeanFiles = append(doc.BeanFiles, BeanFile{Jar: name, Path: entry.Name, Content: data})
		}
	}
	return nil
}

func isBeanFile(name string) bool {
	dir, file := path.Split(name)
	return dir == "META-INF/" && strings.HasPrefix(file, "build-server-plugin") && strings.HasSuffix(file, ".xml")
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}
