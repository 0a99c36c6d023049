package validate

import (
	"bytes"
	"strings"
)

// BeanFile is a Spring bean definition file found in a server jar.
type BeanFile struct {
	Jar     string
	Path    string
	Content []byte
}

// ClassIndex holds the fully qualified names of the classes packaged in the
// server jars.
type ClassIndex map[string]struct{}

// Add records a class by its jar entry name, e.g. "com/example/Foo.class".
func (c ClassIndex) Add(entry string) {
	if !strings.HasSuffix(entry, ".class") {
		return
	}
	name := strings.TrimSuffix(entry, ".class")
	c[strings.ReplaceAll(name, "/", ".")] = struct{}{}
}

// Has reports whether className is packaged. Nested classes may be written
// with either '$' or '.'.
func (c ClassIndex) Has(className string) bool {
	if _, ok := c[className]; ok {
		return true
	}
	for i := strings.LastIndex(className, "."); i > 0; i = strings.LastIndex(className[:i], ".") {
		nested := className[:i] + "$" + strings.ReplaceAll(className[i+1:], ".", "$")
		if _, ok := c[nested]; ok {
			return true
		}
	}
	return false
}

// Document is everything the content rules look at.
type Document struct {
	Descriptor *Element
	BeanFiles  []BeanFile
	// ServerJars lists the jars found under server/ in the archive.
	ServerJars []string
}

// CheckContent applies the semantic rules that the schema cannot express. A nil
// classes index skips the class existence check. Bean classes missing from the
// server jars are only warnings since they may come from the server itself.
func CheckContent(doc Document, classes ClassIndex) []Finding {
	var findings []Finding

	root := doc.Descriptor
	if root != nil && root.Name == rootElement {
		findings = append(findings, checkInfo(root)...)
		findings = append(findings, checkNamedEntries(root)...)
	}
	findings = append(findings, checkBeans(doc, classes)...)
	return findings
}

func checkInfo(root *Element) []Finding {
	info := root.Child("info")
	if info == nil {
		return []Finding{contentFinding(root, "plugin descriptor is missing the required <info> section")}
	}

	var findings []Finding
	for _, name := range []string{"name", "display-name", "version"} {
		if info.ChildText(name) == "" {
			findings = append(findings, contentFinding(info, "plugin descriptor <info> section must define a non-empty <%s>", name))
		}
	}

	if info.ChildText("description") == "" {
		findings = append(findings, contentWarning(info, "plugin descriptor does not define a description"))
	}
	if info.ChildText("download-url") == "" {
		findings = append(findings, contentWarning(info, "plugin descriptor does not define a download URL"))
	}
	if info.ChildText("email") == "" {
		findings = append(findings, contentWarning(info, "plugin descriptor does not define an email"))
	}

	vendor := info.Child("vendor")
	switch {
	case vendor == nil:
		findings = append(findings, contentWarning(info, "plugin descriptor does not define a vendor"))
	case vendor.ChildText("name") == "":
		findings = append(findings, contentFinding(vendor, "plugin descriptor <vendor> must define a non-empty <name>"))
	case vendor.ChildText("url") == "":
		findings = append(findings, contentWarning(vendor, "plugin descriptor does not define a vendor URL"))
	}
	return findings
}

func checkNamedEntries(root *Element) []Finding {
	var findings []Finding
	if params := root.Child("parameters"); params != nil {
		for _, param := range params.Children {
			if name, _ := param.Attr("name"); strings.TrimSpace(name) == "" {
				findings = append(findings, contentFinding(param, "plugin descriptor parameter has an empty name"))
			}
		}
	}
	if deps := root.Child("dependencies"); deps != nil {
		for _, dep := range deps.Children {
			if name, _ := dep.Attr("name"); strings.TrimSpace(name) == "" {
				findings = append(findings, contentFinding(dep, "plugin descriptor %s dependency has an empty name", dep.Name))
			}
		}
	}
	return findings
}

func checkBeans(doc Document, classes ClassIndex) []Finding {
	if len(doc.ServerJars) > 0 && len(doc.BeanFiles) == 0 {
		return []Finding{{
			Kind:     ContentRuleViolation,
			Severity: SeverityWarning,
			Message:  "no Spring bean definition file found in the server jars",
			Path:     "server",
		}}
	}

	var findings []Finding
	for _, file := range doc.BeanFiles {
		location := file.Jar + "!/" + file.Path

		root, err := Parse(bytes.NewReader(file.Content))
		if err != nil {
			findings = append(findings, Finding{
				Kind:     ContentRuleViolation,
				Severity: SeverityError,
				Message:  "bean definition file is not well-formed XML: " + err.Error(),
				Path:     location,
			})
			continue
		}

		root.Walk(func(el *Element) {
			if el.Name != "bean" {
				return
			}
			className, hasClass := el.Attr("class")
			className = strings.TrimSpace(className)
			if !hasClass {
				if _, ok := el.Attr("parent"); ok {
					return
				}
				if _, ok := el.Attr("factory-bean"); ok {
					return
				}
			}
			if className == "" {
				findings = append(findings, Finding{
					Kind:     ContentRuleViolation,
					Severity: SeverityError,
					Message:  "bean definition has an empty class name",
					Path:     location,
					Line:     el.Line,
				})
				return
			}
			if classes != nil && !classes.Has(className) {
				findings = append(findings, Finding{
					Kind:     ContentRuleViolation,
					Severity: SeverityWarning,
					Message:  "bean class " + className + " is not packaged in the server jars",
					Path:     location,
					Line:     el.Line,
				})
			}
		})
	}
	return findings
}
