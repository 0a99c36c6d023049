package validate

import (
	"errors"
	"io"
	"strings"

	"github.com/cochaviz/tcbuild/version"
)

const rootElement = "teamcity-plugin"

type childRule struct {
	name     string
	required bool
	repeated bool
}

type attrRule struct {
	required bool
	boolean  bool
}

type elementRule struct {
	// children lists the allowed child elements in document order.
	children []childRule
	// unordered allows children in any order.
	unordered bool
	attrs     map[string]attrRule
	text      bool
}

// schemaRules returns the element rules of schema keyed by element path.
func schemaRules(schema version.Schema) map[string]elementRule {
	deployment := map[string]attrRule{
		"use-separate-classloader": {boolean: true},
	}
	if schema == version.Schema2018_2 || schema == version.Schema2020_1 {
		deployment["allow-runtime-reload"] = attrRule{boolean: true}
	}
	if schema == version.Schema2020_1 {
		deployment["node-responsibilities-aware"] = attrRule{boolean: true}
	}

	named := map[string]attrRule{"name": {required: true}}

	return map[string]elementRule{
		rootElement: {children: []childRule{
			{name: "info", required: true},
			{name: "requirements"},
			{name: "deployment"},
			{name: "parameters"},
			{name: "dependencies"},
		}},
		rootElement + "/info": {children: []childRule{
			{name: "name", required: true},
			{name: "display-name", required: true},
			{name: "version", required: true},
			{name: "description"},
			{name: "download-url"},
			{name: "email"},
			{name: "vendor"},
		}},
		rootElement + "/info/name":         {text: true},
		rootElement + "/info/display-name": {text: true},
		rootElement + "/info/version":      {text: true},
		rootElement + "/info/description":  {text: true},
		rootElement + "/info/download-url": {text: true},
		rootElement + "/info/email":        {text: true},
		rootElement + "/info/vendor": {children: []childRule{
			{name: "name", required: true},
			{name: "url"},
			{name: "logo"},
		}},
		rootElement + "/info/vendor/name": {text: true},
		rootElement + "/info/vendor/url":  {text: true},
		rootElement + "/info/vendor/logo": {text: true},
		rootElement + "/requirements": {attrs: map[string]attrRule{
			"min-build": {},
			"max-build": {},
		}},
		rootElement + "/deployment": {attrs: deployment},
		rootElement + "/parameters": {children: []childRule{
			{name: "parameter", repeated: true},
		}},
		rootElement + "/parameters/parameter": {attrs: named, text: true},
		rootElement + "/dependencies": {unordered: true, children: []childRule{
			{name: "plugin", repeated: true},
			{name: "tool", repeated: true},
		}},
		rootElement + "/dependencies/plugin": {attrs: named},
		rootElement + "/dependencies/tool":   {attrs: named},
	}
}

// CheckSchema validates the descriptor read from r against schema and returns
// every violation found.
func CheckSchema(r io.Reader, schema version.Schema) []Finding {
	root, err := Parse(r)
	if err != nil {
		f := Finding{Kind: SchemaViolation, Severity: SeverityError, Message: "descriptor is not well-formed XML: " + err.Error()}
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			f.Line = parseErr.Line
			f.Message = "descriptor is not well-formed XML: " + parseErr.Err.Error()
		}
		return []Finding{f}
	}
	return CheckElementSchema(root, schema)
}

// CheckElementSchema validates an already parsed descriptor.
func CheckElementSchema(root *Element, schema version.Schema) []Finding {
	if root.Name != rootElement {
		return []Finding{schemaFinding(root, "root element must be <%s>, found <%s>", rootElement, root.Name)}
	}
	rules := schemaRules(schema)
	var findings []Finding
	checkElement(root, rules, &findings)
	return findings
}

func checkElement(el *Element, rules map[string]elementRule, findings *[]Finding) {
	rule, ok := rules[el.Path]
	if !ok {
		// reported by the parent
		return
	}

	checkAttributes(el, rule, findings)

	if !rule.text && strings.TrimSpace(el.Text) != "" {
		*findings = append(*findings, schemaFinding(el, "element <%s> must not contain text", el.Name))
	}

	position := 0
	seen := map[string]bool{}
	for _, child := range el.Children {
		index := indexOf(rule.children, child.Name)
		if index < 0 {
			*findings = append(*findings, schemaFinding(child, "element <%s> is not allowed in <%s>", child.Name, el.Name))
			continue
		}
		cr := rule.children[index]
		switch {
		case seen[child.Name] && !cr.repeated:
			*findings = append(*findings, schemaFinding(child, "element <%s> may appear only once in <%s>", child.Name, el.Name))
		case !rule.unordered && index < position:
			*findings = append(*findings, schemaFinding(child, "element <%s> is out of order in <%s>, expected before <%s>",
				child.Name, el.Name, rule.children[position].name))
		}
		if index > position {
			position = index
		}
		seen[child.Name] = true
		checkElement(child, rules, findings)
	}

	for _, cr := range rule.children {
		if cr.required && !seen[cr.name] {
			*findings = append(*findings, schemaFinding(el, "element <%s> is missing required child <%s>", el.Name, cr.name))
		}
	}
}

func checkAttributes(el *Element, rule elementRule, findings *[]Finding) {
	present := map[string]bool{}
	for _, attr := range el.Attrs {
		if attr.Name.Space != "" || attr.Name.Local == "xmlns" {
			continue
		}
		name := attr.Name.Local
		present[name] = true

		ar, ok := rule.attrs[name]
		if !ok {
			*findings = append(*findings, schemaFinding(el, "attribute %q is not allowed on <%s>", name, el.Name))
			continue
		}
		if ar.boolean && !isBoolean(attr.Value) {
			*findings = append(*findings, schemaFinding(el, "attribute %q on <%s> must be a boolean, found %q", name, el.Name, attr.Value))
		}
	}
	for name, ar := range rule.attrs {
		if ar.required && !present[name] {
			*findings = append(*findings, schemaFinding(el, "element <%s> is missing required attribute %q", el.Name, name))
		}
	}
}

func indexOf(children []childRule, name string) int {
	for i, cr := range children {
		if cr.name == name {
			return i
		}
	}
	return -1
}

func isBoolean(value string) bool {
	switch strings.TrimSpace(value) {
	case "true", "false", "1", "0":
		return true
	}
	return false
}
