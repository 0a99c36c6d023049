package descriptor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/version"
)

// ErrUnsupportedField is returned in strict mode for a field the target version
// does not support.
var ErrUnsupportedField = errors.New("unsupported descriptor field")

// UnsupportedFieldError names the field and the minimum version it needs.
type UnsupportedFieldError struct {
	Field    string
	Requires version.Version
	Target   version.Version
}

func (e *UnsupportedFieldError) Error() string {
	return fmt.Sprintf("%s: %q requires TeamCity %s or later, target is %s", ErrUnsupportedField, e.Field, e.Requires, e.Target)
}

func (e *UnsupportedFieldError) Unwrap() error {
	return ErrUnsupportedField
}

// Generator renders a ServerDescriptor for a target TeamCity version.
//
// Fields the target version does not support are omitted with a warning. With
// Strict set, the first such field fails generation instead.
type Generator struct {
	Strict bool
	Logger *slog.Logger
}

type fieldGate struct {
	field    string
	requires version.Version
	present  func(d ServerDescriptor) bool
	clear    func(d *ServerDescriptor)
}

var fieldGates = []fieldGate{
	{
		field:    "allowRuntimeReload",
		requires: version.V2018_2,
		present:  func(d ServerDescriptor) bool { return d.AllowRuntimeReload != nil },
		clear:    func(d *ServerDescriptor) { d.AllowRuntimeReload = nil },
	},
	{
		field:    "nodeResponsibilitiesAware",
		requires: version.V2020_1,
		present:  func(d ServerDescriptor) bool { return d.NodeResponsibilitiesAware != nil },
		clear:    func(d *ServerDescriptor) { d.NodeResponsibilitiesAware = nil },
	},
	{
		field:    "dependencies",
		requires: version.V9_0,
		present:  func(d ServerDescriptor) bool { return !d.Dependencies.IsEmpty() },
		clear:    func(d *ServerDescriptor) { d.Dependencies = Dependencies{} },
	},
}

func (g *Generator) logger() *slog.Logger {
	if g != nil && g.Logger != nil {
		return g.Logger
	}
	return logging.Ensure(nil)
}

// Generate returns the descriptor XML for d targeting TeamCity v.
func (g *Generator) Generate(d ServerDescriptor, v version.Version) ([]byte, error) {
	for _, gate := range fieldGates {
		if !gate.present(d) || v.AtLeast(gate.requires) {
			continue
		}
		if g != nil && g.Strict {
			return nil, &UnsupportedFieldError{Field: gate.field, Requires: gate.requires, Target: v}
		}
		g.logger().Warn("omitting descriptor field unsupported by target version",
			"field", gate.field,
			"requires", gate.requires.String(),
			"target", v.String(),
		)
		gate.clear(&d)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "    ")
	if err := enc.Encode(toXML(d)); err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteFile generates the descriptor and writes it to path.
func (g *Generator) WriteFile(path string, d ServerDescriptor, v version.Version) error {
	content, err := g.Generate(d, v)
	if err != nil {
		return err
	}
	return writeFile(path, content)
}

type xmlPlugin struct {
	XMLName        xml.Name         `xml:"teamcity-plugin"`
	XSI            string           `xml:"xmlns:xsi,attr"`
	SchemaLocation string           `xml:"xsi:noNamespaceSchemaLocation,attr"`
	Info           xmlInfo          `xml:"info"`
	Requirements   *xmlRequirements `xml:"requirements,omitempty"`
	Deployment     *xmlDeployment   `xml:"deployment,omitempty"`
	Parameters     *xmlParameters   `xml:"parameters,omitempty"`
	Dependencies   *xmlDependencies `xml:"dependencies,omitempty"`
}

type xmlInfo struct {
	Name        string     `xml:"name"`
	DisplayName string     `xml:"display-name"`
	Version     string     `xml:"version"`
	Description string     `xml:"description,omitempty"`
	DownloadURL string     `xml:"download-url,omitempty"`
	Email       string     `xml:"email,omitempty"`
	Vendor      *xmlVendor `xml:"vendor,omitempty"`
}

type xmlVendor struct {
	Name string `xml:"name"`
	URL  string `xml:"url,omitempty"`
	Logo string `xml:"logo,omitempty"`
}

type xmlRequirements struct {
	MinBuild string `xml:"min-build,attr,omitempty"`
	MaxBuild string `xml:"max-build,attr,omitempty"`
}

type xmlDeployment struct {
	UseSeparateClassloader    string `xml:"use-separate-classloader,attr,omitempty"`
	AllowRuntimeReload        string `xml:"allow-runtime-reload,attr,omitempty"`
	NodeResponsibilitiesAware string `xml:"node-responsibilities-aware,attr,omitempty"`
}

type xmlParameters struct {
	Parameters []xmlParameter `xml:"parameter"`
}

type xmlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlDependencies struct {
	Plugins []xmlNamed `xml:"plugin"`
	Tools   []xmlNamed `xml:"tool"`
}

type xmlNamed struct {
	Name string `xml:"name,attr"`
}

func toXML(d ServerDescriptor) xmlPlugin {
	plugin := xmlPlugin{
		XSI:            "http://www.w3.org/2001/XMLSchema-instance",
		SchemaLocation: "urn:schemas-jetbrains-com:teamcity-plugin-v1-xml",
		Info: xmlInfo{
			Name:        d.Name,
			DisplayName: d.DisplayName,
			Version:     d.Version,
			Description: d.Description,
			DownloadURL: d.DownloadURL,
			Email:       d.Email,
		},
	}

	if d.VendorName != "" || d.VendorURL != "" || d.VendorLogo != "" {
		plugin.Info.Vendor = &xmlVendor{Name: d.VendorName, URL: d.VendorURL, Logo: d.VendorLogo}
	}

	if d.MinimumBuild != "" || d.MaximumBuild != "" {
		plugin.Requirements = &xmlRequirements{MinBuild: d.MinimumBuild, MaxBuild: d.MaximumBuild}
	}

	deployment := xmlDeployment{
		UseSeparateClassloader:    formatBool(d.UseSeparateClassloader),
		AllowRuntimeReload:        formatBool(d.AllowRuntimeReload),
		NodeResponsibilitiesAware: formatBool(d.NodeResponsibilitiesAware),
	}
	if deployment != (xmlDeployment{}) {
		plugin.Deployment = &deployment
	}

	if len(d.Parameters) > 0 {
		params := &xmlParameters{}
		for _, p := range d.Parameters {
			params.Parameters = append(params.Parameters, xmlParameter{Name: p.Name, Value: p.Value})
		}
		plugin.Parameters = params
	}

	if !d.Dependencies.IsEmpty() {
		deps := &xmlDependencies{}
		for _, name := range d.Dependencies.Plugins {
			deps.Plugins = append(deps.Plugins, xmlNamed{Name: name})
		}
		for _, name := range d.Dependencies.Tools {
			deps.Tools = append(deps.Tools, xmlNamed{Name: name})
		}
		plugin.Dependencies = deps
	}

	return plugin
}

func formatBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
