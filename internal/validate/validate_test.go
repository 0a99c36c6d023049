package validate

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/version"
)

const validDescriptor = `<?xml version="1.0" encoding="UTF-8"?>
<teamcity-plugin xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:noNamespaceSchemaLocation="urn:schemas-jetbrains-com:teamcity-plugin-v1-xml">
    <info>
        <name>example</name>
        <display-name>Example</display-name>
        <version>1.0</version>
        <description>Example plugin</description>
        <download-url>https://example.com</download-url>
        <email>dev@example.com</email>
        <vendor>
            <name>Example</name>
            <url>https://example.com</url>
        </vendor>
    </info>
    <deployment use-separate-classloader="true" allow-runtime-reload="true" node-responsibilities-aware="true"/>
    <parameters>
        <parameter name="key">value</parameter>
    </parameters>
    <dependencies>
        <tool name="maven"/>
        <plugin name="kotlin"/>
    </dependencies>
</teamcity-plugin>
`

func kinds(findings []Finding) []Kind {
	out := make([]Kind, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Kind)
	}
	return out
}

func TestCheckSchemaValid(t *testing.T) {
	t.Parallel()

	findings := CheckSchema(strings.NewReader(validDescriptor), version.Schema2020_1)
	if len(findings) != 0 {
		t.Fatalf("CheckSchema() = %v, want no findings", findings)
	}
}

func TestCheckSchemaVersionedAttributes(t *testing.T) {
	t.Parallel()

	findings := CheckSchema(strings.NewReader(validDescriptor), version.Schema2018_2)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Message, "node-responsibilities-aware")
	assert.Equal(t, "teamcity-plugin/deployment", findings[0].Path)
	assert.Equal(t, 15, findings[0].Line)

	findings = CheckSchema(strings.NewReader(validDescriptor), version.SchemaLegacy)
	assert.Len(t, findings, 2)
}

func TestCheckSchemaReportsEveryViolation(t *testing.T) {
	t.Parallel()

	doc := `<teamcity-plugin>
  <deployment use-separate-classloader="yes"/>
  <info>
    <display-name>x</display-name>
    <name>x</name>
    <unknown/>
  </info>
  <parameters><parameter>no name</parameter></parameters>
</teamcity-plugin>`

	findings := CheckSchema(strings.NewReader(doc), version.Schema2020_1)

	var messages []string
	for _, f := range findings {
		assert.Equal(t, SchemaViolation, f.Kind)
		messages = append(messages, f.Message)
	}
	joined := strings.Join(messages, "\n")
	for _, want := range []string{
		`must be a boolean, found "yes"`,
		"element <info> is out of order in <teamcity-plugin>",
		"element <name> is out of order in <info>",
		"element <unknown> is not allowed in <info>",
		"element <info> is missing required child <version>",
		`element <parameter> is missing required attribute "name"`,
	} {
		assert.Contains(t, joined, want)
	}
}

func TestCheckSchemaMalformed(t *testing.T) {
	t.Parallel()

	findings := CheckSchema(strings.NewReader("<teamcity-plugin>\n<info>\n</teamcity-plugin>"), version.Schema2020_1)
	require.Len(t, findings, 1)
	assert.Equal(t, SchemaViolation, findings[0].Kind)
	assert.Equal(t, 3, findings[0].Line)
}

func TestCheckSchemaWrongRoot(t *testing.T) {
	t.Parallel()

	findings := CheckSchema(strings.NewReader("<plugin/>"), version.SchemaLegacy)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Message, "root element must be <teamcity-plugin>")
}

func TestCheckContentMissingInfo(t *testing.T) {
	t.Parallel()

	root, err := Parse(strings.NewReader(`<teamcity-plugin><deployment/></teamcity-plugin>`))
	require.NoError(t, err)

	findings := CheckContent(Document{Descriptor: root}, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, ContentRuleViolation, findings[0].Kind)
	assert.Contains(t, findings[0].Message, "<info>")
	assert.True(t, errors.Is(findings[0].Err(), ErrContentRuleViolation))
}

func TestCheckContentRules(t *testing.T) {
	t.Parallel()

	root, err := Parse(strings.NewReader(`<teamcity-plugin>
  <info><name> </name><display-name>d</display-name><version>1</version><vendor><url>u</url></vendor></info>
  <parameters><parameter name="">v</parameter></parameters>
  <dependencies><plugin name=""/></dependencies>
</teamcity-plugin>`))
	require.NoError(t, err)

	var violations []string
	for _, f := range CheckContent(Document{Descriptor: root}, nil) {
		if f.IsViolation() {
			violations = append(violations, f.Message)
		}
	}
	assert.ElementsMatch(t, []string{
		"plugin descriptor <info> section must define a non-empty <name>",
		"plugin descriptor <vendor> must define a non-empty <name>",
		"plugin descriptor parameter has an empty name",
		"plugin descriptor plugin dependency has an empty name",
	}, violations)
}

func TestCheckContentBeans(t *testing.T) {
	t.Parallel()

	classes := ClassIndex{}
	classes.Add("com/example/ExampleController.class")
	classes.Add("com/example/Outer$Inner.class")
	classes.Add("META-INF/MANIFEST.MF")

	beans := BeanFile{Jar: "server/example.jar", Path: "META-INF/build-server-plugin-example.xml", Content: []byte(`<beans>
  <bean class="com.example.ExampleController"/>
  <bean class="com.example.Outer.Inner"/>
  <bean class=""/>
  <bean parent="base"/>
  <bean class="com.example.Missing"/>
</beans>`)}

	findings := CheckContent(Document{BeanFiles: []BeanFile{beans}, ServerJars: []string{"server/example.jar"}}, classes)
	require.Len(t, findings, 2)

	assert.Equal(t, "bean definition has an empty class name", findings[0].Message)
	assert.Equal(t, SeverityError, findings[0].Severity)
	assert.Equal(t, 4, findings[0].Line)
	assert.Equal(t, "server/example.jar!/META-INF/build-server-plugin-example.xml", findings[0].Path)

	assert.Contains(t, findings[1].Message, "com.example.Missing")
	assert.Equal(t, SeverityWarning, findings[1].Severity)
}

func TestCheckContentNoBeanFile(t *testing.T) {
	t.Parallel()

	findings := CheckContent(Document{ServerJars: []string{"server/a.jar"}}, ClassIndex{})
	require.Len(t, findings, 1)
	assert.False(t, findings[0].IsViolation())
}

type archiveEntry struct {
	name    string
	content []byte
}

func writeZip(t *testing.T, path string, entries ...archiveEntry) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func jarBytes(t *testing.T, entries ...archiveEntry) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x.jar")
	writeZip(t, path, entries...)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestValidateArchive(t *testing.T) {
	t.Parallel()

	jar := jarBytes(t,
		archiveEntry{"com/example/Controller.class", []byte{0xca, 0xfe}},
		archiveEntry{"META-INF/build-server-plugin-example.xml", []byte(`<beans><bean class="com.example.Controller"/></beans>`)},
	)
	archivePath := filepath.Join(t.TempDir(), "plugin.zip")
	writeZip(t, archivePath,
		archiveEntry{"server/example.jar", jar},
		archiveEntry{"teamcity-plugin.xml", []byte(validDescriptor)},
	)

	report, err := New(version.Schema2020_1, logging.Discard()).ValidateArchive(archivePath)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
	assert.Equal(t, archivePath, report.Archive)
}

func TestValidateArchiveFatalAndAdvisory(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "plugin.zip")
	writeZip(t, archivePath, archiveEntry{"teamcity-plugin.xml", []byte(`<teamcity-plugin/>`)})

	report, err := New(version.Schema2020_1, logging.Discard()).ValidateArchive(archivePath)
	var validationErr *Error
	require.ErrorAs(t, err, &validationErr)
	assert.ErrorIs(t, err, ErrContentRuleViolation)
	assert.ErrorIs(t, err, ErrSchemaViolation)
	assert.Len(t, validationErr.Findings, 2)
	assert.Contains(t, kinds(report.Findings), ContentRuleViolation)

	advisory := &Validator{Schema: version.Schema2020_1, Logger: logging.Discard()}
	report, err = advisory.ValidateArchive(archivePath)
	require.NoError(t, err)
	assert.Len(t, report.Violations(), 2)
	assert.Equal(t, 1, report.Count()[ContentRuleViolation])
}

func TestValidateArchiveWithoutDescriptor(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "plugin.zip")
	writeZip(t, archivePath, archiveEntry{"agent/agent.zip", []byte("x")})

	_, err := New(version.SchemaLegacy, logging.Discard()).ValidateArchive(archivePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not contain teamcity-plugin.xml")
}

func TestValidateDescriptor(t *testing.T) {
	t.Parallel()

	report, err := New(version.Schema2020_1, logging.Discard()).ValidateDescriptor(strings.NewReader(validDescriptor))
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
}

func TestReportWriteYAML(t *testing.T) {
	t.Parallel()

	report := Report{
		Archive: "build/distributions/plugin.zip",
		Schema:  version.Schema2020_1.String(),
		Findings: []Finding{
			{Kind: ContentRuleViolation, Severity: SeverityError, Message: "missing <info>", Path: "teamcity-plugin", Line: 1},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteYAML(&buf))

	var decoded Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, report, decoded)
	assert.Contains(t, buf.String(), "kind: content")
}
