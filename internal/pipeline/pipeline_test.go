package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/tcbuild/internal/archive"
	"github.com/cochaviz/tcbuild/internal/artifacts"
	"github.com/cochaviz/tcbuild/internal/command"
	"github.com/cochaviz/tcbuild/internal/descriptor"
	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/internal/marketplace"
	"github.com/cochaviz/tcbuild/internal/metrics"
	"github.com/cochaviz/tcbuild/internal/validate"
	"github.com/cochaviz/tcbuild/version"
)

const descriptorTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<teamcity-plugin>
  <info>
    <name>example</name>
    <display-name>Example</display-name>
    <version>${version}</version>
    <description>Example plugin</description>
    <download-url>https://example.com</download-url>
    <email>dev@example.com</email>
    <vendor>
      <name>Example</name>
      <url>https://example.com</url>
    </vendor>
  </info>
  <deployment use-separate-classloader="true"/>
</teamcity-plugin>
`

// incompleteTemplate has no <version> in <info>.
const incompleteTemplate = `<teamcity-plugin>
  <info>
    <name>example</name>
    <display-name>Example</display-name>
  </info>
</teamcity-plugin>
`

// signingRecorder records commands and, like the real signer, writes the
// file named by -out.
type signingRecorder struct {
	command.Recorder
}

func (r *signingRecorder) Run(ctx context.Context, c command.Command) (command.Result, error) {
	result, err := r.Recorder.Run(ctx, c)
	if err != nil {
		return result, err
	}
	for i, arg := range c.Args {
		if arg == "-out" && i+1 < len(c.Args) {
			if writeErr := os.WriteFile(c.Args[i+1], []byte("signed"), 0o644); writeErr != nil {
				return result, writeErr
			}
		}
	}
	return result, nil
}

type fixture struct {
	dir      string
	runner   *signingRecorder
	metrics  *metrics.Recorder
	manifest *artifacts.ManifestStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{
		dir:      dir,
		runner:   &signingRecorder{},
		metrics:  metrics.NewRecorder(),
		manifest: &artifacts.ManifestStore{Path: filepath.Join(dir, "build", "manifest.json")},
	}
}

func (f *fixture) plugin(t *testing.T, template string) *ServerPlugin {
	t.Helper()
	logger := logging.Discard()
	v := version.MustParse("2020.1")

	var source descriptor.Source
	output := filepath.Join(f.dir, "build", "descriptor", "server", archive.DescriptorName)
	if template != "" {
		path := filepath.Join(f.dir, "teamcity-plugin.xml")
		require.NoError(t, os.WriteFile(path, []byte(template), 0o644))
		source = descriptor.Template{Path: path, Tokens: map[string]string{"version": "1.2.0"}}
	}

	jar := filepath.Join(f.dir, "example.jar")
	require.NoError(t, os.WriteFile(jar, []byte("not really a jar"), 0o644))

	tool := marketplace.Tool{Java: "java", Classpath: []string{"/libs/tools.jar"}, SignerMain: "com.example.Sign", PublisherMain: "com.example.Upload"}

	spec := archive.Spec{
		Name:        "example.zip",
		Destination: filepath.Join(f.dir, "build", "distributions"),
		Agent:       []string{jar},
	}
	if source != nil {
		spec.Descriptor = output
	}

	return &ServerPlugin{
		Logger:     logger,
		Descriptor: &descriptor.Builder{Source: source, Destination: output, Version: v, Logger: logger},
		Assembler:  &archive.Assembler{Logger: logger},
		Archive:    spec,
		Validator:  validate.New(version.SchemaFor(v), logger),
		Signer:     &marketplace.Signer{Tool: tool, Runner: f.runner, WorkDir: f.dir, Logger: logger},
		Signing:    marketplace.NoSigning{},
		Publisher:  &marketplace.Publisher{Tool: tool, Runner: f.runner, Logger: logger},
		Publishing: marketplace.NoPublishing{},
		Metrics:    f.metrics,
		Manifest:   f.manifest,
	}
}

func TestRunBuildsValidatesSignsAndPublishes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.plugin(t, descriptorTemplate)
	p.Signing = marketplace.Sign{CertificateChain: "chain", PrivateKey: "key", Password: "pw"}
	p.Publishing = marketplace.Publish{Channels: []string{"Beta"}, Token: "tok"}
	p.ReportPath = filepath.Join(f.dir, "build", "validation.yaml")

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, result.BuildID)
	assert.False(t, result.Skipped())
	assert.True(t, result.Validated)
	assert.Empty(t, result.Report.Violations())
	assert.Equal(t, filepath.Join(f.dir, "build", "distributions", "example.zip"), result.Archive.Path)
	assert.Equal(t, filepath.Join(f.dir, "build", "distributions", "example-signed.zip"), result.Signed)
	assert.True(t, result.Published)
	assert.Equal(t, result.Signed, result.Distributable())

	content, err := os.ReadFile(result.Descriptor.Path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "<version>1.2.0</version>")

	require.Len(t, f.runner.Commands, 2)
	assert.Contains(t, f.runner.Commands[0].Args, "sign")
	upload := f.runner.Commands[1]
	assert.Contains(t, upload.Args, "upload")
	assert.Contains(t, upload.Args, result.Signed)

	_, err = os.Stat(p.ReportPath)
	assert.NoError(t, err)

	records, err := f.manifest.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, result.BuildID, records[0].ID)
	assert.Equal(t, artifacts.BuildStatusSucceeded, records[0].Status)
	kinds := map[artifacts.ArtifactKind]bool{}
	for _, a := range records[0].Artifacts {
		kinds[a.Kind] = true
	}
	assert.Equal(t, map[artifacts.ArtifactKind]bool{
		artifacts.DescriptorArtifact:    true,
		artifacts.ArchiveArtifact:       true,
		artifacts.SignedArchiveArtifact: true,
		artifacts.ReportArtifact:        true,
	}, kinds)

	steps, err := testutil.GatherAndCount(f.metrics.Registry(), "tcbuild_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 5, steps)
}

func TestRunWithoutSigningPublishesArchive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.plugin(t, descriptorTemplate)
	p.Publishing = marketplace.Publish{Token: "tok"}

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Signed)
	assert.Equal(t, result.Archive.Path, result.Distributable())

	require.Len(t, f.runner.Commands, 1)
	assert.Contains(t, f.runner.Last().Args, result.Archive.Path)
	assert.Contains(t, f.runner.Last().Args, marketplace.DefaultChannel)
}

func TestRunSkipsWithoutDescriptor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.plugin(t, "")
	p.Signing = marketplace.Sign{CertificateChain: "chain", PrivateKey: "key", Password: "pw"}

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped())
	assert.False(t, result.Validated)
	assert.Empty(t, f.runner.Commands)

	_, err = os.Stat(filepath.Join(f.dir, "build", "distributions", "example.zip"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	records, err := f.manifest.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, artifacts.BuildStatusSkipped, records[0].Status)
	assert.Empty(t, records[0].Artifacts)
}

func TestRunFailsOnViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.plugin(t, incompleteTemplate)
	p.Publishing = marketplace.Publish{Token: "tok"}

	result, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, StepValidate)

	var validationErr *validate.Error
	require.True(t, errors.As(err, &validationErr))
	assert.NotEmpty(t, validationErr.Findings)
	assert.False(t, result.Published)
	assert.Empty(t, f.runner.Commands)

	records, err := f.manifest.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, artifacts.BuildStatusFailed, records[0].Status)
	assert.Contains(t, records[0].Error, "validation failed")

	findings, err := testutil.GatherAndCount(f.metrics.Registry(), "tcbuild_validation_findings_total")
	require.NoError(t, err)
	assert.Positive(t, findings)
}

func TestRunAdvisoryValidationContinues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.plugin(t, incompleteTemplate)
	p.Validator.FailOnViolation = false
	p.Publishing = marketplace.Publish{Token: "tok"}

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Report.Violations())
	assert.True(t, result.Published)
}

func TestRunSignFailureStopsPublishing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.Respond("java -cp", command.Result{ExitCode: 1, Output: "bad key"})
	p := f.plugin(t, descriptorTemplate)
	p.Signing = marketplace.Sign{CertificateChain: "chain", PrivateKey: "key", Password: "pw"}
	p.Publishing = marketplace.Publish{Token: "tok"}

	result, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, StepSign)
	assert.NotContains(t, err.Error(), "pw")
	assert.False(t, result.Published)
	assert.Len(t, f.runner.Commands, 1)
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.plugin(t, descriptorTemplate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(filepath.Join(f.dir, "build", "distributions", "example.zip"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestPackageOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.plugin(t, descriptorTemplate)

	result, err := p.Package(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Contains(t, result.Entries, archive.DescriptorName)
	assert.Contains(t, result.Entries, "agent/example.jar")

	records, err := f.manifest.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRunLogsToDefaultLoggerWhenUnset(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	f := newFixture(t)
	p := f.plugin(t, "")
	p.Logger = nil

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "server plugin build skipped")
}
